package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{850, TierExceptional},
		{800, TierExceptional},
		{799.99, TierVeryGood},
		{740, TierVeryGood},
		{739, TierGood},
		{670, TierGood},
		{669.5, TierFair},
		{600, TierFair},
		{580, TierFair},
		{579.99, TierPoor},
		{300, TierPoor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierFor(tc.score), "score %v", tc.score)
	}
}
