package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromExisting(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	return New(client, "router", zap.NewNop()), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "u1:help", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "u1:help", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "third call in window must be limited")
}

func TestSubjectsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "u1:help", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "u2:help", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFallbackWhenRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	mr.Close()

	ok, err := l.Allow(ctx, "u1:help", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "u1:help", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZeroLimitAlwaysDenies(t *testing.T) {
	l, _ := newTestLimiter(t)
	ok, err := l.Allow(context.Background(), "u1:help", 0, time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)
}
