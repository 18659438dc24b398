package jsoncodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	assert.NotNil(t, encoding.GetCodec(Name))
}

func TestRoundTrip(t *testing.T) {
	type msg struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	c := Codec{}
	data, err := c.Marshal(msg{A: "x", B: 2})
	require.NoError(t, err)

	var out msg
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, msg{A: "x", B: 2}, out)
}
