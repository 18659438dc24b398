package session

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

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromExisting(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	return NewStore(client, time.Hour, zap.NewNop()), mr
}

func TestResolveMintsOnce(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, "twitch:foo:1", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)

	second, err := store.Resolve(ctx, "twitch:foo:1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID, "same pair resolves the same session")

	other, err := store.Resolve(ctx, "twitch:foo:1", "u2")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, other.SessionID)
}

func TestResolveAfterExpiry(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, "twitch:foo:1", "u1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	second, err := store.Resolve(ctx, "twitch:foo:1", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID, "expired session mints a new id")
}

func TestGetMissing(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Get(context.Background(), "twitch:foo:1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
