package router

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waddlebot/waddlebot-core/internal/events"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

type fakeRoleSource struct {
	roles map[string]string
	err   error
	calls int
}

func (f *fakeRoleSource) UserRole(_ context.Context, communityID, platform, userID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[communityID+":"+platform+":"+userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func authzEnvelope(userID string) *events.Envelope {
	return &events.Envelope{Platform: events.PlatformTwitch, UserID: userID}
}

func TestAuthorizePrivilegedRoles(t *testing.T) {
	src := &fakeRoleSource{roles: map[string]string{
		"c1:twitch:mod":    "moderator",
		"c1:twitch:owner":  "owner",
		"c1:twitch:member": "member",
	}}
	a := NewRoleAuthorizer(src)

	ok, err := a.Authorize(context.Background(), authzEnvelope("mod"), "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authorize(context.Background(), authzEnvelope("owner"), "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authorize(context.Background(), authzEnvelope("member"), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizeNonMemberDeniedAndCached(t *testing.T) {
	src := &fakeRoleSource{roles: map[string]string{}}
	a := NewRoleAuthorizer(src)

	ok, err := a.Authorize(context.Background(), authzEnvelope("stranger"), "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Authorize(context.Background(), authzEnvelope("stranger"), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, src.calls)
}

func TestAuthorizeCachesRoles(t *testing.T) {
	src := &fakeRoleSource{roles: map[string]string{"c1:twitch:mod": "moderator"}}
	a := NewRoleAuthorizer(src)

	for i := 0; i < 3; i++ {
		ok, err := a.Authorize(context.Background(), authzEnvelope("mod"), "c1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, src.calls)
}

func TestAuthorizeLookupFailureFailsClosed(t *testing.T) {
	src := &fakeRoleSource{err: errors.New("connection refused")}
	a := NewRoleAuthorizer(src)

	ok, err := a.Authorize(context.Background(), authzEnvelope("mod"), "c1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, werrors.ErrDependencyUnavailable)
}
