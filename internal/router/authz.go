package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/waddlebot/waddlebot-core/internal/events"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// RoleSource resolves a user's member role within a community.
// *routing.Repository satisfies it.
type RoleSource interface {
	UserRole(ctx context.Context, communityID, platform, platformUserID string) (string, error)
}

// privilegedRoles may run auth-required commands.
var privilegedRoles = map[string]struct{}{
	"owner":     {},
	"admin":     {},
	"moderator": {},
}

// RoleAuthorizer grants auth-required commands to privileged community
// members, with a short-TTL cache in front of the member table.
type RoleAuthorizer struct {
	src   RoleSource
	roles *lru.LRU[string, string]
}

// NewRoleAuthorizer creates the authorizer.
func NewRoleAuthorizer(src RoleSource) *RoleAuthorizer {
	return &RoleAuthorizer{
		src:   src,
		roles: lru.NewLRU[string, string](4096, nil, DefaultLookupTTL),
	}
}

// Authorize reports whether the event's user holds a privileged role in the
// community. Non-members are denied without error; lookup failures surface
// as dependency errors so the caller can fail closed.
func (a *RoleAuthorizer) Authorize(ctx context.Context, env *events.Envelope, communityID string) (bool, error) {
	key := communityID + ":" + string(env.Platform) + ":" + env.UserID
	role, ok := a.roles.Get(key)
	if !ok {
		var err error
		role, err = a.src.UserRole(ctx, communityID, string(env.Platform), env.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				a.roles.Add(key, "")
				return false, nil
			}
			return false, fmt.Errorf("%w: role lookup: %v", werrors.ErrDependencyUnavailable, err)
		}
		a.roles.Add(key, role)
	}
	_, privileged := privilegedRoles[role]
	return privileged, nil
}
