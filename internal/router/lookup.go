package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// RoutingSource reads routing metadata. *routing.Repository satisfies it.
type RoutingSource interface {
	CommunityForEntity(ctx context.Context, entityID string) (string, error)
	LookupCommand(ctx context.Context, prefix, command string) (*routing.Command, error)
	EventCommands(ctx context.Context, eventType string) ([]routing.Command, error)
	ActiveCommands(ctx context.Context) ([]routing.Command, error)
	GatewaysForCommunity(ctx context.Context, communityID string) ([]routing.Gateway, error)
}

// DefaultLookupTTL bounds how stale routing metadata may get.
const DefaultLookupTTL = 600 * time.Second

// Lookup fronts the routing tables with bounded TTL caches. Negative results
// are cached too, so a flood of unroutable events does not hammer the
// database.
type Lookup struct {
	src       RoutingSource
	entities  *lru.LRU[string, string]
	commands  *lru.LRU[string, *routing.Command]
	eventCmds *lru.LRU[string, []routing.Command]
	gateways  *lru.LRU[string, []routing.Gateway]
}

// NewLookup creates a Lookup. ttl defaults to 600 s.
func NewLookup(src RoutingSource, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	return &Lookup{
		src:       src,
		entities:  lru.NewLRU[string, string](8192, nil, ttl),
		commands:  lru.NewLRU[string, *routing.Command](2048, nil, ttl),
		eventCmds: lru.NewLRU[string, []routing.Command](64, nil, ttl),
		gateways:  lru.NewLRU[string, []routing.Gateway](1024, nil, ttl),
	}
}

// Community resolves entity_id -> community_id. ErrNotFound when unrouted.
func (l *Lookup) Community(ctx context.Context, entityID string) (string, error) {
	if id, ok := l.entities.Get(entityID); ok {
		if id == "" {
			return "", fmt.Errorf("%w: entity %s not routed", werrors.ErrNotFound, entityID)
		}
		return id, nil
	}
	id, err := l.src.CommunityForEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.entities.Add(entityID, "")
			return "", fmt.Errorf("%w: entity %s not routed", werrors.ErrNotFound, entityID)
		}
		return "", fmt.Errorf("%w: resolve community: %v", werrors.ErrDependencyUnavailable, err)
	}
	l.entities.Add(entityID, id)
	return id, nil
}

// Command resolves (prefix, command) to the highest-priority active record.
// ErrNotFound when no record matches.
func (l *Lookup) Command(ctx context.Context, prefix, command string) (*routing.Command, error) {
	key := prefix + command
	if rec, ok := l.commands.Get(key); ok {
		if rec == nil {
			return nil, fmt.Errorf("%w: command %s%s", werrors.ErrNotFound, prefix, command)
		}
		return rec, nil
	}
	rec, err := l.src.LookupCommand(ctx, prefix, command)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.commands.Add(key, nil)
			return nil, fmt.Errorf("%w: command %s%s", werrors.ErrNotFound, prefix, command)
		}
		return nil, fmt.Errorf("%w: lookup command: %v", werrors.ErrDependencyUnavailable, err)
	}
	l.commands.Add(key, rec)
	return rec, nil
}

// EventCommands returns the event-triggered records for an event type.
func (l *Lookup) EventCommands(ctx context.Context, eventType string) ([]routing.Command, error) {
	if recs, ok := l.eventCmds.Get(eventType); ok {
		return recs, nil
	}
	recs, err := l.src.EventCommands(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: event commands: %v", werrors.ErrDependencyUnavailable, err)
	}
	l.eventCmds.Add(eventType, recs)
	return recs, nil
}

// Gateways lists the outbound gateway channels registered for a community.
// An empty slice is a valid, cached answer.
func (l *Lookup) Gateways(ctx context.Context, communityID string) ([]routing.Gateway, error) {
	if gws, ok := l.gateways.Get(communityID); ok {
		return gws, nil
	}
	gws, err := l.src.GatewaysForCommunity(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("%w: community gateways: %v", werrors.ErrDependencyUnavailable, err)
	}
	l.gateways.Add(communityID, gws)
	return gws, nil
}

// ActiveCommands lists every active command record, uncached; this backs the
// operator-facing listing, not the hot path.
func (l *Lookup) ActiveCommands(ctx context.Context) ([]routing.Command, error) {
	recs, err := l.src.ActiveCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list commands: %v", werrors.ErrDependencyUnavailable, err)
	}
	return recs, nil
}
