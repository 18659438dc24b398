package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

// Dedup gates side-effects on event_id so replays of the same event are
// no-ops. Backed by SETNX with a TTL.
type Dedup struct {
	client *redis.Client
	kb     *redis.KeyBuilder
	ttl    time.Duration
}

// NewDedup creates a Dedup gate for the given consumer namespace.
func NewDedup(client *redis.Client, namespace string, ttl time.Duration) *Dedup {
	return &Dedup{
		client: client,
		kb:     redis.NewKeyBuilder(namespace, "dedup"),
		ttl:    ttl,
	}
}

// Seen marks the event id and reports whether it was already processed.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.kb.Build(eventID, ""), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !set, nil
}

// WithDedup wraps a handler so replayed event ids are acknowledged without
// re-running side-effects. A dedup store outage degrades to at-least-once:
// the handler runs and relies on its own idempotency.
func WithDedup(d *Dedup, log *zap.Logger, h Handler) Handler {
	return func(ctx context.Context, env *events.Envelope) error {
		seen, err := d.Seen(ctx, env.EventID)
		if err != nil {
			log.Warn("dedup unavailable, processing anyway",
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
		} else if seen {
			log.Debug("duplicate event dropped", zap.String("event_id", env.EventID))
			return nil
		}
		return h(ctx, env)
	}
}
