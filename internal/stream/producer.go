package stream

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

// Producer appends envelopes to streams. Messages carry two fields, event_id
// and payload, and are keyed by entity_id so per-entity order is preserved.
type Producer struct {
	client *redis.Client
	log    *zap.Logger
}

// NewProducer creates a Producer.
func NewProducer(client *redis.Client, log *zap.Logger) *Producer {
	return &Producer{
		client: client,
		log:    log.With(zap.String("module", "stream.producer")),
	}
}

// Publish appends one envelope to the given stream.
func (p *Producer) Publish(ctx context.Context, stream string, env *events.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_id": env.EventID,
			"payload":  string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	p.log.Debug("published event",
		zap.String("stream", stream),
		zap.String("event_id", env.EventID),
		zap.String("entry_id", id),
	)
	return nil
}
