package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/stream"
)

// Publisher appends envelopes to a stream. *stream.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, streamName string, env *events.Envelope) error
}

// StreamSink delivers moderation requests by publishing them to the actions
// stream, where the platform pushers execute them. It satisfies
// ModerationSink for deployments where the reputation service has no direct
// platform credentials.
type StreamSink struct {
	pub Publisher
}

// NewStreamSink creates the sink.
func NewStreamSink(pub Publisher) *StreamSink {
	return &StreamSink{pub: pub}
}

func (s *StreamSink) Moderate(ctx context.Context, req *ModerationRequest) error {
	eventType := events.EventBan
	if req.Action == "timeout" {
		eventType = events.EventTimeout
	}
	env := &events.Envelope{
		EventID:   events.NewEventID(),
		EventType: eventType,
		Platform:  events.Platform(req.Platform),
		EntityID:  req.EntityID,
		UserID:    req.UserID,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"action":            "moderation",
			"moderation_action": req.Action,
			"duration_seconds":  req.Duration.Seconds(),
			"reason":            req.Reason,
			"community_id":      req.CommunityID,
		},
	}
	if err := s.pub.Publish(ctx, stream.Actions, env); err != nil {
		return fmt.Errorf("publish moderation action: %w", err)
	}
	return nil
}
