package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// InboundHandler adapts Process for the inbound stream consumer. Rate-limit
// and authorization rejections are terminal outcomes, not retryable
// failures.
func (s *Service) InboundHandler() func(ctx context.Context, env *events.Envelope) error {
	return func(ctx context.Context, env *events.Envelope) error {
		_, err := s.Process(ctx, env)
		if err == nil {
			return nil
		}
		if errors.Is(err, werrors.ErrRateLimited) || errors.Is(err, werrors.ErrAuthz) {
			return nil
		}
		return err
	}
}

// ResponsesHandler adapts HandleResponse for the responses stream consumer.
// Responses travel as envelopes whose metadata carries the module response.
func (s *Service) ResponsesHandler() func(ctx context.Context, env *events.Envelope) error {
	return func(_ context.Context, env *events.Envelope) error {
		resp, err := responseFromEnvelope(env)
		if err != nil {
			s.log.Warn("malformed response envelope",
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
			return err
		}
		s.HandleResponse(resp)
		return nil
	}
}

// responseFromEnvelope extracts the module response carried in metadata.
func responseFromEnvelope(env *events.Envelope) (*ModuleResponse, error) {
	raw, err := json.Marshal(env.Metadata)
	if err != nil {
		return nil, werrors.ErrValidation
	}
	resp := new(ModuleResponse)
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, werrors.ErrValidation
	}
	if resp.SessionID == "" || resp.ExecutionID == "" {
		return nil, werrors.ErrValidation
	}
	return resp, nil
}
