package reputation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
)

// DefaultAutoBanThreshold triggers a ban once a score falls below it.
const DefaultAutoBanThreshold = 450

// EscalationSteps is the timeout ladder applied to repeat moderation events.
var EscalationSteps = []time.Duration{
	5 * time.Minute,
	60 * time.Minute,
	1440 * time.Minute,
}

// ModerationRequest is sent to the platform's action pusher.
type ModerationRequest struct {
	CommunityID string
	UserID      string
	Platform    string
	EntityID    string
	Action      string // "ban" or "timeout"
	Duration    time.Duration
	Reason      string
}

// ModerationSink delivers moderation requests to action pushers.
type ModerationSink interface {
	Moderate(ctx context.Context, req *ModerationRequest) error
}

// ModerationCounter reports prior moderation events for escalation.
type ModerationCounter interface {
	CountModerationEvents(ctx context.Context, communityID, userID string) (int, error)
}

// PolicyConfig tunes enforcement.
type PolicyConfig struct {
	AutoBanThreshold float64
	WarningDecayDays int
}

// PolicyEnforcer applies community policy after score changes. Enforcement
// failures never roll back scores; they are retried asynchronously.
type PolicyEnforcer struct {
	cfg     PolicyConfig
	sink    ModerationSink
	counter ModerationCounter
	audit   *aaa.Logger
	log     *zap.Logger
	queue   chan *ModerationRequest
}

// NewPolicyEnforcer creates an enforcer. Call Run to start the retry worker.
func NewPolicyEnforcer(cfg PolicyConfig, sink ModerationSink, counter ModerationCounter, audit *aaa.Logger, log *zap.Logger) *PolicyEnforcer {
	if cfg.AutoBanThreshold <= 0 {
		cfg.AutoBanThreshold = DefaultAutoBanThreshold
	}
	return &PolicyEnforcer{
		cfg:     cfg,
		sink:    sink,
		counter: counter,
		audit:   audit,
		log:     log.With(zap.String("module", "reputation.policy")),
		queue:   make(chan *ModerationRequest, 256),
	}
}

// Enforce inspects a score transition and emits moderation requests. It never
// returns an error: failures are queued for retry and surfaced via logs.
func (p *PolicyEnforcer) Enforce(ctx context.Context, in *RecordInput, eventName string, prevScore, newScore float64) {
	if newScore < p.cfg.AutoBanThreshold && prevScore >= p.cfg.AutoBanThreshold {
		p.submit(ctx, &ModerationRequest{
			CommunityID: in.CommunityID,
			UserID:      in.UserID,
			Platform:    in.Platform,
			EntityID:    in.EntityID,
			Action:      "ban",
			Reason:      "reputation below threshold",
		})
		return
	}

	switch eventName {
	case NameWarn, NameTimeout, NameKick:
		prior, err := p.counter.CountModerationEvents(ctx, in.CommunityID, in.UserID)
		if err != nil {
			p.log.Warn("escalation count unavailable", zap.Error(err))
			prior = 1
		}
		// The triggering event is already on record; step off prior history.
		step := prior - 1
		if step < 0 {
			step = 0
		}
		if step >= len(EscalationSteps) {
			step = len(EscalationSteps) - 1
		}
		p.submit(ctx, &ModerationRequest{
			CommunityID: in.CommunityID,
			UserID:      in.UserID,
			Platform:    in.Platform,
			EntityID:    in.EntityID,
			Action:      "timeout",
			Duration:    EscalationSteps[step],
			Reason:      "moderation escalation",
		})
	}
}

func (p *PolicyEnforcer) submit(ctx context.Context, req *ModerationRequest) {
	err := p.sink.Moderate(ctx, req)
	if err == nil {
		metricsutil.ModerationActions.WithLabelValues(req.Action).Inc()
		p.audit.Emit(aaa.Record{
			EventType:     aaa.EventAudit,
			Actor:         "reputation",
			Subject:       req.UserID,
			Action:        "moderation:" + req.Action,
			Result:        aaa.ResultSuccess,
			CorrelationID: req.EntityID,
		})
		return
	}
	p.log.Warn("moderation request failed, queueing retry",
		zap.String("action", req.Action),
		zap.String("user_id", req.UserID),
		zap.Error(err),
	)
	select {
	case p.queue <- req:
	default:
		p.audit.Emit(aaa.Record{
			EventType:     aaa.EventError,
			Actor:         "reputation",
			Subject:       req.UserID,
			Action:        "moderation:" + req.Action,
			Result:        aaa.ResultFailure,
			CorrelationID: req.EntityID,
			Detail:        "retry queue full",
		})
	}
}

// Run drains the retry queue with jittered back-off until ctx is cancelled.
func (p *PolicyEnforcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.queue:
			policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
			err := backoff.Retry(func() error {
				return p.sink.Moderate(ctx, req)
			}, policy)
			result := aaa.ResultSuccess
			if err != nil {
				result = aaa.ResultFailure
				p.log.Error("moderation retry exhausted",
					zap.String("user_id", req.UserID),
					zap.Error(err),
				)
			} else {
				metricsutil.ModerationActions.WithLabelValues(req.Action).Inc()
			}
			p.audit.Emit(aaa.Record{
				EventType:     aaa.EventAudit,
				Actor:         "reputation",
				Subject:       req.UserID,
				Action:        "moderation:" + req.Action,
				Result:        result,
				CorrelationID: req.EntityID,
			})
		}
	}
}
