// Package reputation computes and persists per-(community, user) scores with
// strict bounds, derives tiers, and enforces community policy.
package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	repo "github.com/waddlebot/waddlebot-core/internal/repository/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
)

// RecordInput is one reputation event to ingest.
type RecordInput struct {
	CommunityID    string
	UserID         string
	Platform       string
	PlatformUserID string
	EventType      string
	EntityID       string
	EventID        string // source event id, dedup key
	Metadata       map[string]any
}

// RecordResult reports the applied change.
type RecordResult struct {
	NewScore     float64
	Tier         Tier
	DeltaApplied float64
	Duplicate    bool
}

// Service is the reputation engine.
type Service struct {
	repo    *repo.Repository
	weights *WeightResolver
	policy  *PolicyEnforcer
	log     *zap.Logger
}

// NewService creates the engine.
func NewService(r *repo.Repository, weights *WeightResolver, policy *PolicyEnforcer, log *zap.Logger) *Service {
	return &Service{
		repo:    r,
		weights: weights,
		policy:  policy,
		log:     log.With(zap.String("module", "reputation")),
	}
}

// RecordEvent resolves the weight for the event, applies the clamped delta
// atomically, and enforces policy on the outcome. Replays of an event_id are
// no-ops.
func (s *Service) RecordEvent(ctx context.Context, in *RecordInput) (*RecordResult, error) {
	if in.CommunityID == "" || in.UserID == "" || in.EventType == "" || in.EventID == "" {
		return nil, fmt.Errorf("%w: community_id, user_id, event_type, event_id are required", werrors.ErrValidation)
	}

	eventName, delta := s.resolveDelta(ctx, in)

	prev, err := s.repo.Get(ctx, in.CommunityID, in.UserID)
	prevScore := repo.DefaultScore
	switch {
	case err == nil:
		prevScore = prev.Score
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("%w: load reputation: %v", werrors.ErrDependencyUnavailable, err)
	}

	newScore, applied, err := s.repo.ApplyEvent(ctx, &repo.Event{
		CommunityID: in.CommunityID,
		UserID:      in.UserID,
		EntityID:    in.EntityID,
		EventName:   eventName,
		EventScore:  delta,
		EventData:   in.Metadata,
		EventID:     in.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: apply event: %v", werrors.ErrDependencyUnavailable, err)
	}
	if !applied {
		s.log.Debug("duplicate reputation event",
			zap.String("event_id", in.EventID),
			zap.String("community_id", in.CommunityID),
		)
		return &RecordResult{NewScore: newScore, Tier: TierFor(newScore), Duplicate: true}, nil
	}

	metricsutil.ReputationEvents.WithLabelValues(eventName).Inc()
	s.log.Info("reputation updated",
		zap.String("community_id", in.CommunityID),
		zap.String("user_id", in.UserID),
		zap.String("event_name", eventName),
		zap.Float64("delta", delta),
		zap.Float64("score", newScore),
	)

	// Policy failures never roll back the score.
	if s.policy != nil {
		s.policy.Enforce(ctx, in, eventName, prevScore, newScore)
	}

	return &RecordResult{NewScore: newScore, Tier: TierFor(newScore), DeltaApplied: delta}, nil
}

// GetScore returns the current score, defaulting to 600/Fair for unknown
// users. The read path uses the replica when configured.
func (s *Service) GetScore(ctx context.Context, communityID, userID string) (float64, Tier, error) {
	rec, err := s.repo.Get(ctx, communityID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.DefaultScore, TierFor(repo.DefaultScore), nil
		}
		return 0, "", fmt.Errorf("%w: get score: %v", werrors.ErrDependencyUnavailable, err)
	}
	return rec.Score, TierFor(rec.Score), nil
}

// resolveDelta maps the inbound event type to a weights-table event name and
// computes the signed delta, scaling by metadata where the weight is per-unit.
func (s *Service) resolveDelta(ctx context.Context, in *RecordInput) (string, float64) {
	env := events.Envelope{Metadata: in.Metadata}
	switch events.EventType(in.EventType) {
	case events.EventChatMessage:
		return NameChatMessage, s.weights.Resolve(ctx, in.CommunityID, NameChatMessage)
	case events.EventFollow:
		return NameFollow, s.weights.Resolve(ctx, in.CommunityID, NameFollow)
	case events.EventDonation:
		return NameDonation, s.weights.Resolve(ctx, in.CommunityID, NameDonation) * env.DonationAmount()
	case events.EventCheer:
		return NameCheer, s.weights.Resolve(ctx, in.CommunityID, NameCheer) * float64(env.CheerBits()) / 100
	case events.EventSubscription, events.EventResub:
		switch env.SubTier() {
		case 2:
			return NameSubTier2, s.weights.Resolve(ctx, in.CommunityID, NameSubTier2)
		case 3:
			return NameSubTier3, s.weights.Resolve(ctx, in.CommunityID, NameSubTier3)
		default:
			return NameSubscription, s.weights.Resolve(ctx, in.CommunityID, NameSubscription)
		}
	case events.EventSubGift:
		return NameGiftSub, s.weights.Resolve(ctx, in.CommunityID, NameGiftSub)
	case events.EventRaid:
		return NameRaid, s.weights.Resolve(ctx, in.CommunityID, NameRaid)
	case events.EventBoost:
		return NameBoost, s.weights.Resolve(ctx, in.CommunityID, NameBoost)
	case events.EventWarn:
		return NameWarn, s.weights.Resolve(ctx, in.CommunityID, NameWarn)
	case events.EventTimeout:
		return NameTimeout, s.weights.Resolve(ctx, in.CommunityID, NameTimeout)
	case events.EventKick:
		return NameKick, s.weights.Resolve(ctx, in.CommunityID, NameKick)
	case events.EventBan:
		return NameBan, s.weights.Resolve(ctx, in.CommunityID, NameBan)
	default:
		// Raw weight-table names arrive from the router (command_usage,
		// giveaway_entry) and from operator tooling.
		return in.EventType, s.weights.Resolve(ctx, in.CommunityID, in.EventType)
	}
}

// DecayWarnings ages warn entries out of the escalation ladder.
func (s *Service) DecayWarnings(ctx context.Context, decayDays int) error {
	n, err := s.repo.DecayWarnings(ctx, decayDays)
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrDependencyUnavailable, err)
	}
	if n > 0 {
		s.log.Info("decayed warnings", zap.Int64("count", n))
	}
	return nil
}
