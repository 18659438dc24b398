package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	"github.com/waddlebot/waddlebot-core/internal/session"
	"github.com/waddlebot/waddlebot-core/internal/stream"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/ratelimit"
)

// DefaultRateLimitPerMinute applies to commands without a per-record limit.
const DefaultRateLimitPerMinute = 60

// ModuleDispatcher delivers one request to an interaction module.
type ModuleDispatcher interface {
	Dispatch(ctx context.Context, cmd *routing.Command, req *DispatchRequest) (*ModuleResponse, error)
}

// ScoreReporter records reputation events. *reputation.Client satisfies it.
type ScoreReporter interface {
	RecordEvent(ctx context.Context, req *reputation.RecordEventRequest) (*reputation.RecordEventResponse, error)
}

// Authorizer checks that a user holds the role a command requires.
type Authorizer interface {
	Authorize(ctx context.Context, env *events.Envelope, communityID string) (bool, error)
}

// ActionPublisher appends an envelope to a stream. *stream.Producer
// satisfies it.
type ActionPublisher interface {
	Publish(ctx context.Context, streamName string, env *events.Envelope) error
}

// Config tunes the router service.
type Config struct {
	RateLimitPerMinute int
	ResponseTimeout    time.Duration // async response wait, defaults to 30 s
}

// Result is the outcome of processing one event.
type Result struct {
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	State     ExecState `json:"state"`
	Detail    string    `json:"detail,omitempty"`
}

// Service is the router core: it turns an inbound envelope into zero or more
// downstream dispatches and correlates the responses.
type Service struct {
	cfg        Config
	sessions   *session.Store
	limiter    *ratelimit.Limiter
	lookup     *Lookup
	dispatcher ModuleDispatcher
	pending    *PendingTable
	actions    ActionPublisher
	scores     ScoreReporter
	authz      Authorizer
	audit      *aaa.Logger
	log        *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
	started   time.Time
}

// NewService wires the router. scores and authz may be nil: scoring is then
// skipped and every auth-required command is denied.
func NewService(
	cfg Config,
	sessions *session.Store,
	limiter *ratelimit.Limiter,
	lookup *Lookup,
	dispatcher ModuleDispatcher,
	actions ActionPublisher,
	scores ScoreReporter,
	authz Authorizer,
	audit *aaa.Logger,
	log *zap.Logger,
) *Service {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultCommandTimeout
	}
	return &Service{
		cfg:        cfg,
		sessions:   sessions,
		limiter:    limiter,
		lookup:     lookup,
		dispatcher: dispatcher,
		pending:    NewPendingTable(),
		actions:    actions,
		scores:     scores,
		authz:      authz,
		audit:      audit,
		log:        log.With(zap.String("module", "router")),
		started:    time.Now(),
	}
}

// Stats is a point-in-time snapshot for the metrics endpoint.
type Stats struct {
	Processed         int64   `json:"processed"`
	Failed            int64   `json:"failed"`
	InFlightResponses int     `json:"in_flight_responses"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Stats reports current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Processed:         s.processed.Load(),
		Failed:            s.failed.Load(),
		InFlightResponses: s.pending.Len(),
		UptimeSeconds:     time.Since(s.started).Seconds(),
	}
}

// Pending exposes the correlation table for the responses consumer.
func (s *Service) Pending() *PendingTable {
	return s.pending
}

// Process runs the full pipeline for one inbound envelope.
//
// Validation errors propagate so the stream consumer dead-letters the entry;
// unroutable events and unknown commands return ErrNotFound, a terminal
// skip.
func (s *Service) Process(ctx context.Context, env *events.Envelope) (res *Result, err error) {
	defer func() {
		if err != nil {
			s.failed.Add(1)
		} else {
			s.processed.Add(1)
		}
	}()
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", werrors.ErrValidation, err)
	}

	var sess *session.Session
	if env.UserID != "" {
		var err error
		sess, err = s.sessions.Resolve(ctx, env.EntityID, env.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve session: %v", werrors.ErrDependencyUnavailable, err)
		}
	}

	communityID, err := s.lookup.Community(ctx, env.EntityID)
	if err != nil {
		return nil, err
	}

	if parsed, ok := ParseCommand(env.Message); ok && env.EventType == events.EventChatMessage {
		return s.processCommand(ctx, env, sess, communityID, parsed)
	}
	return s.processEvent(ctx, env, sess, communityID)
}

// processCommand runs steps 5-11 for a prefixed chat message.
func (s *Service) processCommand(ctx context.Context, env *events.Envelope, sess *session.Session, communityID string, parsed *ParsedCommand) (*Result, error) {
	cmd, err := s.lookup.Command(ctx, parsed.Prefix, parsed.Command)
	if err != nil {
		return nil, err
	}

	limit := cmd.RateLimitPerMinute
	if limit <= 0 {
		limit = s.cfg.RateLimitPerMinute
	}
	subject := env.UserID + ":" + parsed.Command
	allowed, err := s.limiter.Allow(ctx, subject, limit, time.Minute)
	if err != nil {
		s.log.Warn("rate limit check degraded", zap.Error(err))
	}
	if !allowed {
		s.recordTerminal(StateRateLimited, env.UserID, "command:"+parsed.Command, env.EventID, "rate limit exceeded")
		return &Result{SessionID: sessionID(sess), Action: "rate_limited", State: StateRateLimited},
			fmt.Errorf("%w: %s for %s", werrors.ErrRateLimited, parsed.Command, env.UserID)
	}

	if IsReserved(env.Platform, parsed.Command) {
		s.recordTerminal(StateRejected, env.UserID, "command:"+parsed.Command, env.EventID, "platform-reserved command")
		return &Result{SessionID: sessionID(sess), Action: "reserved", State: StateRejected}, nil
	}

	if cmd.AuthRequired {
		ok := false
		if s.authz != nil {
			ok, err = s.authz.Authorize(ctx, env, communityID)
			if err != nil {
				return nil, fmt.Errorf("%w: authorize: %v", werrors.ErrDependencyUnavailable, err)
			}
		}
		if !ok {
			s.recordTerminal(StateUnauthorized, env.UserID, "command:"+parsed.Command, env.EventID, "missing role")
			return &Result{SessionID: sessionID(sess), Action: "unauthorized", State: StateUnauthorized},
				fmt.Errorf("%w: command %s", werrors.ErrAuthz, parsed.Command)
		}
	}

	executionID := uuid.NewString()
	req := &DispatchRequest{
		Envelope:    env,
		SessionID:   sessionID(sess),
		ExecutionID: executionID,
		Command:     parsed.Command,
		Args:        parsed.Args,
		CommunityID: communityID,
	}

	// Register before dispatching so an async response cannot race the
	// registration.
	wait := s.pending.Add(req.SessionID, executionID, s.cfg.ResponseTimeout)
	resp, err := s.dispatcher.Dispatch(ctx, cmd, req)
	if err != nil {
		s.pending.Drop(req.SessionID, executionID)
		state := StateFailed
		if errors.Is(err, werrors.ErrTimeout) {
			state = StateTimedOut
		}
		s.recordTerminal(state, env.UserID, "command:"+parsed.Command, executionID, err.Error())
		return &Result{SessionID: req.SessionID, Action: "dispatch_failed", State: state}, err
	}

	if resp.Deferred {
		select {
		case async, ok := <-wait:
			if !ok || async == nil {
				s.recordTerminal(StateTimedOut, env.UserID, "command:"+parsed.Command, executionID, "no response before deadline")
				return &Result{SessionID: req.SessionID, Action: "timed_out", State: StateTimedOut}, nil
			}
			resp = async
		case <-time.After(s.cfg.ResponseTimeout):
			s.pending.Drop(req.SessionID, executionID)
			s.recordTerminal(StateTimedOut, env.UserID, "command:"+parsed.Command, executionID, "no response before deadline")
			return &Result{SessionID: req.SessionID, Action: "timed_out", State: StateTimedOut}, nil
		case <-ctx.Done():
			s.pending.Drop(req.SessionID, executionID)
			return nil, ctx.Err()
		}
	} else {
		s.pending.Drop(req.SessionID, executionID)
	}

	if !resp.Success {
		s.recordTerminal(StateFailed, env.UserID, "command:"+parsed.Command, executionID, resp.Error)
		return &Result{SessionID: req.SessionID, Action: "module_failed", State: StateFailed, Detail: resp.Error}, nil
	}

	s.applyResponse(ctx, env, communityID, resp)
	s.reportScore(ctx, env, communityID, reputation.NameCommandUsage)
	s.recordTerminal(StateCompleted, env.UserID, "command:"+parsed.Command, executionID, "")
	return &Result{SessionID: req.SessionID, Action: "command_dispatched", State: StateCompleted}, nil
}

// processEvent fans an un-prefixed event out to event-triggered commands and
// records the reputation side-effect.
func (s *Service) processEvent(ctx context.Context, env *events.Envelope, sess *session.Session, communityID string) (*Result, error) {
	cmds, err := s.lookup.EventCommands(ctx, string(env.EventType))
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cmd := range cmds {
		cmd := cmd
		g.Go(func() error {
			req := &DispatchRequest{
				Envelope:    env,
				SessionID:   sessionID(sess),
				ExecutionID: uuid.NewString(),
				CommunityID: communityID,
			}
			resp, derr := s.dispatcher.Dispatch(gctx, &cmd, req)
			if derr != nil {
				s.log.Warn("event dispatch failed",
					zap.String("module_id", cmd.ModuleID),
					zap.String("event_type", string(env.EventType)),
					zap.Error(derr),
				)
				return nil // one failing module must not abort the fan-out
			}
			if resp.Success {
				s.applyResponse(gctx, env, communityID, resp)
			}
			return nil
		})
	}
	_ = g.Wait()

	if name, ok := scoreName(env.EventType); ok {
		s.reportScore(ctx, env, communityID, name)
	}
	return &Result{SessionID: sessionID(sess), Action: "event_processed", State: StateCompleted}, nil
}

// HandleResponse feeds an asynchronous module response into the correlation
// table. Late or unsolicited responses are dropped with a log line.
func (s *Service) HandleResponse(resp *ModuleResponse) {
	if resp.SessionID == "" || resp.ExecutionID == "" {
		s.log.Warn("response missing correlation ids")
		return
	}
	if !s.pending.Complete(resp) {
		s.log.Debug("dropping uncorrelated response",
			zap.String("session_id", resp.SessionID),
			zap.String("execution_id", resp.ExecutionID),
		)
	}
}

// applyResponse schedules the side-effect a successful response asks for.
// Chat responses go to the actions stream for the platform pushers: once to
// the source channel, then to every other gateway channel the community has
// registered.
func (s *Service) applyResponse(ctx context.Context, env *events.Envelope, communityID string, resp *ModuleResponse) {
	if resp.ResponseAction != "chat" || s.actions == nil {
		return
	}
	message, _ := resp.ResponseData["message"].(string)
	if message == "" {
		return
	}
	chatAction := func(platform events.Platform, serverID, channelID string) *events.Envelope {
		return &events.Envelope{
			EventID:   events.NewEventID(),
			EventType: events.EventChatMessage,
			Platform:  platform,
			EntityID:  events.MakeEntityID(platform, serverID, channelID),
			ServerID:  serverID,
			ChannelID: channelID,
			Message:   message,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]any{"action": "chat", "reply_to": env.EventID},
		}
	}

	targets := []*events.Envelope{chatAction(env.Platform, env.ServerID, env.ChannelID)}
	gateways, err := s.lookup.Gateways(ctx, communityID)
	if err != nil {
		s.log.Warn("gateway lookup failed, replying to source only",
			zap.String("community_id", communityID),
			zap.Error(err),
		)
	}
	for _, gw := range gateways {
		out := chatAction(events.Platform(gw.Platform), gw.ServerID, gw.ChannelID)
		if out.EntityID == env.EntityID {
			continue
		}
		targets = append(targets, out)
	}
	for _, out := range targets {
		if err := s.actions.Publish(ctx, stream.Actions, out); err != nil {
			s.log.Error("failed to publish chat action",
				zap.String("entity_id", out.EntityID),
				zap.Error(err),
			)
		}
	}
}

// reportScore emits the reputation side-effect. Failures never block the
// pipeline; the engine dedupes on event_id so retries are safe.
func (s *Service) reportScore(ctx context.Context, env *events.Envelope, communityID, eventName string) {
	if s.scores == nil || env.UserID == "" {
		return
	}
	_, err := s.scores.RecordEvent(ctx, &reputation.RecordEventRequest{
		CommunityID:    communityID,
		UserID:         env.UserID,
		Platform:       string(env.Platform),
		PlatformUserID: env.UserID,
		EventType:      eventName,
		EntityID:       env.EntityID,
		EventID:        env.EventID,
		Metadata:       env.Metadata,
	})
	if err != nil {
		s.log.Warn("reputation record failed",
			zap.String("event_id", env.EventID),
			zap.String("event_name", eventName),
			zap.Error(err),
		)
	}
}

// scoreName maps envelope event types to weights-table event names.
func scoreName(t events.EventType) (string, bool) {
	switch t {
	case events.EventChatMessage:
		return reputation.NameChatMessage, true
	case events.EventFollow:
		return reputation.NameFollow, true
	case events.EventDonation:
		return reputation.NameDonation, true
	case events.EventCheer:
		return reputation.NameCheer, true
	case events.EventSubscription, events.EventResub:
		return reputation.NameSubscription, true
	case events.EventSubGift:
		return reputation.NameGiftSub, true
	case events.EventRaid:
		return reputation.NameRaid, true
	case events.EventBoost:
		return reputation.NameBoost, true
	case events.EventWarn:
		return reputation.NameWarn, true
	case events.EventTimeout:
		return reputation.NameTimeout, true
	case events.EventKick:
		return reputation.NameKick, true
	case events.EventBan:
		return reputation.NameBan, true
	}
	return "", false
}

func sessionID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.SessionID
}
