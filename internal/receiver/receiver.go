// Package receiver owns the platform-facing ingest layer: protocol adapters
// normalize platform payloads into canonical envelopes and publish them to
// the inbound stream.
package receiver

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DiscoveryInterval is how often the channel set is re-read from the
// routing tables.
const DiscoveryInterval = 300 * time.Second

// Adapter is one platform connection owner. Run blocks until ctx ends;
// UpdateChannels delivers the current channel set, at startup and on every
// discovery refresh.
type Adapter interface {
	Platform() events.Platform
	Run(ctx context.Context) error
	UpdateChannels(channels []routing.Channel)
}

// ChannelSource lists the routable surfaces for a platform.
// *routing.Repository satisfies it.
type ChannelSource interface {
	ActiveChannels(ctx context.Context, platform string) ([]routing.Channel, error)
}

// Publisher appends envelopes to a stream. *stream.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, streamName string, env *events.Envelope) error
}

// Emitter validates and publishes envelopes to the inbound stream. All
// adapters share one.
type Emitter struct {
	publisher Publisher
	log       *zap.Logger
}

// NewEmitter creates an Emitter.
func NewEmitter(publisher Publisher, log *zap.Logger) *Emitter {
	return &Emitter{publisher: publisher, log: log.With(zap.String("module", "receiver.emit"))}
}

// Emit publishes one envelope, filling event_id and timestamp when the
// adapter left them empty.
func (e *Emitter) Emit(ctx context.Context, env *events.Envelope) error {
	if env.EventID == "" {
		env.EventID = events.NewEventID()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.EntityID == "" {
		env.EntityID = events.MakeEntityID(env.Platform, env.ServerID, env.ChannelID)
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	if err := e.publisher.Publish(ctx, stream.Inbound, env); err != nil {
		return fmt.Errorf("emit %s: %w", env.EventID, err)
	}
	e.log.Debug("event emitted",
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.EventType)),
		zap.String("entity_id", env.EntityID),
	)
	return nil
}

// Service runs a set of adapters and keeps their channel lists fresh.
type Service struct {
	adapters []Adapter
	channels ChannelSource
	interval time.Duration
	cron     *cron.Cron
	log      *zap.Logger
}

// NewService creates the receiver supervisor. refreshEvery of zero falls
// back to DiscoveryInterval.
func NewService(channels ChannelSource, refreshEvery time.Duration, log *zap.Logger, adapters ...Adapter) *Service {
	if refreshEvery <= 0 {
		refreshEvery = DiscoveryInterval
	}
	return &Service{
		adapters: adapters,
		channels: channels,
		interval: refreshEvery,
		cron:     cron.New(),
		log:      log.With(zap.String("module", "receiver")),
	}
}

// Run starts every adapter plus the periodic channel discovery, blocking
// until ctx ends or an adapter fails terminally.
func (s *Service) Run(ctx context.Context) error {
	s.refresh(ctx)

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(s.interval.Seconds())), func() {
		s.refresh(ctx)
	}); err != nil {
		return fmt.Errorf("schedule discovery: %w", err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.adapters {
		a := a
		g.Go(func() error {
			if err := a.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("adapter %s: %w", a.Platform(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// refresh re-reads the channel set for every adapter's platform.
func (s *Service) refresh(ctx context.Context) {
	for _, a := range s.adapters {
		channels, err := s.channels.ActiveChannels(ctx, string(a.Platform()))
		if err != nil {
			s.log.Warn("channel discovery failed",
				zap.String("platform", string(a.Platform())),
				zap.Error(err),
			)
			continue
		}
		a.UpdateChannels(channels)
		s.log.Debug("channels refreshed",
			zap.String("platform", string(a.Platform())),
			zap.Int("count", len(channels)),
		)
	}
}
