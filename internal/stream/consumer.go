package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/waddlebot/waddlebot-core/internal/events"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

// Handler processes one envelope. Implementations must be idempotent on
// event_id; the pipeline delivers at least once.
type Handler func(ctx context.Context, env *events.Envelope) error

// ConsumerConfig tunes a consumer-group worker.
type ConsumerConfig struct {
	Stream      string
	Group       string
	Consumer    string // process identifier
	BatchSize   int64
	Block       time.Duration
	MaxRetries  int
	Concurrency int64
	// ClaimMinIdle is how long a pending entry may sit unacked before this
	// worker claims it from a dead peer.
	ClaimMinIdle time.Duration
}

func (c *ConsumerConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 30 * time.Second
	}
}

// Consumer reads a stream through a consumer group, dispatching batches to a
// handler under a bounded semaphore. Failed entries are retried with jittered
// back-off up to MaxRetries, then dead-lettered and acknowledged.
type Consumer struct {
	client  *redis.Client
	cfg     ConsumerConfig
	handler Handler
	log     *zap.Logger
	sem     *semaphore.Weighted
}

// NewConsumer creates a Consumer for one worker process.
func NewConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, log *zap.Logger) *Consumer {
	cfg.defaults()
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		log: log.With(
			zap.String("module", "stream.consumer"),
			zap.String("stream", cfg.Stream),
			zap.String("group", cfg.Group),
		),
		sem: semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run consumes until ctx is cancelled. In-flight handlers are drained before
// returning.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			return c.drain()
		}

		// Periodically adopt entries stuck pending on dead consumers.
		if time.Since(lastClaim) >= c.cfg.ClaimMinIdle {
			c.claimStale(ctx)
			lastClaim = time.Now()
		}

		res, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error("xreadgroup failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return c.drain()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				if err := c.sem.Acquire(ctx, 1); err != nil {
					return c.drain()
				}
				go func(msg goredis.XMessage) {
					defer c.sem.Release(1)
					c.process(ctx, msg)
				}(msg)
			}
		}
	}
}

// drain blocks until every in-flight handler has released the semaphore.
func (c *Consumer) drain() error {
	if err := c.sem.Acquire(context.Background(), c.cfg.Concurrency); err != nil {
		return err
	}
	c.sem.Release(c.cfg.Concurrency)
	return nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// process runs the handler with capped, jittered retries. A terminal failure
// dead-letters the entry so the primary stream never holds a poison message.
func (c *Consumer) process(ctx context.Context, msg goredis.XMessage) {
	env, err := parseMessage(msg)
	if err != nil {
		c.deadLetter(ctx, msg, nil, 0, err)
		return
	}

	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	err = backoff.Retry(func() error {
		attempts++
		herr := c.handler(ctx, env)
		if herr == nil {
			return nil
		}
		// NotFound is a terminal skip, not a retry. Validation failures
		// are terminal too: the payload will never get better.
		if errors.Is(herr, werrors.ErrNotFound) || errors.Is(herr, werrors.ErrValidation) {
			return backoff.Permanent(herr)
		}
		return herr
	}, policy)
	if err != nil {
		if errors.Is(err, werrors.ErrNotFound) {
			c.log.Debug("skipping event", zap.String("event_id", env.EventID), zap.Error(err))
			metricsutil.EventsConsumed.WithLabelValues(c.cfg.Stream, "skipped").Inc()
			c.ack(ctx, msg)
			return
		}
		if errors.Is(err, werrors.ErrDependencyUnavailable) && ctx.Err() != nil {
			// Shutting down mid-outage: leave unacked for the claim timer.
			return
		}
		c.deadLetter(ctx, msg, env, attempts-1, err)
		return
	}
	metricsutil.EventsConsumed.WithLabelValues(c.cfg.Stream, "ok").Inc()
	c.ack(ctx, msg)
}

func (c *Consumer) ack(ctx context.Context, msg goredis.XMessage) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Error("xack failed", zap.String("entry_id", msg.ID), zap.Error(err))
	}
}

// deadLetter publishes the failed entry with full context, then acknowledges
// the primary entry. Either the ack or the DLQ entry must land; losing both
// would drop the event silently.
func (c *Consumer) deadLetter(ctx context.Context, msg goredis.XMessage, env *events.Envelope, retries int, cause error) {
	// Dead-lettering must survive shutdown cancellation.
	ctx = context.WithoutCancel(ctx)
	eventID := ""
	payload := ""
	if v, ok := msg.Values["event_id"].(string); ok {
		eventID = v
	}
	if v, ok := msg.Values["payload"].(string); ok {
		payload = v
	}
	if env != nil {
		eventID = env.EventID
	}
	values := map[string]interface{}{
		"event_id":        eventID,
		"payload":         payload,
		"reason":          cause.Error(),
		"retry_count":     retries,
		"original_stream": c.cfg.Stream,
		"failed_at":       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: DLQ(c.cfg.Stream),
		Values: values,
	}).Err(); err != nil {
		c.log.Error("failed to dead-letter event, leaving unacked",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return
	}
	c.log.Warn("event dead-lettered",
		zap.String("event_id", eventID),
		zap.Int("retry_count", retries),
		zap.String("reason", cause.Error()),
	)
	metricsutil.EventsConsumed.WithLabelValues(c.cfg.Stream, "dead_letter").Inc()
	c.ack(ctx, msg)
}

// claimStale adopts entries whose owner stopped acknowledging. Entries that
// exhausted their delivery budget go straight to the DLQ.
func (c *Consumer) claimStale(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   c.cfg.ClaimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  c.cfg.BatchSize,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}
	var ids []string
	exhausted := map[string]int64{}
	for _, p := range pending {
		if p.RetryCount > int64(c.cfg.MaxRetries) {
			exhausted[p.ID] = p.RetryCount
		}
		ids = append(ids, p.ID)
	}
	msgs, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		c.log.Warn("xclaim failed", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		if count, ok := exhausted[msg.ID]; ok {
			c.deadLetter(ctx, msg, nil, int(count), fmt.Errorf("%w: delivery budget exhausted", werrors.ErrInternal))
			continue
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(msg goredis.XMessage) {
			defer c.sem.Release(1)
			c.process(ctx, msg)
		}(msg)
	}
}

func parseMessage(msg goredis.XMessage) (*events.Envelope, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok || payload == "" {
		return nil, fmt.Errorf("%w: stream entry missing payload", werrors.ErrValidation)
	}
	env, err := events.Unmarshal([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", werrors.ErrValidation, err)
	}
	return env, nil
}
