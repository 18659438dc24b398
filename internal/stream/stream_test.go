package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

func newTestClient(t *testing.T) (*redis.Client, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return redis.NewFromExisting(raw, zap.NewNop()), raw
}

func testEnvelope(id string) *events.Envelope {
	return &events.Envelope{
		EventID:   id,
		EventType: events.EventChatMessage,
		Platform:  events.PlatformTwitch,
		EntityID:  "twitch:foo:1",
		UserID:    "u1",
		Message:   "hi",
		Timestamp: time.Now().UTC(),
	}
}

func TestDLQName(t *testing.T) {
	assert.Equal(t, "events:dlq:inbound", DLQ(Inbound))
	assert.Equal(t, "events:dlq:responses", DLQ(Responses))
}

func TestProducerPublish(t *testing.T) {
	client, raw := newTestClient(t)
	p := NewProducer(client, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), Inbound, testEnvelope("e1")))

	entries, err := raw.XRange(context.Background(), Inbound, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].Values["event_id"])

	env, err := events.Unmarshal([]byte(entries[0].Values["payload"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "twitch:foo:1", env.EntityID)
}

func runConsumer(t *testing.T, client *redis.Client, cfg ConsumerConfig, h Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c := NewConsumer(client, cfg, h, zap.NewNop())
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumerProcessesAndAcks(t *testing.T) {
	client, raw := newTestClient(t)
	p := NewProducer(client, zap.NewNop())

	var processed atomic.Int64
	cfg := ConsumerConfig{
		Stream: Inbound, Group: "router", Consumer: "worker-1",
		Block: 50 * time.Millisecond,
	}
	runConsumer(t, client, cfg, func(_ context.Context, env *events.Envelope) error {
		processed.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), Inbound, testEnvelope(fmt.Sprintf("e%d", i))))
	}

	require.Eventually(t, func() bool { return processed.Load() == 5 }, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		pending, err := raw.XPending(context.Background(), Inbound, "router").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond, "all entries must be acknowledged")
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	client, raw := newTestClient(t)
	p := NewProducer(client, zap.NewNop())

	var attempts atomic.Int64
	cfg := ConsumerConfig{
		Stream: Inbound, Group: "router", Consumer: "worker-1",
		Block: 50 * time.Millisecond, MaxRetries: 2,
	}
	runConsumer(t, client, cfg, func(context.Context, *events.Envelope) error {
		attempts.Add(1)
		return fmt.Errorf("%w: write failed", werrors.ErrDependencyUnavailable)
	})

	require.NoError(t, p.Publish(context.Background(), Inbound, testEnvelope("bad1")))

	var dlq []goredis.XMessage
	require.Eventually(t, func() bool {
		var err error
		dlq, err = raw.XRange(context.Background(), "events:dlq:inbound", "-", "+").Result()
		return err == nil && len(dlq) == 1
	}, 10*time.Second, 50*time.Millisecond)

	assert.EqualValues(t, 3, attempts.Load(), "initial attempt plus two retries")
	assert.Equal(t, "bad1", dlq[0].Values["event_id"])
	assert.Equal(t, "2", dlq[0].Values["retry_count"])
	assert.NotEmpty(t, dlq[0].Values["reason"])
	assert.Equal(t, Inbound, dlq[0].Values["original_stream"])

	// Primary stream has no pending entries for this event.
	require.Eventually(t, func() bool {
		pending, err := raw.XPending(context.Background(), Inbound, "router").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConsumerSkipsNotFound(t *testing.T) {
	client, raw := newTestClient(t)
	p := NewProducer(client, zap.NewNop())

	cfg := ConsumerConfig{
		Stream: Inbound, Group: "router", Consumer: "worker-1",
		Block: 50 * time.Millisecond, MaxRetries: 3,
	}
	var attempts atomic.Int64
	runConsumer(t, client, cfg, func(context.Context, *events.Envelope) error {
		attempts.Add(1)
		return fmt.Errorf("%w: no such command", werrors.ErrNotFound)
	})

	require.NoError(t, p.Publish(context.Background(), Inbound, testEnvelope("skip1")))

	require.Eventually(t, func() bool {
		pending, err := raw.XPending(context.Background(), Inbound, "router").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 1, attempts.Load(), "not-found is terminal, no retries")
	dlq, err := raw.XRange(context.Background(), "events:dlq:inbound", "-", "+").Result()
	require.NoError(t, err)
	assert.Empty(t, dlq, "not-found entries are skipped, not dead-lettered")
}

func TestConsumerDeadLettersValidationWithoutRetry(t *testing.T) {
	client, raw := newTestClient(t)
	p := NewProducer(client, zap.NewNop())

	cfg := ConsumerConfig{
		Stream: Inbound, Group: "router", Consumer: "worker-1",
		Block: 50 * time.Millisecond, MaxRetries: 3,
	}
	var attempts atomic.Int64
	runConsumer(t, client, cfg, func(context.Context, *events.Envelope) error {
		attempts.Add(1)
		return fmt.Errorf("%w: empty user_id", werrors.ErrValidation)
	})

	require.NoError(t, p.Publish(context.Background(), Inbound, testEnvelope("inv1")))

	var dlq []goredis.XMessage
	require.Eventually(t, func() bool {
		var err error
		dlq, err = raw.XRange(context.Background(), "events:dlq:inbound", "-", "+").Result()
		return err == nil && len(dlq) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 1, attempts.Load(), "validation failures are terminal, no retries")
	assert.Equal(t, "inv1", dlq[0].Values["event_id"])
	assert.Contains(t, dlq[0].Values["reason"], "empty user_id")
}

func TestConsumerDeadLettersMalformedPayload(t *testing.T) {
	client, raw := newTestClient(t)

	cfg := ConsumerConfig{
		Stream: Inbound, Group: "router", Consumer: "worker-1",
		Block: 50 * time.Millisecond,
	}
	runConsumer(t, client, cfg, func(context.Context, *events.Envelope) error { return nil })

	_, err := raw.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: Inbound,
		Values: map[string]interface{}{"event_id": "junk", "payload": "{not json"},
	}).Result()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dlq, err := raw.XRange(context.Background(), "events:dlq:inbound", "-", "+").Result()
		return err == nil && len(dlq) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDedup(t *testing.T) {
	client, _ := newTestClient(t)
	d := NewDedup(client, "reputation", time.Hour)

	seen, err := d.Seen(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(context.Background(), "e2")
	require.NoError(t, err)
	assert.False(t, seen)
}
