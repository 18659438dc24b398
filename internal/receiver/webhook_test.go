package receiver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
)

type capturePublisher struct {
	mu   sync.Mutex
	envs []*events.Envelope
}

func (c *capturePublisher) Publish(_ context.Context, _ string, env *events.Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *capturePublisher) all() []*events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*events.Envelope(nil), c.envs...)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := SignBody("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("secret", body, sig+"00"))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
}

func TestWebhookGuardRejectsBadSignature(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	audit := aaa.NewLogger(zap.New(core))
	guard := NewWebhookGuard("secret", "X-Signature", audit, zap.NewNop())

	pub := &capturePublisher{}
	emitter := NewEmitter(pub, zap.NewNop())
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, ok := guard.ReadVerified(w, r)
		if !ok {
			return
		}
		_ = emitter.Emit(r.Context(), &events.Envelope{
			EventType: events.EventFollow,
			Platform:  events.PlatformKick,
			ServerID:  "s", ChannelID: "c",
			Message: string(body),
		})
		w.WriteHeader(http.StatusNoContent)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	handler(rec, req)

	// 401, no inbound entry, one AUTH FAILURE audit record.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pub.all())
	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(aaa.EventAuth), fields["aaa_type"])
	assert.Equal(t, string(aaa.ResultFailure), fields["result"])
}

func TestWebhookGuardAcceptsValidSignature(t *testing.T) {
	guard := NewWebhookGuard("secret", "X-Signature", aaa.NewLogger(zap.NewNop()), zap.NewNop())
	body := []byte(`{"event":"x"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Signature", SignBody("secret", body))
	rec := httptest.NewRecorder()

	got, ok := guard.ReadVerified(rec, req)
	require.True(t, ok)
	assert.Equal(t, body, got)
}

func TestHandleWebSubEchoesChallenge(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/websub?hub.mode=subscribe&hub.topic=https://yt/feed&hub.challenge=abc123", nil)
	rec := httptest.NewRecorder()

	handled := HandleWebSub(rec, req, func(topic string) bool { return topic == "https://yt/feed" })
	require.True(t, handled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
}

func TestHandleWebSubRejectsUnknownTopic(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/websub?hub.mode=subscribe&hub.topic=https://evil&hub.challenge=abc", nil)
	rec := httptest.NewRecorder()

	handled := HandleWebSub(rec, req, func(string) bool { return false })
	require.True(t, handled)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmitterFillsDefaults(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewEmitter(pub, zap.NewNop())

	err := emitter.Emit(context.Background(), &events.Envelope{
		EventType: events.EventChatMessage,
		Platform:  events.PlatformTwitch,
		ServerID:  "foo",
		ChannelID: "1",
		UserID:    "u1",
		Message:   "hi",
	})
	require.NoError(t, err)
	envs := pub.all()
	require.Len(t, envs, 1)
	assert.NotEmpty(t, envs[0].EventID)
	assert.False(t, envs[0].Timestamp.IsZero())
	assert.Equal(t, "twitch:foo:1", envs[0].EntityID)
}
