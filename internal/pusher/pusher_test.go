package pusher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

func TestTwitchSendChat(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewTwitchPusher("client-1", "bot-9", func() (string, error) { return "tok", nil })
	p.baseURL = srv.URL

	err := p.SendChat(context.Background(), &ChatMessage{ChannelID: "123", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "/chat/messages", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "123", gotBody["broadcaster_id"])
	assert.Equal(t, "bot-9", gotBody["sender_id"])
	assert.Equal(t, "hello", gotBody["message"])
}

func TestTwitchModerateTimeout(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewTwitchPusher("client-1", "bot-9", func() (string, error) { return "tok", nil })
	p.baseURL = srv.URL

	err := p.Moderate(context.Background(), &reputation.ModerationRequest{
		EntityID: "twitch:foo:123",
		UserID:   "u1",
		Action:   "timeout",
		Duration: 5 * time.Minute,
		Reason:   "escalation",
	})
	require.NoError(t, err)
	data := gotBody["data"].(map[string]any)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, float64(300), data["duration"])
}

func TestRegistryRoutesByPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry(zap.NewNop(),
		NewWebhookPusher(events.PlatformKick, srv.URL, ""),
	)
	err := reg.SendChat(context.Background(), events.PlatformKick, &ChatMessage{Message: "hi"})
	assert.NoError(t, err)

	err = reg.SendChat(context.Background(), events.PlatformTwitch, &ChatMessage{Message: "hi"})
	assert.ErrorIs(t, err, werrors.ErrNotFound)
}

func TestActionsHandlerChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry(zap.NewNop(), NewWebhookPusher(events.PlatformKick, srv.URL, ""))
	handler := reg.ActionsHandler(nil)

	err := handler(context.Background(), &events.Envelope{
		EventID:   "ev-1",
		EventType: events.EventChatMessage,
		Platform:  events.PlatformKick,
		EntityID:  "kick:srv:1",
		ChannelID: "1",
		Message:   "pong",
		Timestamp: time.Now(),
		Metadata:  map[string]any{"action": "chat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", got["message"])
}

func TestActionsHandlerModeration(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry(zap.NewNop(), NewWebhookPusher(events.PlatformKick, srv.URL, ""))
	handler := reg.ActionsHandler(nil)

	err := handler(context.Background(), &events.Envelope{
		EventID:   "ev-2",
		EventType: events.EventTimeout,
		Platform:  events.PlatformKick,
		EntityID:  "kick:srv:1",
		UserID:    "u1",
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"action":            "moderation",
			"moderation_action": "timeout",
			"duration_seconds":  float64(300),
			"reason":            "escalation",
			"community_id":      "c1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "moderation", got["type"])
	assert.Equal(t, "timeout", got["action"])
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, float64(300), got["duration_s"])
	assert.Equal(t, "escalation", got["reason"])
}
