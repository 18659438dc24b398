package receiver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
)

func newKickAdapter() (*KickAdapter, *capturePublisher) {
	pub := &capturePublisher{}
	log := zap.NewNop()
	guard := NewWebhookGuard("kick-secret", "Kick-Event-Signature", aaa.NewLogger(log), log)
	return NewKickAdapter("app-key", "", NewEmitter(pub, log), guard, log), pub
}

func TestKickChatEnvelope(t *testing.T) {
	a, _ := newKickAdapter()
	frame := pusherFrame{
		Event: `App\Events\ChatMessageEvent`,
		Data:  `{"content":"sup chat","chatroom_id":777,"sender":{"id":12,"username":"kicker"}}`,
	}

	env := a.chatEnvelope(frame)
	require.NotNil(t, env)
	assert.Equal(t, events.EventChatMessage, env.EventType)
	assert.Equal(t, events.PlatformKick, env.Platform)
	assert.Equal(t, "777", env.ChannelID)
	assert.Equal(t, "12", env.UserID)
	assert.Equal(t, "kicker", env.Username)
	assert.Equal(t, "sup chat", env.Message)
}

func TestKickChatEnvelopeMalformedData(t *testing.T) {
	a, _ := newKickAdapter()
	assert.Nil(t, a.chatEnvelope(pusherFrame{Event: `App\Events\ChatMessageEvent`, Data: "not json"}))
}

func kickWebhookRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/kick/webhook", bytes.NewReader(body))
	req.Header.Set("Kick-Event-Signature", SignBody("kick-secret", body))
	return req
}

func TestKickWebhookFollow(t *testing.T) {
	a, pub := newKickAdapter()
	body := []byte(`{"event":"channel.followed","data":{"chatroom_id":"777","user_id":"12","username":"kicker"}}`)

	rec := httptest.NewRecorder()
	a.WebhookHandler()(rec, kickWebhookRequest(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	envs := pub.all()
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventFollow, envs[0].EventType)
	assert.Equal(t, "kick:777:777", envs[0].EntityID)
}

func TestKickWebhookUnknownEvent(t *testing.T) {
	a, pub := newKickAdapter()
	body := []byte(`{"event":"channel.something","data":{"chatroom_id":"777","foo":"bar"}}`)

	rec := httptest.NewRecorder()
	a.WebhookHandler()(rec, kickWebhookRequest(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	envs := pub.all()
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventUnknown, envs[0].EventType)
	raw, ok := envs[0].Metadata["raw"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bar", raw["foo"])
}

func TestKickWebhookRejectsUnsigned(t *testing.T) {
	a, pub := newKickAdapter()
	req := httptest.NewRequest(http.MethodPost, "/kick/webhook", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	a.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pub.all())
}

func TestKickSessionWriterScopedToSession(t *testing.T) {
	a, _ := newKickAdapter()

	received := make(chan pusherFrame, 256)
	closeConn := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() { <-closeConn; _ = conn.Close() }()
		go func() {
			for i := 0; i < 50; i++ {
				if conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pusher:ping","data":"{}"}`)) != nil {
					return
				}
			}
		}()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f pusherFrame
			if json.Unmarshal(raw, &f) == nil {
				received <- f
			}
		}
	}))
	defer srv.Close()

	a.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessErr := make(chan error, 1)
	go func() { sessErr <- a.session(ctx) }()

	// Pings drive read-loop pongs while subscribes flow through the
	// membership goroutine: both paths write to the same connection.
	for i := 0; i < 40; i++ {
		a.subscribe <- fmt.Sprintf("%d", i)
	}
	pongs, subs := 0, 0
	deadline := time.After(5 * time.Second)
	for pongs == 0 || subs < 40 {
		select {
		case f := <-received:
			switch f.Event {
			case "pusher:pong":
				pongs++
			case "pusher:subscribe":
				subs++
			default:
				t.Fatalf("unexpected frame %q", f.Event)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for writes: pongs=%d subs=%d", pongs, subs)
		}
	}

	// Drop the connection server-side while ctx stays live: the session
	// ends and must take its membership goroutine with it.
	close(closeConn)
	select {
	case err := <-sessErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	time.Sleep(50 * time.Millisecond)
	a.subscribe <- "stale"
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, a.subscribe, 1, "nothing may drain the subscribe queue after the session ends")
}
