package receiver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
)

// Kick chat rides a Pusher WebSocket; moderation and channel events arrive
// as signed webhooks.
const (
	kickPusherURL     = "wss://ws-%s.pusher.com/app/%s?protocol=7&client=waddlebot&version=1.0"
	kickPusherCluster = "us2"
)

// KickAdapter subscribes to chatroom channels over the Pusher protocol and
// serves the signed webhook endpoint.
type KickAdapter struct {
	pusherKey string
	emitter   *Emitter
	guard     *WebhookGuard
	wsURL     string
	log       *zap.Logger

	mu        sync.Mutex
	channels  map[string]routing.Channel // chatroomID -> channel
	subscribe chan string
}

// NewKickAdapter creates the adapter. guard verifies webhook signatures;
// an empty cluster falls back to us2.
func NewKickAdapter(pusherKey, cluster string, emitter *Emitter, guard *WebhookGuard, log *zap.Logger) *KickAdapter {
	if cluster == "" {
		cluster = kickPusherCluster
	}
	return &KickAdapter{
		pusherKey: pusherKey,
		emitter:   emitter,
		guard:     guard,
		wsURL:     fmt.Sprintf(kickPusherURL, cluster, pusherKey),
		log:       log.With(zap.String("module", "receiver.kick")),
		channels:  make(map[string]routing.Channel),
		subscribe: make(chan string, 64),
	}
}

func (a *KickAdapter) Platform() events.Platform { return events.PlatformKick }

func (a *KickAdapter) UpdateChannels(channels []routing.Channel) {
	next := make(map[string]routing.Channel, len(channels))
	for _, ch := range channels {
		_, _, chatroomID, err := events.ParseEntityID(ch.EntityID)
		if err != nil {
			continue
		}
		next[chatroomID] = ch
	}
	a.mu.Lock()
	for id := range next {
		if _, ok := a.channels[id]; !ok {
			select {
			case a.subscribe <- id:
			default:
			}
		}
	}
	a.channels = next
	a.mu.Unlock()
}

// Run keeps the Pusher connection alive, resubscribing after reconnects.
func (a *KickAdapter) Run(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), ctx)
	return backoff.Retry(func() error {
		if err := a.session(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			a.log.Warn("pusher session ended, reconnecting", zap.Error(err))
			return err
		}
		return backoff.Permanent(nil)
	}, policy)
}

type pusherFrame struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Channel string `json:"channel,omitempty"`
}

func (a *KickAdapter) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pusher dial: %w", err)
	}
	defer conn.Close()

	// The subscribe goroutine and the read loop both write; gorilla allows
	// one concurrent writer per connection.
	var wmu sync.Mutex
	send := func(frame pusherFrame) error {
		raw, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, raw)
	}
	subscribeTo := func(chatroomID string) error {
		data, _ := json.Marshal(map[string]string{"channel": "chatrooms." + chatroomID + ".v2"})
		return send(pusherFrame{Event: "pusher:subscribe", Data: string(data)})
	}

	a.mu.Lock()
	ids := make([]string, 0, len(a.channels))
	for id := range a.channels {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		if err := subscribeTo(id); err != nil {
			return err
		}
	}

	// The goroutine dies with this session so a reconnect never leaves a
	// stale consumer draining a.subscribe into a closed connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case id := <-a.subscribe:
				if err := subscribeTo(id); err != nil {
					a.log.Warn("subscribe failed", zap.String("chatroom", id), zap.Error(err))
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var frame pusherFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "pusher:ping":
			_ = send(pusherFrame{Event: "pusher:pong", Data: "{}"})
		case "App\\Events\\ChatMessageEvent":
			if env := a.chatEnvelope(frame); env != nil {
				if err := a.emitter.Emit(ctx, env); err != nil {
					a.log.Warn("emit failed", zap.Error(err))
				}
			}
		}
	}
}

// chatEnvelope parses a Pusher chat frame. The data field is itself a JSON
// string per the Pusher protocol.
func (a *KickAdapter) chatEnvelope(frame pusherFrame) *events.Envelope {
	var msg struct {
		Content    string `json:"content"`
		ChatroomID int64  `json:"chatroom_id"`
		Sender     struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"sender"`
	}
	if err := json.Unmarshal([]byte(frame.Data), &msg); err != nil {
		a.log.Warn("malformed chat frame", zap.Error(err))
		return nil
	}
	chatroom := fmt.Sprintf("%d", msg.ChatroomID)
	return &events.Envelope{
		EventType:   events.EventChatMessage,
		Platform:    events.PlatformKick,
		ServerID:    chatroom,
		ChannelID:   chatroom,
		UserID:      fmt.Sprintf("%d", msg.Sender.ID),
		Username:    msg.Sender.Username,
		DisplayName: msg.Sender.Username,
		Message:     msg.Content,
	}
}

// WebhookHandler serves the signed Kick webhook for non-chat events.
func (a *KickAdapter) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := a.guard.ReadVerified(w, r)
		if !ok {
			return
		}
		var payload struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		str := func(key string) string {
			v, _ := payload.Data[key].(string)
			return v
		}
		chatroom := str("chatroom_id")
		env := &events.Envelope{
			Platform:  events.PlatformKick,
			ServerID:  chatroom,
			ChannelID: chatroom,
			UserID:    str("user_id"),
			Username:  str("username"),
			Metadata:  map[string]any{},
		}
		switch payload.Event {
		case "channel.followed":
			env.EventType = events.EventFollow
		case "channel.subscription.new", "channel.subscription.renewal":
			env.EventType = events.EventSubscription
		case "channel.subscription.gifts":
			env.EventType = events.EventSubGift
		case "moderation.banned":
			env.EventType = events.EventBan
		default:
			env.EventType = events.EventUnknown
			env.Metadata["raw"] = payload.Data
		}
		if env.ChannelID == "" {
			env.ServerID, env.ChannelID = "events", "events"
		}
		if err := a.emitter.Emit(r.Context(), env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
