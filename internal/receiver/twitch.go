package receiver

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
)

const twitchIRCAddr = "irc.chat.twitch.tv:6697"

// TwitchAdapter joins Twitch chat over IRC and receives EventSub webhooks.
// Chat messages and EventSub notifications both normalize to envelopes.
type TwitchAdapter struct {
	nick    string
	tokens  *TwitchTokenManager
	emitter *Emitter
	guard   *WebhookGuard
	dial    func(ctx context.Context) (net.Conn, error)
	log     *zap.Logger

	mu       sync.Mutex
	channels map[string]routing.Channel // login -> channel
	joins    chan string
	parts    chan string
}

// NewTwitchAdapter creates the adapter. guard verifies EventSub signatures.
func NewTwitchAdapter(nick string, tokens *TwitchTokenManager, emitter *Emitter, guard *WebhookGuard, log *zap.Logger) *TwitchAdapter {
	return &TwitchAdapter{
		nick:    nick,
		tokens:  tokens,
		emitter: emitter,
		guard:   guard,
		dial: func(ctx context.Context) (net.Conn, error) {
			d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
			return d.DialContext(ctx, "tcp", twitchIRCAddr)
		},
		log:      log.With(zap.String("module", "receiver.twitch")),
		channels: make(map[string]routing.Channel),
		joins:    make(chan string, 64),
		parts:    make(chan string, 64),
	}
}

func (a *TwitchAdapter) Platform() events.Platform { return events.PlatformTwitch }

// UpdateChannels diffs the new channel set against the joined one and queues
// JOIN/PART commands for the connection loop.
func (a *TwitchAdapter) UpdateChannels(channels []routing.Channel) {
	next := make(map[string]routing.Channel, len(channels))
	for _, ch := range channels {
		_, _, login, err := events.ParseEntityID(ch.EntityID)
		if err != nil {
			continue
		}
		next[strings.ToLower(login)] = ch
	}
	a.mu.Lock()
	for login := range next {
		if _, ok := a.channels[login]; !ok {
			select {
			case a.joins <- login:
			default:
			}
		}
	}
	for login := range a.channels {
		if _, ok := next[login]; !ok {
			select {
			case a.parts <- login:
			default:
			}
		}
	}
	a.channels = next
	a.mu.Unlock()
}

// Run keeps one IRC connection alive until ctx ends, reconnecting with
// jittered back-off.
func (a *TwitchAdapter) Run(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), ctx)
	return backoff.Retry(func() error {
		if err := a.session(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			a.log.Warn("irc session ended, reconnecting", zap.Error(err))
			return err
		}
		return backoff.Permanent(nil)
	}, policy)
}

func (a *TwitchAdapter) session(ctx context.Context) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("irc auth: %w", err)
	}
	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("irc dial: %w", err)
	}
	defer conn.Close()

	// The membership goroutine and the read loop both write; the mutex
	// keeps lines from interleaving mid-flush.
	w := bufio.NewWriter(conn)
	var wmu sync.Mutex
	send := func(line string) error {
		wmu.Lock()
		defer wmu.Unlock()
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			return err
		}
		return w.Flush()
	}

	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		return err
	}
	if err := send("PASS oauth:" + token); err != nil {
		return err
	}
	if err := send("NICK " + a.nick); err != nil {
		return err
	}
	a.mu.Lock()
	for login := range a.channels {
		if err := send("JOIN #" + login); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.mu.Unlock()

	// Membership changes arrive from UpdateChannels while we read. The
	// goroutine dies with this session so a reconnect never leaves a stale
	// consumer swallowing JOINs into a dead connection.
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
			case login := <-a.joins:
				if err := send("JOIN #" + login); err != nil {
					return
				}
			case login := <-a.parts:
				if err := send("PART #" + login); err != nil {
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if strings.HasPrefix(line, "PING") {
			_ = send("PONG" + strings.TrimPrefix(line, "PING"))
			continue
		}
		if env := parseIRCMessage(line); env != nil {
			if err := a.emitter.Emit(ctx, env); err != nil {
				a.log.Warn("emit failed", zap.Error(err))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("irc connection closed")
}

// parseIRCMessage maps a tagged PRIVMSG line to an envelope. Other IRC
// traffic returns nil.
func parseIRCMessage(line string) *events.Envelope {
	tags := map[string]string{}
	rest := line
	if strings.HasPrefix(rest, "@") {
		sp := strings.Index(rest, " ")
		if sp < 0 {
			return nil
		}
		for _, kv := range strings.Split(rest[1:sp], ";") {
			if eq := strings.Index(kv, "="); eq >= 0 {
				tags[kv[:eq]] = kv[eq+1:]
			}
		}
		rest = rest[sp+1:]
	}
	if !strings.HasPrefix(rest, ":") {
		return nil
	}
	sp := strings.Index(rest, " ")
	if sp < 0 {
		return nil
	}
	prefix := rest[1:sp]
	rest = rest[sp+1:]
	if !strings.HasPrefix(rest, "PRIVMSG ") {
		return nil
	}
	rest = strings.TrimPrefix(rest, "PRIVMSG ")
	sp = strings.Index(rest, " :")
	if sp < 0 {
		return nil
	}
	channel := strings.TrimPrefix(rest[:sp], "#")
	message := rest[sp+2:]
	username := prefix
	if bang := strings.Index(prefix, "!"); bang >= 0 {
		username = prefix[:bang]
	}

	meta := map[string]any{}
	for k, v := range tags {
		if v != "" {
			meta[k] = v
		}
	}
	return &events.Envelope{
		EventType:   events.EventChatMessage,
		Platform:    events.PlatformTwitch,
		ServerID:    channel,
		ChannelID:   channel,
		EntityID:    events.MakeEntityID(events.PlatformTwitch, channel, channel),
		UserID:      tags["user-id"],
		Username:    username,
		DisplayName: tags["display-name"],
		Message:     message,
		Metadata:    meta,
	}
}

// EventSub message types.
const (
	eventSubVerification = "webhook_callback_verification"
	eventSubNotification = "notification"
	eventSubRevocation   = "revocation"
)

// EventSubHandler serves the EventSub webhook callback: it answers
// verification challenges and normalizes notifications.
func (a *TwitchAdapter) EventSubHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := a.guard.ReadVerified(w, r)
		if !ok {
			return
		}
		var payload struct {
			Challenge    string `json:"challenge"`
			Subscription struct {
				Type string `json:"type"`
			} `json:"subscription"`
			Event map[string]any `json:"event"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Twitch-Eventsub-Message-Type") {
		case eventSubVerification:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(payload.Challenge))
		case eventSubRevocation:
			a.log.Warn("eventsub subscription revoked", zap.String("type", payload.Subscription.Type))
			w.WriteHeader(http.StatusOK)
		case eventSubNotification:
			env := eventSubEnvelope(payload.Subscription.Type, payload.Event)
			if err := a.emitter.Emit(r.Context(), env); err != nil {
				a.log.Warn("emit failed", zap.Error(err))
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// eventSubEnvelope maps an EventSub notification to an envelope. Unknown
// subscription types emit event_type=unknown with the payload in
// metadata.raw.
func eventSubEnvelope(subType string, event map[string]any) *events.Envelope {
	str := func(key string) string {
		v, _ := event[key].(string)
		return v
	}
	channel := str("broadcaster_user_login")
	env := &events.Envelope{
		Platform:    events.PlatformTwitch,
		ServerID:    channel,
		ChannelID:   channel,
		EntityID:    events.MakeEntityID(events.PlatformTwitch, channel, channel),
		UserID:      str("user_id"),
		Username:    str("user_login"),
		DisplayName: str("user_name"),
		Metadata:    map[string]any{"subscription_type": subType},
	}
	switch subType {
	case "channel.follow":
		env.EventType = events.EventFollow
	case "channel.subscribe":
		env.EventType = events.EventSubscription
		if tier, ok := event["tier"].(string); ok {
			env.Metadata["tier"] = tier
		}
	case "channel.subscription.gift":
		env.EventType = events.EventSubGift
	case "channel.subscription.message":
		env.EventType = events.EventResub
	case "channel.cheer":
		env.EventType = events.EventCheer
		if bits, ok := event["bits"].(float64); ok {
			env.Metadata["bits"] = int(bits)
		}
	case "channel.raid":
		env.EventType = events.EventRaid
		channel = str("to_broadcaster_user_login")
		env.ServerID, env.ChannelID = channel, channel
		env.EntityID = events.MakeEntityID(events.PlatformTwitch, channel, channel)
		env.Username = str("from_broadcaster_user_login")
		env.UserID = str("from_broadcaster_user_id")
		if viewers, ok := event["viewers"].(float64); ok {
			env.Metadata["viewer_count"] = int(viewers)
		}
	case "channel.ban":
		env.EventType = events.EventBan
	default:
		env.EventType = events.EventUnknown
		env.Metadata["raw"] = event
	}
	return env
}
