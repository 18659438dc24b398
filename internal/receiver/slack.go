package receiver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
)

// Slack signing headers (v0 scheme).
const (
	slackSignatureHeader = "X-Slack-Signature"
	slackTimestampHeader = "X-Slack-Request-Timestamp"
	slackTimestampSkew   = 5 * time.Minute
)

// SlackAdapter receives the signed Events API and block-kit interaction
// payloads. Slack pushes over HTTPS; Run only parks until shutdown.
type SlackAdapter struct {
	signingSecret string
	emitter       *Emitter
	audit         *aaa.Logger
	log           *zap.Logger

	mu       sync.Mutex
	channels map[string]routing.Channel // teamID -> channel
}

// NewSlackAdapter creates the adapter.
func NewSlackAdapter(signingSecret string, emitter *Emitter, audit *aaa.Logger, log *zap.Logger) *SlackAdapter {
	return &SlackAdapter{
		signingSecret: signingSecret,
		emitter:       emitter,
		audit:         audit,
		log:           log.With(zap.String("module", "receiver.slack")),
		channels:      make(map[string]routing.Channel),
	}
}

func (a *SlackAdapter) Platform() events.Platform { return events.PlatformSlack }

func (a *SlackAdapter) UpdateChannels(channels []routing.Channel) {
	next := make(map[string]routing.Channel, len(channels))
	for _, ch := range channels {
		_, teamID, _, err := events.ParseEntityID(ch.EntityID)
		if err != nil {
			continue
		}
		next[teamID] = ch
	}
	a.mu.Lock()
	a.channels = next
	a.mu.Unlock()
}

func (a *SlackAdapter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// verify checks the Slack v0 signature with a bounded timestamp skew.
func (a *SlackAdapter) verify(r *http.Request, body []byte) bool {
	ts := r.Header.Get(slackTimestampHeader)
	sig := r.Header.Get(slackSignatureHeader)
	if ts == "" || sig == "" {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := time.Since(time.Unix(unix, 0)); d > slackTimestampSkew || d < -slackTimestampSkew {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.signingSecret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

// EventsHandler serves the Events API endpoint: url_verification challenges
// and event_callback payloads.
func (a *SlackAdapter) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		if !a.verify(r, body) {
			a.audit.Emit(aaa.Record{
				EventType: aaa.EventAuth,
				Actor:     r.RemoteAddr,
				Subject:   r.URL.Path,
				Action:    "webhook:verify",
				Result:    aaa.ResultFailure,
				Detail:    "invalid slack signature",
			})
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload struct {
			Type      string         `json:"type"`
			Challenge string         `json:"challenge"`
			TeamID    string         `json:"team_id"`
			Event     map[string]any `json:"event"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		switch payload.Type {
		case "url_verification":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"challenge": payload.Challenge})
		case "event_callback":
			env := a.normalize(payload.TeamID, payload.Event)
			if env != nil {
				if err := a.emitter.Emit(r.Context(), env); err != nil {
					a.log.Warn("emit failed", zap.Error(err))
				}
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

// normalize maps a Slack event to an envelope. Unknown event types emit
// event_type=unknown with the payload under metadata.raw.
func (a *SlackAdapter) normalize(teamID string, event map[string]any) *events.Envelope {
	str := func(key string) string {
		v, _ := event[key].(string)
		return v
	}
	// Bot echoes would loop the pipeline.
	if str("bot_id") != "" {
		return nil
	}
	env := &events.Envelope{
		Platform:  events.PlatformSlack,
		ServerID:  teamID,
		ChannelID: str("channel"),
		UserID:    str("user"),
		Message:   str("text"),
		Metadata:  map[string]any{},
	}
	switch str("type") {
	case "message":
		env.EventType = events.EventChatMessage
	case "app_mention":
		env.EventType = events.EventAppMention
	case "member_joined_channel":
		env.EventType = events.EventChannelJoin
	case "reaction_added":
		env.EventType = events.EventReaction
		env.Metadata["reaction"] = str("reaction")
		if item, ok := event["item"].(map[string]any); ok {
			if ch, ok := item["channel"].(string); ok {
				env.ChannelID = ch
			}
		}
	case "file_shared":
		env.EventType = events.EventFileShare
		env.ChannelID = str("channel_id")
	default:
		env.EventType = events.EventUnknown
		env.Metadata["raw"] = event
	}
	if env.ChannelID == "" {
		return nil
	}
	return env
}

// InteractionsHandler serves block-kit interaction callbacks (buttons,
// select menus, modals). Slack posts these as form-encoded payload fields.
func (a *SlackAdapter) InteractionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		if !a.verify(r, body) {
			a.audit.Emit(aaa.Record{
				EventType: aaa.EventAuth,
				Actor:     r.RemoteAddr,
				Subject:   r.URL.Path,
				Action:    "webhook:verify",
				Result:    aaa.ResultFailure,
				Detail:    "invalid slack signature",
			})
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		values, err := parseForm(body)
		if err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		var payload struct {
			Type string `json:"type"`
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
			Channel struct {
				ID string `json:"id"`
			} `json:"channel"`
			User struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"user"`
			Actions []struct {
				ActionID string `json:"action_id"`
				Value    string `json:"value"`
			} `json:"actions"`
		}
		if err := json.Unmarshal([]byte(values), &payload); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		env := &events.Envelope{
			EventType: events.EventReaction,
			Platform:  events.PlatformSlack,
			ServerID:  payload.Team.ID,
			ChannelID: payload.Channel.ID,
			UserID:    payload.User.ID,
			Username:  payload.User.Username,
			Metadata:  map[string]any{"interaction": payload.Type},
		}
		if len(payload.Actions) > 0 {
			env.Metadata["action_id"] = payload.Actions[0].ActionID
			env.Metadata["value"] = payload.Actions[0].Value
		}
		if err := a.emitter.Emit(r.Context(), env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
		w.WriteHeader(http.StatusOK)
	}
}

// parseForm extracts the payload field from a form-encoded interaction body.
func parseForm(body []byte) (string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", err
	}
	payload := values.Get("payload")
	if payload == "" {
		return "", fmt.Errorf("missing payload field")
	}
	return payload, nil
}
