package pusher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// TwitchPusher sends chat and moderation actions through the Helix API.
type TwitchPusher struct {
	clientID  string
	botUserID string
	token     func() (string, error) // returns a live app/bot access token
	baseURL   string
	client    *http.Client
}

// NewTwitchPusher creates a Helix-backed pusher. token supplies the current
// OAuth token so refreshes propagate without rebuilding the pusher.
func NewTwitchPusher(clientID, botUserID string, token func() (string, error)) *TwitchPusher {
	return &TwitchPusher{
		clientID:  clientID,
		botUserID: botUserID,
		token:     token,
		baseURL:   helixBaseURL,
		client:    &http.Client{},
	}
}

func (p *TwitchPusher) Platform() events.Platform { return events.PlatformTwitch }

func (p *TwitchPusher) SendChat(ctx context.Context, msg *ChatMessage) error {
	body := map[string]string{
		"broadcaster_id": msg.ChannelID,
		"sender_id":      p.botUserID,
		"message":        msg.Message,
	}
	return p.post(ctx, "/chat/messages", body)
}

func (p *TwitchPusher) Moderate(ctx context.Context, req *reputation.ModerationRequest) error {
	_, _, channelID, err := events.ParseEntityID(req.EntityID)
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrValidation, err)
	}
	data := map[string]any{"user_id": req.UserID, "reason": req.Reason}
	if req.Action == "timeout" {
		data["duration"] = int(req.Duration.Seconds())
	}
	path := fmt.Sprintf("/moderation/bans?broadcaster_id=%s&moderator_id=%s", channelID, p.botUserID)
	return p.post(ctx, path, map[string]any{"data": data})
}

func (p *TwitchPusher) post(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal helix payload: %v", werrors.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrInternal, err)
	}
	token, err := p.token()
	if err != nil {
		return fmt.Errorf("%w: twitch token: %v", werrors.ErrDependencyUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", p.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: helix: %v", werrors.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: helix returned %d: %s", werrors.ErrDependencyUnavailable, resp.StatusCode, msg)
	}
	return nil
}
