package pusher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// WebhookPusher forwards actions as JSON POSTs to an operator-configured
// endpoint; the catch-all for platforms without a native pusher.
type WebhookPusher struct {
	platform events.Platform
	url      string
	secret   string
	client   *http.Client
}

// NewWebhookPusher creates a generic pusher for platform.
func NewWebhookPusher(platform events.Platform, url, secret string) *WebhookPusher {
	return &WebhookPusher{platform: platform, url: url, secret: secret, client: &http.Client{}}
}

func (p *WebhookPusher) Platform() events.Platform { return p.platform }

func (p *WebhookPusher) SendChat(ctx context.Context, msg *ChatMessage) error {
	return p.post(ctx, map[string]any{
		"type":       "chat",
		"entity_id":  msg.EntityID,
		"channel_id": msg.ChannelID,
		"message":    msg.Message,
	})
}

func (p *WebhookPusher) Moderate(ctx context.Context, req *reputation.ModerationRequest) error {
	return p.post(ctx, map[string]any{
		"type":       "moderation",
		"action":     req.Action,
		"entity_id":  req.EntityID,
		"user_id":    req.UserID,
		"duration_s": int(req.Duration.Seconds()),
		"reason":     req.Reason,
	})
}

func (p *WebhookPusher) post(ctx context.Context, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set("X-Webhook-Secret", p.secret)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", werrors.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned %d", werrors.ErrDependencyUnavailable, resp.StatusCode)
	}
	return nil
}
