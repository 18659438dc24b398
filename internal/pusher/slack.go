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

const slackBaseURL = "https://slack.com/api"

// SlackPusher posts messages through the Slack Web API. Slack has no
// first-class timeout/ban, so moderation requests are reported to the
// channel instead of enforced.
type SlackPusher struct {
	botToken string
	baseURL  string
	client   *http.Client
}

// NewSlackPusher creates a Web-API pusher.
func NewSlackPusher(botToken string) *SlackPusher {
	return &SlackPusher{botToken: botToken, baseURL: slackBaseURL, client: &http.Client{}}
}

func (p *SlackPusher) Platform() events.Platform { return events.PlatformSlack }

func (p *SlackPusher) SendChat(ctx context.Context, msg *ChatMessage) error {
	return p.postMessage(ctx, msg.ChannelID, msg.Message)
}

func (p *SlackPusher) Moderate(ctx context.Context, req *reputation.ModerationRequest) error {
	_, _, channelID, err := events.ParseEntityID(req.EntityID)
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrValidation, err)
	}
	text := fmt.Sprintf("moderation: %s for <@%s> (%s)", req.Action, req.UserID, req.Reason)
	return p.postMessage(ctx, channelID, text)
}

func (p *SlackPusher) postMessage(ctx context.Context, channel, text string) error {
	raw, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat.postMessage", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: slack: %v", werrors.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil || !out.OK {
		return fmt.Errorf("%w: slack postMessage: %s", werrors.ErrDependencyUnavailable, out.Error)
	}
	return nil
}
