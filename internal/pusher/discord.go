package pusher

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// DiscordSession is the slice of discordgo.Session the pusher needs.
type DiscordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
}

// DiscordPusher sends chat and moderation actions through the Discord REST
// API.
type DiscordPusher struct {
	session DiscordSession
}

// NewDiscordPusher wraps an authenticated discordgo session.
func NewDiscordPusher(session DiscordSession) *DiscordPusher {
	return &DiscordPusher{session: session}
}

func (p *DiscordPusher) Platform() events.Platform { return events.PlatformDiscord }

func (p *DiscordPusher) SendChat(_ context.Context, msg *ChatMessage) error {
	if _, err := p.session.ChannelMessageSend(msg.ChannelID, msg.Message); err != nil {
		return fmt.Errorf("%w: discord send: %v", werrors.ErrDependencyUnavailable, err)
	}
	return nil
}

func (p *DiscordPusher) Moderate(_ context.Context, req *reputation.ModerationRequest) error {
	_, guildID, _, err := events.ParseEntityID(req.EntityID)
	if err != nil {
		return fmt.Errorf("%w: %v", werrors.ErrValidation, err)
	}
	switch req.Action {
	case "ban":
		if err := p.session.GuildBanCreateWithReason(guildID, req.UserID, req.Reason, 0); err != nil {
			return fmt.Errorf("%w: discord ban: %v", werrors.ErrDependencyUnavailable, err)
		}
	case "timeout":
		until := time.Now().Add(req.Duration)
		if err := p.session.GuildMemberTimeout(guildID, req.UserID, &until); err != nil {
			return fmt.Errorf("%w: discord timeout: %v", werrors.ErrDependencyUnavailable, err)
		}
	default:
		return fmt.Errorf("%w: unknown moderation action %q", werrors.ErrValidation, req.Action)
	}
	return nil
}
