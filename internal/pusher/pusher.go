// Package pusher delivers router and reputation side-effects back to the
// platforms: chat sends, moderation actions, and overlay broadcasts.
package pusher

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChatMessage is one outbound chat send.
type ChatMessage struct {
	EntityID  string
	ServerID  string
	ChannelID string
	Message   string
}

// Pusher delivers actions to one platform.
type Pusher interface {
	Platform() events.Platform
	SendChat(ctx context.Context, msg *ChatMessage) error
	Moderate(ctx context.Context, req *reputation.ModerationRequest) error
}

// Registry routes actions to per-platform pushers. It satisfies
// reputation.ModerationSink.
type Registry struct {
	pushers map[events.Platform]Pusher
	log     *zap.Logger
}

// NewRegistry creates a registry over the given pushers.
func NewRegistry(log *zap.Logger, pushers ...Pusher) *Registry {
	m := make(map[events.Platform]Pusher, len(pushers))
	for _, p := range pushers {
		m[p.Platform()] = p
	}
	return &Registry{pushers: m, log: log.With(zap.String("module", "pusher"))}
}

func (r *Registry) pusher(platform events.Platform) (Pusher, error) {
	p, ok := r.pushers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no pusher for platform %s", werrors.ErrNotFound, platform)
	}
	return p, nil
}

// SendChat delivers a chat message on the platform that owns the entity.
func (r *Registry) SendChat(ctx context.Context, platform events.Platform, msg *ChatMessage) error {
	p, err := r.pusher(platform)
	if err != nil {
		return err
	}
	return p.SendChat(ctx, msg)
}

// Moderate delivers a moderation request. Platform comes from the request.
func (r *Registry) Moderate(ctx context.Context, req *reputation.ModerationRequest) error {
	p, err := r.pusher(events.Platform(req.Platform))
	if err != nil {
		return err
	}
	return p.Moderate(ctx, req)
}

// ActionsHandler consumes the actions stream: chat actions go to the
// platform pusher, overlay actions to the broadcaster. Unroutable actions
// are a terminal skip.
func (r *Registry) ActionsHandler(overlay *OverlayHub) func(ctx context.Context, env *events.Envelope) error {
	return func(ctx context.Context, env *events.Envelope) error {
		action, _ := env.Metadata["action"].(string)
		switch action {
		case "overlay":
			if overlay == nil {
				return nil
			}
			return overlay.Broadcast(env.EntityID, "overlay", env.Metadata)
		case "moderation":
			req := &reputation.ModerationRequest{
				UserID:   env.UserID,
				Platform: string(env.Platform),
				EntityID: env.EntityID,
			}
			req.CommunityID, _ = env.Metadata["community_id"].(string)
			req.Action, _ = env.Metadata["moderation_action"].(string)
			req.Reason, _ = env.Metadata["reason"].(string)
			if secs, ok := env.Metadata["duration_seconds"].(float64); ok {
				req.Duration = time.Duration(secs) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return r.Moderate(ctx, req)
		case "chat", "":
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return r.SendChat(ctx, env.Platform, &ChatMessage{
				EntityID:  env.EntityID,
				ServerID:  env.ServerID,
				ChannelID: env.ChannelID,
				Message:   env.Message,
			})
		default:
			r.log.Warn("unknown action type", zap.String("action", action))
			return nil
		}
	}
}
