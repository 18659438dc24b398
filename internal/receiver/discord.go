package receiver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
)

// sessionStatePrefix carries the originating session through component
// custom ids, so button clicks and modal submissions correlate back.
const sessionStatePrefix = "wb:"

// DiscordAdapter attaches to the Discord gateway and normalizes messages,
// slash commands, and component interactions.
type DiscordAdapter struct {
	token   string
	emitter *Emitter
	log     *zap.Logger

	mu       sync.Mutex
	channels map[string]routing.Channel // guildID -> channel
	session  *discordgo.Session
}

// NewDiscordAdapter creates the adapter with a bot token.
func NewDiscordAdapter(token string, emitter *Emitter, log *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		emitter:  emitter,
		log:      log.With(zap.String("module", "receiver.discord")),
		channels: make(map[string]routing.Channel),
	}
}

func (a *DiscordAdapter) Platform() events.Platform { return events.PlatformDiscord }

// UpdateChannels records which guilds are routed; events from other guilds
// are dropped at normalization.
func (a *DiscordAdapter) UpdateChannels(channels []routing.Channel) {
	next := make(map[string]routing.Channel, len(channels))
	for _, ch := range channels {
		_, guildID, _, err := events.ParseEntityID(ch.EntityID)
		if err != nil {
			continue
		}
		next[guildID] = ch
	}
	a.mu.Lock()
	a.channels = next
	a.mu.Unlock()
}

func (a *DiscordAdapter) routed(guildID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.channels[guildID]
	return ok
}

// Session exposes the live gateway session for the Discord pusher.
func (a *DiscordAdapter) Session() *discordgo.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Run opens the gateway connection and blocks until ctx ends.
func (a *DiscordAdapter) Run(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	session.AddHandler(a.onMessage(ctx))
	session.AddHandler(a.onInteraction(ctx))
	session.AddHandler(a.onMember(ctx))

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	<-ctx.Done()
	return session.Close()
}

func (a *DiscordAdapter) onMessage(ctx context.Context) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || !a.routed(m.GuildID) {
			return
		}
		env := &events.Envelope{
			EventType:   events.EventChatMessage,
			Platform:    events.PlatformDiscord,
			ServerID:    m.GuildID,
			ChannelID:   m.ChannelID,
			UserID:      m.Author.ID,
			Username:    m.Author.Username,
			DisplayName: m.Author.GlobalName,
			Message:     m.Content,
		}
		if err := a.emitter.Emit(ctx, env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
	}
}

// onInteraction normalizes slash commands, buttons, select menus, and modal
// submissions. Component interactions carry the originating session id in
// the custom id.
func (a *DiscordAdapter) onInteraction(ctx context.Context) func(*discordgo.Session, *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if !a.routed(i.GuildID) {
			return
		}
		user := i.User
		if user == nil && i.Member != nil {
			user = i.Member.User
		}
		if user == nil {
			return
		}
		env := &events.Envelope{
			Platform:  events.PlatformDiscord,
			ServerID:  i.GuildID,
			ChannelID: i.ChannelID,
			UserID:    user.ID,
			Username:  user.Username,
			Metadata:  map[string]any{},
		}
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			data := i.ApplicationCommandData()
			env.EventType = events.EventChatMessage
			env.Message = "!" + data.Name
			for _, opt := range data.Options {
				env.Message += fmt.Sprintf(" %v", opt.Value)
			}
			env.Metadata["interaction"] = "slash_command"
		case discordgo.InteractionMessageComponent:
			data := i.MessageComponentData()
			env.EventType = events.EventReaction
			env.Metadata["interaction"] = "component"
			env.Metadata["custom_id"] = data.CustomID
			if sid, ok := sessionFromCustomID(data.CustomID); ok {
				env.Metadata["session_id"] = sid
			}
		case discordgo.InteractionModalSubmit:
			data := i.ModalSubmitData()
			env.EventType = events.EventReaction
			env.Metadata["interaction"] = "modal_submit"
			env.Metadata["custom_id"] = data.CustomID
			if sid, ok := sessionFromCustomID(data.CustomID); ok {
				env.Metadata["session_id"] = sid
			}
		default:
			env.EventType = events.EventUnknown
			env.Metadata["raw"] = map[string]any{"interaction_type": int(i.Type)}
		}
		if err := a.emitter.Emit(ctx, env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
	}
}

func (a *DiscordAdapter) onMember(ctx context.Context) func(*discordgo.Session, *discordgo.GuildMemberAdd) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.User == nil || !a.routed(m.GuildID) {
			return
		}
		env := &events.Envelope{
			EventType: events.EventMemberJoin,
			Platform:  events.PlatformDiscord,
			ServerID:  m.GuildID,
			ChannelID: m.GuildID,
			UserID:    m.User.ID,
			Username:  m.User.Username,
		}
		if err := a.emitter.Emit(ctx, env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
	}
}

// SessionCustomID encodes a session id into a component custom id.
func SessionCustomID(sessionID, action string) string {
	return sessionStatePrefix + sessionID + ":" + action
}

func sessionFromCustomID(customID string) (string, bool) {
	if !strings.HasPrefix(customID, sessionStatePrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(customID, sessionStatePrefix)
	if i := strings.Index(rest, ":"); i > 0 {
		return rest[:i], true
	}
	if rest != "" {
		return rest, true
	}
	return "", false
}
