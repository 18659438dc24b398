package events

// EventType enumerates the canonical event kinds.
type EventType string

const (
	EventChatMessage  EventType = "chatMessage"
	EventSubscription EventType = "subscription"
	EventFollow       EventType = "follow"
	EventDonation     EventType = "donation"
	EventCheer        EventType = "cheer"
	EventRaid         EventType = "raid"
	EventHost         EventType = "host"
	EventSubGift      EventType = "subgift"
	EventResub        EventType = "resub"
	EventReaction     EventType = "reaction"
	EventMemberJoin   EventType = "member_join"
	EventMemberLeave  EventType = "member_leave"
	EventVoiceJoin    EventType = "voice_join"
	EventVoiceLeave   EventType = "voice_leave"
	EventBoost        EventType = "boost"
	EventBan          EventType = "ban"
	EventKick         EventType = "kick"
	EventTimeout      EventType = "timeout"
	EventWarn         EventType = "warn"
	EventFileShare    EventType = "file_share"
	EventAppMention   EventType = "app_mention"
	EventChannelJoin  EventType = "channel_join"
	EventUnknown      EventType = "unknown"
)

var eventTypes = map[EventType]struct{}{
	EventChatMessage: {}, EventSubscription: {}, EventFollow: {}, EventDonation: {},
	EventCheer: {}, EventRaid: {}, EventHost: {}, EventSubGift: {}, EventResub: {},
	EventReaction: {}, EventMemberJoin: {}, EventMemberLeave: {}, EventVoiceJoin: {},
	EventVoiceLeave: {}, EventBoost: {}, EventBan: {}, EventKick: {}, EventTimeout: {},
	EventWarn: {}, EventFileShare: {}, EventAppMention: {}, EventChannelJoin: {},
	EventUnknown: {},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Moderation reports whether t is a moderation event.
func (t EventType) Moderation() bool {
	switch t {
	case EventWarn, EventTimeout, EventKick, EventBan:
		return true
	}
	return false
}

// Platform enumerates the supported source platforms.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformDiscord Platform = "discord"
	PlatformSlack   Platform = "slack"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
	PlatformUnknown Platform = "unknown"
)

var platforms = map[Platform]struct{}{
	PlatformTwitch: {}, PlatformDiscord: {}, PlatformSlack: {},
	PlatformYouTube: {}, PlatformKick: {}, PlatformUnknown: {},
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	_, ok := platforms[p]
	return ok
}
