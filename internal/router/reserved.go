package router

import (
	"strings"

	"github.com/waddlebot/waddlebot-core/internal/events"
)

// reservedCommands are platform-native commands the router must never route;
// the platform handles them itself. One entry per (platform, command),
// compiled into the binary.
var reservedCommands = map[events.Platform]map[string]struct{}{
	events.PlatformTwitch: set(
		"ban", "unban", "timeout", "untimeout", "clear", "slow", "slowoff",
		"followers", "followersoff", "subscribers", "subscribersoff",
		"uniquechat", "uniquechatoff", "emoteonly", "emoteonlyoff",
		"mod", "unmod", "vip", "unvip", "raid", "unraid", "host", "unhost",
		"marker", "commercial", "announce", "shoutout", "whisper", "me",
	),
	events.PlatformDiscord: set(
		"kick", "ban", "mute", "unmute", "deafen", "undeafen", "nick",
		"tts", "me", "tableflip", "unflip", "shrug", "spoiler", "giphy",
	),
	events.PlatformSlack: set(
		"invite", "remove", "kick", "topic", "rename", "archive", "leave",
		"away", "dnd", "status", "remind", "shrug", "msg", "mute",
	),
	events.PlatformYouTube: set(
		"timeout", "block", "unblock", "delete", "pin", "unpin",
	),
	events.PlatformKick: set(
		"ban", "unban", "timeout", "slow", "slowoff", "followonly",
		"followonlyoff", "emoteonly", "emoteonlyoff", "mod", "unmod",
	),
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// IsReserved reports whether command conflicts with a platform-native
// command on the given platform.
func IsReserved(platform events.Platform, command string) bool {
	table, ok := reservedCommands[platform]
	if !ok {
		return false
	}
	_, reserved := table[strings.ToLower(command)]
	return reserved
}
