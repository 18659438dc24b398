package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waddlebot/waddlebot-core/internal/events"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		message string
		want    *ParsedCommand
	}{
		{"!help", &ParsedCommand{Prefix: "!", Command: "help", Args: []string{}}},
		{"!help me please", &ParsedCommand{Prefix: "!", Command: "help", Args: []string{"me", "please"}}},
		{"#quote add hello", &ParsedCommand{Prefix: "#", Command: "quote", Args: []string{"add", "hello"}}},
		{"  !HELP  ", &ParsedCommand{Prefix: "!", Command: "help", Args: []string{}}},
		{"hello there", nil},
		{"", nil},
		{"!", nil},
		{"!   ", nil},
	}
	for _, tc := range cases {
		got, ok := ParseCommand(tc.message)
		if tc.want == nil {
			assert.False(t, ok, "message %q", tc.message)
			continue
		}
		require.True(t, ok, "message %q", tc.message)
		assert.Equal(t, tc.want.Prefix, got.Prefix)
		assert.Equal(t, tc.want.Command, got.Command)
		assert.Equal(t, tc.want.Args, got.Args)
	}
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved(events.PlatformTwitch, "ban"))
	assert.True(t, IsReserved(events.PlatformTwitch, "BAN"))
	assert.True(t, IsReserved(events.PlatformDiscord, "kick"))
	assert.True(t, IsReserved(events.PlatformSlack, "remind"))
	assert.False(t, IsReserved(events.PlatformTwitch, "help"))
	assert.False(t, IsReserved(events.PlatformUnknown, "ban"))
}
