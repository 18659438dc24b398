package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
)

type fakeAdapter struct {
	platform events.Platform

	mu      sync.Mutex
	updates [][]routing.Channel
}

func (f *fakeAdapter) Platform() events.Platform { return f.platform }

func (f *fakeAdapter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) UpdateChannels(channels []routing.Channel) {
	f.mu.Lock()
	f.updates = append(f.updates, channels)
	f.mu.Unlock()
}

func (f *fakeAdapter) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeChannelSource struct {
	channels map[string][]routing.Channel
	err      map[string]error
}

func (f *fakeChannelSource) ActiveChannels(_ context.Context, platform string) ([]routing.Channel, error) {
	if err := f.err[platform]; err != nil {
		return nil, err
	}
	return f.channels[platform], nil
}

func TestRefreshFansOutPerPlatform(t *testing.T) {
	twitch := &fakeAdapter{platform: events.PlatformTwitch}
	discord := &fakeAdapter{platform: events.PlatformDiscord}
	src := &fakeChannelSource{
		channels: map[string][]routing.Channel{
			"twitch":  {{Platform: "twitch", EntityID: "twitch:chan:chan", CommunityID: "c1"}},
			"discord": {{Platform: "discord", EntityID: "discord:g1:general", CommunityID: "c1"}},
		},
	}
	svc := NewService(src, 0, zap.NewNop(), twitch, discord)

	svc.refresh(context.Background())

	require.Equal(t, 1, twitch.updateCount())
	require.Equal(t, 1, discord.updateCount())
	assert.Equal(t, "twitch:chan:chan", twitch.updates[0][0].EntityID)
	assert.Equal(t, "discord:g1:general", discord.updates[0][0].EntityID)
}

func TestRefreshSkipsFailedPlatform(t *testing.T) {
	twitch := &fakeAdapter{platform: events.PlatformTwitch}
	discord := &fakeAdapter{platform: events.PlatformDiscord}
	src := &fakeChannelSource{
		channels: map[string][]routing.Channel{
			"discord": {{Platform: "discord", EntityID: "discord:g1:general", CommunityID: "c1"}},
		},
		err: map[string]error{"twitch": errors.New("db down")},
	}
	svc := NewService(src, 0, zap.NewNop(), twitch, discord)

	svc.refresh(context.Background())

	// The failed platform keeps its previous set; the healthy one refreshes.
	assert.Equal(t, 0, twitch.updateCount())
	assert.Equal(t, 1, discord.updateCount())
}
