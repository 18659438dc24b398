package reputation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/aaa"
)

type fakeSink struct {
	mu   sync.Mutex
	reqs []*ModerationRequest
	err  error
}

func (f *fakeSink) Moderate(_ context.Context, req *ModerationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeSink) all() []*ModerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ModerationRequest(nil), f.reqs...)
}

type fakeCounter struct{ n int }

func (f *fakeCounter) CountModerationEvents(context.Context, string, string) (int, error) {
	return f.n, nil
}

func newEnforcer(sink ModerationSink, counter ModerationCounter) *PolicyEnforcer {
	log := zap.NewNop()
	return NewPolicyEnforcer(PolicyConfig{}, sink, counter, aaa.NewLogger(log), log)
}

func in() *RecordInput {
	return &RecordInput{
		CommunityID: "comm-1",
		UserID:      "user-1",
		Platform:    "twitch",
		EntityID:    "twitch:srv:chan",
	}
}

func TestEnforceAutoBanOnThresholdCrossing(t *testing.T) {
	sink := &fakeSink{}
	p := newEnforcer(sink, &fakeCounter{})

	p.Enforce(context.Background(), in(), NameBan, 500, 300)

	reqs := sink.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ban", reqs[0].Action)
	assert.Equal(t, "user-1", reqs[0].UserID)
}

func TestEnforceNoBanWhenAlreadyBelowThreshold(t *testing.T) {
	sink := &fakeSink{}
	p := newEnforcer(sink, &fakeCounter{})

	// Already below 450 before the event: no second ban.
	p.Enforce(context.Background(), in(), NameChatMessage, 400, 399)
	assert.Empty(t, sink.all())
}

func TestEnforceEscalationLadder(t *testing.T) {
	cases := []struct {
		prior int
		want  time.Duration
	}{
		{1, 5 * time.Minute},    // first offense
		{2, 60 * time.Minute},   // second
		{3, 1440 * time.Minute}, // third
		{9, 1440 * time.Minute}, // ladder caps at the last step
	}
	for _, tc := range cases {
		sink := &fakeSink{}
		p := newEnforcer(sink, &fakeCounter{n: tc.prior})

		p.Enforce(context.Background(), in(), NameWarn, 600, 575)

		reqs := sink.all()
		require.Len(t, reqs, 1, "prior=%d", tc.prior)
		assert.Equal(t, "timeout", reqs[0].Action)
		assert.Equal(t, tc.want, reqs[0].Duration, "prior=%d", tc.prior)
	}
}

func TestEnforceQueuesOnSinkFailure(t *testing.T) {
	sink := &fakeSink{err: assert.AnError}
	p := newEnforcer(sink, &fakeCounter{n: 1})

	p.Enforce(context.Background(), in(), NameTimeout, 600, 550)

	// The failed request sits in the retry queue; once the sink recovers
	// the worker delivers it.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "timeout", sink.all()[0].Action)
}
