package router

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	"github.com/waddlebot/waddlebot-core/internal/session"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/ratelimit"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

type fakeRouting struct {
	communities map[string]string
	commands    map[string]*routing.Command
	eventCmds   map[string][]routing.Command
	gateways    map[string][]routing.Gateway
}

func (f *fakeRouting) CommunityForEntity(_ context.Context, entityID string) (string, error) {
	id, ok := f.communities[entityID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeRouting) LookupCommand(_ context.Context, prefix, command string) (*routing.Command, error) {
	cmd, ok := f.commands[prefix+command]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cmd, nil
}

func (f *fakeRouting) EventCommands(_ context.Context, eventType string) ([]routing.Command, error) {
	return f.eventCmds[eventType], nil
}

func (f *fakeRouting) ActiveCommands(context.Context) ([]routing.Command, error) {
	var out []routing.Command
	for _, c := range f.commands {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRouting) GatewaysForCommunity(_ context.Context, communityID string) ([]routing.Gateway, error) {
	return f.gateways[communityID], nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []*DispatchRequest
	resp  *ModuleResponse
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *routing.Command, req *DispatchRequest) (*ModuleResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		out := *f.resp
		out.SessionID = req.SessionID
		out.ExecutionID = req.ExecutionID
		return &out, nil
	}
	return &ModuleResponse{SessionID: req.SessionID, ExecutionID: req.ExecutionID, Success: true}, nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeScores struct {
	mu   sync.Mutex
	reqs []*reputation.RecordEventRequest
}

func (f *fakeScores) RecordEvent(_ context.Context, req *reputation.RecordEventRequest) (*reputation.RecordEventResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return &reputation.RecordEventResponse{Success: true}, nil
}

func (f *fakeScores) all() []*reputation.RecordEventRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*reputation.RecordEventRequest(nil), f.reqs...)
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []*events.Envelope
}

func (f *fakePublisher) Publish(_ context.Context, _ string, env *events.Envelope) error {
	f.mu.Lock()
	f.envs = append(f.envs, env)
	f.mu.Unlock()
	return nil
}

type routerFixture struct {
	svc        *Service
	routing    *fakeRouting
	dispatcher *fakeDispatcher
	scores     *fakeScores
	actions    *fakePublisher
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redis.NewFromExisting(raw, zap.NewNop())

	src := &fakeRouting{
		communities: map[string]string{"twitch:foo:1": "comm-1"},
		commands: map[string]*routing.Command{
			"!help": {
				ID: 1, Command: "help", Prefix: "!", Transport: TransportContainer,
				LocationURL: "http://module-x/exec", ModuleID: "module-x",
				TriggerType: "command", IsActive: true,
			},
		},
		eventCmds: map[string][]routing.Command{},
		gateways:  map[string][]routing.Gateway{},
	}
	dispatcher := &fakeDispatcher{}
	scores := &fakeScores{}
	actions := &fakePublisher{}

	log := zap.NewNop()
	svc := NewService(
		Config{ResponseTimeout: 500 * time.Millisecond},
		session.NewStore(client, time.Hour, log),
		ratelimit.New(client, "router", log),
		NewLookup(src, time.Minute),
		dispatcher,
		actions,
		scores,
		nil,
		aaa.NewLogger(log),
		log,
	)
	return &routerFixture{svc: svc, routing: src, dispatcher: dispatcher, scores: scores, actions: actions}
}

func chatEvent(id, message string) *events.Envelope {
	return &events.Envelope{
		EventID:   id,
		EventType: events.EventChatMessage,
		Platform:  events.PlatformTwitch,
		EntityID:  "twitch:foo:1",
		ServerID:  "foo",
		ChannelID: "1",
		UserID:    "u1",
		Username:  "user-one",
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func TestProcessChatMessageScoresReputation(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Process(context.Background(), chatEvent("ev-1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "event_processed", res.Action)
	assert.NotEmpty(t, res.SessionID)

	reqs := f.scores.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "chat_message", reqs[0].EventType)
	assert.Equal(t, "comm-1", reqs[0].CommunityID)
	assert.Equal(t, "ev-1", reqs[0].EventID)
	assert.Zero(t, f.dispatcher.callCount())
}

func TestProcessCommandDispatch(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.resp = &ModuleResponse{
		Success:        true,
		ResponseAction: "chat",
		ResponseData:   map[string]any{"message": "usage: !help <topic>"},
	}

	res, err := f.svc.Process(context.Background(), chatEvent("ev-2", "!help me"))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "command_dispatched", res.Action)

	require.Equal(t, 1, f.dispatcher.callCount())
	call := f.dispatcher.calls[0]
	assert.Equal(t, "help", call.Command)
	assert.Equal(t, []string{"me"}, call.Args)
	assert.Equal(t, "comm-1", call.CommunityID)

	// The chat response is forwarded to the action pushers.
	require.Len(t, f.actions.envs, 1)
	assert.Equal(t, "usage: !help <topic>", f.actions.envs[0].Message)
	assert.Equal(t, "twitch:foo:1", f.actions.envs[0].EntityID)

	reqs := f.scores.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "command_usage", reqs[0].EventType)
}

func TestProcessCommandFansOutToGateways(t *testing.T) {
	f := newFixture(t)
	f.routing.gateways["comm-1"] = []routing.Gateway{
		{GatewayID: "gw-1", Platform: "twitch", ServerID: "foo", ChannelID: "1"},
		{GatewayID: "gw-2", Platform: "discord", ServerID: "guild-9", ChannelID: "chan-4"},
	}
	f.dispatcher.resp = &ModuleResponse{
		Success:        true,
		ResponseAction: "chat",
		ResponseData:   map[string]any{"message": "pong"},
	}

	_, err := f.svc.Process(context.Background(), chatEvent("ev-gw", "!help"))
	require.NoError(t, err)

	// Source channel plus the one gateway that is not the source.
	require.Len(t, f.actions.envs, 2)
	assert.Equal(t, "twitch:foo:1", f.actions.envs[0].EntityID)
	gw := f.actions.envs[1]
	assert.Equal(t, "discord:guild-9:chan-4", gw.EntityID)
	assert.Equal(t, events.PlatformDiscord, gw.Platform)
	assert.Equal(t, "guild-9", gw.ServerID)
	assert.Equal(t, "chan-4", gw.ChannelID)
	assert.Equal(t, "pong", gw.Message)
	assert.Equal(t, "ev-gw", gw.Metadata["reply_to"])
}

func TestProcessCommandRateLimit(t *testing.T) {
	f := newFixture(t)
	f.routing.commands["!help"].RateLimitPerMinute = 2

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.svc.Process(ctx, chatEvent("ev-ok", "!help"))
		require.NoError(t, err)
	}
	res, err := f.svc.Process(ctx, chatEvent("ev-limited", "!help"))
	require.ErrorIs(t, err, werrors.ErrRateLimited)
	assert.Equal(t, StateRateLimited, res.State)
	assert.Equal(t, 2, f.dispatcher.callCount())
}

func TestProcessReservedCommand(t *testing.T) {
	f := newFixture(t)
	f.routing.commands["!ban"] = &routing.Command{
		ID: 2, Command: "ban", Prefix: "!", Transport: TransportContainer, IsActive: true,
	}

	res, err := f.svc.Process(context.Background(), chatEvent("ev-3", "!ban someone"))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, res.State)
	assert.Zero(t, f.dispatcher.callCount())
}

func TestProcessUnknownCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Process(context.Background(), chatEvent("ev-4", "!nosuch"))
	assert.ErrorIs(t, err, werrors.ErrNotFound)
}

func TestProcessUnroutedEntity(t *testing.T) {
	f := newFixture(t)
	env := chatEvent("ev-5", "hi")
	env.EntityID = "twitch:bar:9"
	env.ServerID = "bar"
	env.ChannelID = "9"
	_, err := f.svc.Process(context.Background(), env)
	assert.ErrorIs(t, err, werrors.ErrNotFound)
}

func TestProcessAuthRequiredDenied(t *testing.T) {
	f := newFixture(t)
	f.routing.commands["!help"].AuthRequired = true

	res, err := f.svc.Process(context.Background(), chatEvent("ev-6", "!help"))
	require.ErrorIs(t, err, werrors.ErrAuthz)
	assert.Equal(t, StateUnauthorized, res.State)
	assert.Zero(t, f.dispatcher.callCount())
}

func TestProcessDeferredResponse(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.resp = &ModuleResponse{Success: true, Deferred: true}

	done := make(chan *Result, 1)
	go func() {
		res, err := f.svc.Process(context.Background(), chatEvent("ev-7", "!help"))
		assert.NoError(t, err)
		done <- res
	}()

	// Wait for the dispatch to register the pending execution, then answer
	// on the callback path.
	require.Eventually(t, func() bool { return f.dispatcher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	call := f.dispatcher.calls[0]
	f.svc.HandleResponse(&ModuleResponse{
		SessionID:      call.SessionID,
		ExecutionID:    call.ExecutionID,
		Success:        true,
		ResponseAction: "chat",
		ResponseData:   map[string]any{"message": "done"},
	})

	select {
	case res := <-done:
		assert.Equal(t, StateCompleted, res.State)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not complete")
	}
	require.Len(t, f.actions.envs, 1)
	assert.Equal(t, "done", f.actions.envs[0].Message)
}

func TestProcessDeferredTimesOut(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.resp = &ModuleResponse{Success: true, Deferred: true}

	res, err := f.svc.Process(context.Background(), chatEvent("ev-8", "!help"))
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, res.State)
}

func TestPendingTableSweep(t *testing.T) {
	p := NewPendingTable()
	p.Add("s1", "e1", -time.Second)
	p.Add("s2", "e2", time.Minute)
	assert.Equal(t, 1, p.Sweep())
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Complete(&ModuleResponse{SessionID: "s2", ExecutionID: "e2"}))
	assert.False(t, p.Complete(&ModuleResponse{SessionID: "s1", ExecutionID: "e1"}))
}
