package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func reply(id, text string) types.Message {
	return types.Message{
		ID:        id,
		CreatedAt: t0.Unix(),
		Role:      types.RoleAssistant,
		Content:   []types.ContentItem{types.TextItem(text)},
	}
}

func TestDrainReplies(t *testing.T) {
	tests := []struct {
		name        string
		start       bool
		items       []Item
		drainAt     time.Duration
		want        Drain
		wantFlag    bool
		stillActive bool
	}{
		{
			name: "idle",
			want: Drain{Replies: []types.Message{}, Final: true, Status: DrainIdle, Message: "No pending work"},
		},
		{
			name:        "pending without items",
			start:       true,
			want:        Drain{Replies: []types.Message{}, Status: DrainPending},
			stillActive: true,
		},
		{
			name:        "partial replies",
			start:       true,
			items:       MessageItems([]types.Message{reply("m1", "a")}),
			want:        Drain{Replies: []types.Message{reply("m1", "a")}, Status: DrainPending},
			stillActive: true,
		},
		{
			name:     "replies then end",
			start:    true,
			items:    append(MessageItems([]types.Message{reply("m1", "a"), reply("m2", "b")}), EndItem()),
			want:     Drain{Replies: []types.Message{reply("m1", "a"), reply("m2", "b")}, Final: true, Status: DrainDone},
			wantFlag: true,
		},
		{
			name:  "error sentinel",
			start: true,
			items: []Item{ErrorItem(types.ResultThreadExpired)},
			want: Drain{Replies: []types.Message{}, Final: true, Status: DrainError, Code: types.ResultThreadExpired,
				Message: "processing failed, please retry or reset the conversation"},
		},
		{
			name:    "stale queue times out",
			start:   true,
			items:   MessageItems([]types.Message{reply("m1", "a")}),
			drainAt: DefaultReplyTimeout + time.Second,
			want:    Drain{Replies: []types.Message{}, Final: true, Status: DrainTimeout, Message: "Timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, _ := NewRegistry().GetOrCreate("c1")
			if tt.start {
				gen := state.StartReplies(t0)
				require.True(t, state.PushReplies(gen, tt.items...))
			}

			got := state.DrainReplies(t0.Add(tt.drainAt), DefaultReplyTimeout)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stillActive, state.RepliesActive())

			_, flagged := state.ConsumeFlag(FlagFactCheckPending)
			assert.Equal(t, tt.wantFlag, flagged)
		})
	}
}

func TestDrainIsIncremental(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	gen := state.StartReplies(t0)

	state.PushReplies(gen, MessageItems([]types.Message{reply("m1", "a")})...)
	first := state.DrainReplies(t0, DefaultReplyTimeout)
	assert.Len(t, first.Replies, 1)
	assert.False(t, first.Final)

	state.PushReplies(gen, MessageItems([]types.Message{reply("m2", "b")})...)
	state.PushReplies(gen, EndItem())
	second := state.DrainReplies(t0, DefaultReplyTimeout)
	require.Len(t, second.Replies, 1)
	assert.Equal(t, "m2", second.Replies[0].ID)
	assert.True(t, second.Final)

	third := state.DrainReplies(t0, DefaultReplyTimeout)
	assert.Equal(t, DrainIdle, third.Status)
}

func TestStaleGenerationIsDropped(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	old := state.StartReplies(t0)
	cur := state.StartReplies(t0)

	assert.False(t, state.PushReplies(old, EndItem()))
	assert.True(t, state.PushReplies(cur, EndItem()))
	assert.Equal(t, DrainDone, state.DrainReplies(t0, DefaultReplyTimeout).Status)
}

func TestDeliverReplies(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	th := thread.New("t1")
	state.SetThread(th)
	gen := state.StartReplies(t0)

	bad := reply("", "no id")
	assert.True(t, state.DeliverReplies(th, gen, []types.Message{reply("m1", "a"), bad}))
	assert.Equal(t, 1, th.Len())

	d := state.DrainReplies(t0, DefaultReplyTimeout)
	require.Len(t, d.Replies, 1)

	// 线程被重置后, 旧任务的回复被丢弃
	state.SetThread(thread.New("t2"))
	assert.False(t, state.DeliverReplies(th, gen, []types.Message{reply("m2", "b")}))
	assert.Equal(t, 1, th.Len())
}

// reentrantSink 在收到消息时回读客户端状态
type reentrantSink struct {
	state *ClientState
	seen  []string
}

func (s *reentrantSink) AddMessage(types.Message) {
	s.seen = append(s.seen, s.state.UserInfo().Timezone)
}
func (s *reentrantSink) UpdateMessage(string, []types.ContentItem) {}
func (s *reentrantSink) ClearMessages()                             {}

func TestDeliverRepliesHoldsNoClientLockWhileAppending(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	state.SetUserInfo(types.UserInfo{Timezone: "Asia/Shanghai"})
	th := thread.New("t1")
	sink := &reentrantSink{state: state}
	th.AttachSink(sink)
	state.SetThread(th)
	gen := state.StartReplies(t0)

	done := make(chan bool, 1)
	go func() { done <- state.DeliverReplies(th, gen, []types.Message{reply("m1", "a")}) }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("DeliverReplies blocked on the client lock")
	}
	assert.Equal(t, []string{"Asia/Shanghai"}, sink.seen)
	require.Len(t, state.DrainReplies(t0, DefaultReplyTimeout).Replies, 1)
}

func TestDeliverRepliesAfterTurnReplaced(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	th := thread.New("t1")
	state.SetThread(th)
	old := state.StartReplies(t0)
	state.StartReplies(t0.Add(time.Minute))

	assert.False(t, state.DeliverReplies(th, old, []types.Message{reply("m1", "a")}))
	assert.Zero(t, th.Len())
	assert.Empty(t, state.DrainReplies(t0.Add(time.Minute), DefaultReplyTimeout).Replies)
}

func TestConsumeFlagOnce(t *testing.T) {
	state, _ := NewRegistry().GetOrCreate("c1")
	state.SetFlag("k", 42)

	v, ok := state.ConsumeFlag("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = state.ConsumeFlag("k")
	assert.False(t, ok)
}

type stubResearcher struct {
	thread.MessageSink
}

func (stubResearcher) Research(context.Context, string, tools.CallContext) (string, error) {
	return "", nil
}

func TestRegistryResolvesClients(t *testing.T) {
	reg := NewRegistry(WithClock(func() time.Time { return t0 }))

	state, created := reg.GetOrCreate("c1")
	assert.True(t, created)
	again, created := reg.GetOrCreate("c1")
	assert.False(t, created)
	assert.Same(t, state, again)
	assert.Equal(t, t0, state.LastSeen())

	state.SetUserInfo(types.UserInfo{Timezone: "Asia/Tokyo"})
	assert.Equal(t, "Asia/Tokyo", reg.UserInfo("c1").Timezone)
	assert.Equal(t, types.UserInfo{}, reg.UserInfo("unknown"))

	assert.Nil(t, reg.Researcher("c1"))
	th := thread.New("t1")
	th.AttachSink(stubResearcher{MessageSink: &nopSink{}})
	state.SetThread(th)
	assert.NotNil(t, reg.Researcher("c1"))
	assert.Nil(t, reg.Researcher("unknown"))
}

type nopSink struct{}

func (*nopSink) AddMessage(types.Message)                   {}
func (*nopSink) UpdateMessage(string, []types.ContentItem) {}
func (*nopSink) ClearMessages()                             {}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i%5)
			state, _ := reg.GetOrCreate(id)
			gen := state.StartReplies(t0)
			state.PushReplies(gen, EndItem())
			state.DrainReplies(t0, DefaultReplyTimeout)
			_ = reg.UserInfo(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, reg.Len())
}

func TestTryStartReplies(t *testing.T) {
	reg := NewRegistry()
	state, _ := reg.GetOrCreate("c1")

	gen, ok := state.TryStartReplies(t0, time.Minute)
	require.True(t, ok)

	_, ok = state.TryStartReplies(t0.Add(30*time.Second), time.Minute)
	assert.False(t, ok, "turn still in flight")

	next, ok := state.TryStartReplies(t0.Add(2*time.Minute), time.Minute)
	require.True(t, ok, "stale turn is superseded")
	assert.Greater(t, next, gen)
	assert.False(t, state.PushReplies(gen, EndItem()))
}

func TestInstallThreadKeepsFirst(t *testing.T) {
	reg := NewRegistry()
	state, _ := reg.GetOrCreate("c1")

	first := thread.New("t1")
	assert.Same(t, first, state.InstallThread(first))
	assert.Same(t, first, state.InstallThread(thread.New("t2")))
	assert.Equal(t, "t1", state.Thread().ID())
}
