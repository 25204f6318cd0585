package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/completion"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/run"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func textMsg(id string, role types.Role, text string) types.Message {
	return types.Message{
		ID:        id,
		CreatedAt: now.Unix(),
		Role:      role,
		Content:   []types.ContentItem{types.TextItem(text)},
	}
}

type fakeRuns struct {
	mu        sync.Mutex
	threads   int
	submitted []string
	turns     []run.Turn
	replies   []types.Message
	err       error
}

func (f *fakeRuns) StartThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeRuns) Submit(_ context.Context, _ string, text string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return textMsg(fmt.Sprintf("msg_user_%d", len(f.submitted)), types.RoleUser, text), nil
}

func (f *fakeRuns) Execute(ctx context.Context, turn run.Turn, onReply run.ReplyFunc) error {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	replies, err := f.replies, f.err
	f.mu.Unlock()

	if err != nil {
		return err
	}
	onReply(ctx, replies)
	return nil
}

type fakeStreamer struct {
	chunks []string
	err    error
	panic  any
	reqs   []completion.Request
}

func (f *fakeStreamer) Stream(_ context.Context, req completion.Request, onText completion.TextFunc) (*completion.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.panic != nil {
		panic(f.panic)
	}
	for _, c := range f.chunks {
		onText(c)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Result{Text: strings.Join(f.chunks, "")}, nil
}

// syncTasks 同步执行任务, 提交返回时任务已结束
type syncTasks struct{}

func (syncTasks) Go(task func(ctx context.Context)) error {
	task(context.Background())
	return nil
}

// heldTasks 只保存任务不执行
type heldTasks struct{ tasks []func(ctx context.Context) }

func (h *heldTasks) Go(task func(ctx context.Context)) error {
	h.tasks = append(h.tasks, task)
	return nil
}

type fakeRepo struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeRepo() *fakeRepo { return &fakeRepo{data: make(map[string][]byte)} }

func (r *fakeRepo) Save(_ context.Context, clientID string, th *thread.Thread) error {
	b, err := th.Serialize()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[clientID] = b
	return nil
}

func (r *fakeRepo) Load(_ context.Context, clientID string, opts ...thread.Option) (*thread.Thread, error) {
	r.mu.Lock()
	b, ok := r.data[clientID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrThreadNotFound
	}
	return thread.Deserialize(b, opts...)
}

func (r *fakeRepo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, clientID)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []sse.Event
}

func (f *fakeEvents) Broadcast(resource string, event sse.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resource == sse.ClientResource("c1") {
		f.events = append(f.events, event)
	}
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeJudge struct {
	mu         sync.Mutex
	messages   []types.Message
	factChecks int
	result     *judge.FactCheckResult
}

func (j *fakeJudge) AddMessage(msg types.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = append(j.messages, msg)
}
func (j *fakeJudge) UpdateMessage(string, []types.ContentItem) {}
func (j *fakeJudge) ClearMessages() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = nil
}
func (j *fakeJudge) Research(context.Context, string, tools.CallContext) (string, error) {
	return "research", nil
}
func (j *fakeJudge) FactCheck(context.Context, tools.CallContext) *judge.FactCheckResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.factChecks++
	return j.result
}
func (j *fakeJudge) Summary(context.Context, tools.CallContext) (string, error) {
	return fmt.Sprintf("%d messages", len(j.messages)), nil
}
func (j *fakeJudge) Critique(context.Context, tools.CallContext) (*judge.Critique, error) {
	return &judge.Critique{Text: "fine"}, nil
}

type harness struct {
	uc       *ChatUseCase
	runs     *fakeRuns
	streamer *fakeStreamer
	repo     *fakeRepo
	events   *fakeEvents
	judges   []*fakeJudge
}

func newHarness(t *testing.T, cfg Config, tasks TaskRunner) *harness {
	t.Helper()
	h := &harness{
		runs:     &fakeRuns{},
		streamer: &fakeStreamer{},
		repo:     newFakeRepo(),
		events:   &fakeEvents{},
	}
	factory := func() Judge {
		j := &fakeJudge{result: &judge.FactCheckResult{FactChecks: []judge.FactCheck{{MsgID: "m", Correctness: 4}}}}
		h.judges = append(h.judges, j)
		return j
	}
	if tasks == nil {
		tasks = syncTasks{}
	}
	h.uc = NewChatUseCase(cfg, session.NewRegistry(session.WithLogger(logger.NewNop())),
		h.repo, h.runs, h.streamer, factory, tasks, h.events, logger.NewNop())
	h.uc.now = func() time.Time { return now }
	return h
}

func TestSendUserTurnRunMode(t *testing.T) {
	h := newHarness(t, Config{Mode: ModeRun, AssistantID: "asst_1", MetaHeader: true}, nil)
	h.runs.replies = []types.Message{textMsg("msg_reply", types.RoleAssistant, "It is 9:30.")}
	ctx := context.Background()

	res, err := h.uc.SendUserTurn(ctx, "c1", "What time is it?")
	require.NoError(t, err)
	assert.Equal(t, &SendResult{Status: StatusProcessing, UserMsgID: "msg_user_1"}, res)

	require.Len(t, h.runs.submitted, 1)
	assert.Equal(t, thread.WrapWithMeta("What time is it?", now), h.runs.submitted[0])
	require.Len(t, h.runs.turns, 1)
	assert.Equal(t, run.Turn{ThreadID: "thread_1", AssistantID: "asst_1", AfterID: "msg_user_1", ClientToken: "c1"}, h.runs.turns[0])

	drain := h.uc.DrainPendingReplies(ctx, "c1")
	assert.Equal(t, session.DrainDone, drain.Status)
	assert.True(t, drain.Final)
	require.Len(t, drain.Replies, 1)
	assert.Equal(t, "msg_reply", drain.Replies[0].ID)

	history, err := h.uc.GetDisplayMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "What time is it?", history[0].Text())
	assert.Equal(t, "It is 9:30.", history[1].Text())

	assert.Equal(t, []string{sse.EventReplies, sse.EventEnd}, h.events.types())
	assert.Contains(t, h.repo.data, "c1")
	require.Len(t, h.judges, 1)
	assert.Len(t, h.judges[0].messages, 2)
}

func TestSendUserTurnRunFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ResultCode
	}{
		{name: "expired", err: fmt.Errorf("%w: run r1", types.ErrThreadExpired), want: types.ResultThreadExpired},
		{name: "busy", err: fmt.Errorf("%w: thread t1", types.ErrThreadBusy), want: types.ResultThreadBusy},
		{name: "failed", err: fmt.Errorf("%w: status failed", types.ErrRunFailed), want: types.ResultRunFailed},
		{name: "deadline", err: context.DeadlineExceeded, want: types.ResultRunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, nil)
			h.runs.err = tt.err

			_, err := h.uc.SendUserTurn(context.Background(), "c1", "hi")
			require.NoError(t, err)

			drain := h.uc.DrainPendingReplies(context.Background(), "c1")
			assert.Equal(t, session.DrainError, drain.Status)
			assert.Equal(t, tt.want, drain.Code)
			assert.True(t, drain.Final)
			assert.Equal(t, []string{sse.EventError}, h.events.types())

			// 失败的一轮不会置位核查标记
			assert.Empty(t, h.uc.RunFactCheck(context.Background(), "c1").FactChecks)
			assert.Zero(t, h.judges[0].factChecks)
		})
	}
}

func TestSendUserTurnRejects(t *testing.T) {
	tasks := &heldTasks{}
	h := newHarness(t, Config{}, tasks)
	ctx := context.Background()

	_, err := h.uc.SendUserTurn(ctx, "c1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.uc.SendUserTurn(ctx, "c1", "first")
	require.NoError(t, err)
	_, err = h.uc.SendUserTurn(ctx, "c1", "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	assert.Equal(t, session.DrainPending, h.uc.DrainPendingReplies(ctx, "c1").Status)

	require.Len(t, tasks.tasks, 1)
	tasks.tasks[0](ctx)
	assert.Equal(t, session.DrainDone, h.uc.DrainPendingReplies(ctx, "c1").Status)
}

func TestSendUserTurnStreamMode(t *testing.T) {
	h := newHarness(t, Config{Mode: ModeStream, Model: "gpt-4o", Instructions: "You are helpful."}, nil)
	h.streamer.chunks = []string{"Hel", "lo", "!"}
	ctx := context.Background()

	res, err := h.uc.SendUserTurn(ctx, "c1", "hi")
	require.NoError(t, err)
	assert.Zero(t, h.runs.threads, "stream mode keeps threads local")

	require.Len(t, h.streamer.reqs, 1)
	req := h.streamer.reqs[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "c1", req.ClientToken)
	require.Len(t, req.Messages, 2, "system prompt plus the user message, no empty placeholder")
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are helpful."))
	assert.Contains(t, req.Messages[0].Content, "LaTeX")

	drain := h.uc.DrainPendingReplies(ctx, "c1")
	assert.Equal(t, session.DrainDone, drain.Status)
	require.Len(t, drain.Replies, 1)
	assert.Equal(t, "Hello!", drain.Replies[0].Text())

	history, err := h.uc.GetDisplayMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, res.UserMsgID, history[0].ID)
	assert.Equal(t, "Hello!", history[1].Text())

	assert.Equal(t, []string{sse.EventDelta, sse.EventDelta, sse.EventDelta, sse.EventReplies, sse.EventEnd}, h.events.types())
}

func TestStreamFailureKeepsPartialText(t *testing.T) {
	h := newHarness(t, Config{Mode: ModeStream}, nil)
	h.streamer.chunks = []string{"partial"}
	h.streamer.err = fmt.Errorf("%w: 8 rounds", types.ErrToolRoundLimit)
	ctx := context.Background()

	_, err := h.uc.SendUserTurn(ctx, "c1", "hi")
	require.NoError(t, err)

	drain := h.uc.DrainPendingReplies(ctx, "c1")
	assert.Equal(t, session.DrainError, drain.Status)
	assert.Equal(t, types.ResultRunFailed, drain.Code)

	history, err := h.uc.GetDisplayMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "partial", history[1].Text())
}

func TestStreamPanicEndsTurn(t *testing.T) {
	h := newHarness(t, Config{Mode: ModeStream}, nil)
	h.streamer.panic = "index out of range"
	ctx := context.Background()

	_, err := h.uc.SendUserTurn(ctx, "c1", "hi")
	require.NoError(t, err)

	drain := h.uc.DrainPendingReplies(ctx, "c1")
	assert.True(t, drain.Final)
	assert.Equal(t, session.DrainError, drain.Status)
	assert.Equal(t, types.ResultRunFailed, drain.Code)
	assert.Contains(t, h.events.types(), sse.EventError)
	assert.Contains(t, h.repo.data, "c1", "thread persisted after the failed turn")

	// 下一轮可以正常开始
	h.streamer.panic = nil
	h.streamer.chunks = []string{"ok"}
	_, err = h.uc.SendUserTurn(ctx, "c1", "again")
	require.NoError(t, err)
	assert.Equal(t, session.DrainDone, h.uc.DrainPendingReplies(ctx, "c1").Status)
}

func TestRunFactCheckConsumesFlag(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.runs.replies = []types.Message{textMsg("msg_reply", types.RoleAssistant, "answer")}
	ctx := context.Background()

	assert.Empty(t, h.uc.RunFactCheck(ctx, "unknown").FactChecks)

	_, err := h.uc.SendUserTurn(ctx, "c1", "question")
	require.NoError(t, err)
	assert.Empty(t, h.uc.RunFactCheck(ctx, "c1").FactChecks, "replies not drained yet")

	h.uc.DrainPendingReplies(ctx, "c1")
	res := h.uc.RunFactCheck(ctx, "c1")
	require.Len(t, res.FactChecks, 1)
	assert.Equal(t, 1, h.judges[0].factChecks)

	assert.Empty(t, h.uc.RunFactCheck(ctx, "c1").FactChecks)
	assert.Equal(t, 1, h.judges[0].factChecks)
	assert.Contains(t, h.events.types(), sse.EventAddendums)
}

func TestThreadRestoredOnFirstContact(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	saved := thread.New("thread_saved")
	require.NoError(t, saved.Append(textMsg("m1", types.RoleUser, thread.WrapWithMeta("hello", now))))
	require.NoError(t, saved.Append(textMsg("m2", types.RoleAssistant, "hi there")))
	require.NoError(t, h.repo.Save(ctx, "c1", saved))

	history, err := h.uc.GetDisplayMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text())
	assert.Zero(t, h.runs.threads)

	require.Len(t, h.judges, 1)
	assert.Len(t, h.judges[0].messages, 2, "judge replays restored history")

	summary, err := h.uc.Summary(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "2 messages", summary)
}

func TestResetThread(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.runs.replies = []types.Message{textMsg("msg_reply", types.RoleAssistant, "answer")}
	ctx := context.Background()

	_, err := h.uc.SendUserTurn(ctx, "c1", "question")
	require.NoError(t, err)

	id, err := h.uc.ResetThread(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "thread_2", id)

	history, err := h.uc.GetDisplayMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, session.DrainIdle, h.uc.DrainPendingReplies(ctx, "c1").Status)

	restored, err := h.repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "thread_2", restored.ID())
	assert.Len(t, h.judges, 2)
}

func TestJudgeDisabled(t *testing.T) {
	uc := NewChatUseCase(Config{}, session.NewRegistry(), nil, &fakeRuns{}, nil, nil, syncTasks{}, nil, logger.NewNop())

	_, err := uc.Summary(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrJudgeDisabled)
	_, err = uc.Critique(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrJudgeDisabled)
}

func TestSetUserInfoDefaults(t *testing.T) {
	reg := session.NewRegistry()
	uc := NewChatUseCase(Config{}, reg, nil, &fakeRuns{}, nil, nil, syncTasks{}, nil, logger.NewNop())

	got := uc.SetUserInfo(context.Background(), "c1", types.UserInfo{Timezone: "Asia/Tokyo"})
	assert.Equal(t, types.UserInfo{Timezone: "Asia/Tokyo", UserAgent: types.DefaultUserAgent}, got)
	assert.Equal(t, got, reg.UserInfo("c1"))
}

type failingTasks struct{}

func (failingTasks) Go(func(ctx context.Context)) error { return errors.New("pool full") }

func TestSendUserTurnScheduleFailure(t *testing.T) {
	h := newHarness(t, Config{}, failingTasks{})
	_, err := h.uc.SendUserTurn(context.Background(), "c1", "hi")
	require.Error(t, err)

	drain := h.uc.DrainPendingReplies(context.Background(), "c1")
	assert.Equal(t, session.DrainError, drain.Status)
}
