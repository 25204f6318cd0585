package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/chatai-backend/internal/chat/completion"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/run"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"go.uber.org/zap"
)

// Mode 驱动一轮回复的方式
type Mode string

const (
	// ModeRun 远端助手运行 + 轮询
	ModeRun Mode = "run"
	// ModeStream 无状态流式补全
	ModeStream Mode = "stream"
)

// DefaultMaxCompletionMessages 流式模式发送给补全接口的最大消息数
const DefaultMaxCompletionMessages = 30

// StatusProcessing 提交成功后的确认状态
const StatusProcessing = "processing"

// ThreadRepo 线程持久化
type ThreadRepo interface {
	Save(ctx context.Context, clientID string, th *thread.Thread) error
	// Load 不存在时返回 ErrThreadNotFound
	Load(ctx context.Context, clientID string, opts ...thread.Option) (*thread.Thread, error)
	Delete(ctx context.Context, clientID string) error
}

// RunExecutor 远端运行协调 (run.Coordinator)
type RunExecutor interface {
	StartThread(ctx context.Context) (string, error)
	Submit(ctx context.Context, threadID, text string) (types.Message, error)
	Execute(ctx context.Context, turn run.Turn, onReply run.ReplyFunc) error
}

// StreamExecutor 流式补全 (completion.Streamer)
type StreamExecutor interface {
	Stream(ctx context.Context, req completion.Request, onText completion.TextFunc) (*completion.Result, error)
}

// Judge 绑定在线程上的子代理
type Judge interface {
	thread.MessageSink
	tools.Researcher
	FactCheck(ctx context.Context, cc tools.CallContext) *judge.FactCheckResult
	Summary(ctx context.Context, cc tools.CallContext) (string, error)
	Critique(ctx context.Context, cc tools.CallContext) (*judge.Critique, error)
}

// JudgeFactory 为每个新线程创建独立的 Judge, 为 nil 表示禁用
type JudgeFactory func() Judge

// TaskRunner 后台任务调度 (workerpool.Pool)
type TaskRunner interface {
	Go(task func(ctx context.Context)) error
}

// EventPublisher 推送事件 (sse.Hub)
type EventPublisher interface {
	Broadcast(resource string, event sse.Event)
}

// Config 会话用例配置
type Config struct {
	Mode        Mode
	AssistantID string

	// 流式模式使用
	Model                 string
	Temperature           float32
	Instructions          string
	Tools                 []llm.ToolSpec
	MaxCompletionMessages int

	MetaHeader   bool
	ReplyTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRun
	}
	if c.MaxCompletionMessages <= 0 {
		c.MaxCompletionMessages = DefaultMaxCompletionMessages
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = session.DefaultReplyTimeout
	}
}

// SendResult 提交用户消息的确认
type SendResult struct {
	Status    string `json:"status"`
	UserMsgID string `json:"user_msg_id"`
}

// ChatUseCase 面向客户端的会话操作
type ChatUseCase struct {
	cfg          Config
	systemPrompt string

	sessions *session.Registry
	repo     ThreadRepo
	runs     RunExecutor
	streams  StreamExecutor
	judges   JudgeFactory
	tasks    TaskRunner
	events   EventPublisher

	now    func() time.Time
	logger *logger.Logger
}

// NewChatUseCase 创建会话用例. repo, judges, events 可以为 nil.
func NewChatUseCase(
	cfg Config,
	sessions *session.Registry,
	repo ThreadRepo,
	runs RunExecutor,
	streams StreamExecutor,
	judges JudgeFactory,
	tasks TaskRunner,
	events EventPublisher,
	log *logger.Logger,
) *ChatUseCase {
	cfg.setDefaults()
	if log == nil {
		log = logger.L()
	}
	return &ChatUseCase{
		cfg:          cfg,
		systemPrompt: BuildInstructions(cfg.Instructions),
		sessions:     sessions,
		repo:         repo,
		runs:         runs,
		streams:      streams,
		judges:       judges,
		tasks:        tasks,
		events:       events,
		now:          time.Now,
		logger:       log.Named("chat"),
	}
}

// Mode 当前回复模式
func (uc *ChatUseCase) Mode() Mode {
	return uc.cfg.Mode
}

func (uc *ChatUseCase) threadOptions() []thread.Option {
	return []thread.Option{thread.WithClock(uc.now), thread.WithLogger(uc.logger)}
}

func (uc *ChatUseCase) attachJudge(th *thread.Thread) {
	if uc.judges == nil {
		return
	}
	if j := uc.judges(); j != nil {
		th.AttachSink(j)
	}
}

func (uc *ChatUseCase) newThread(ctx context.Context) (*thread.Thread, error) {
	var id string
	switch uc.cfg.Mode {
	case ModeStream:
		id = "thread_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	default:
		remoteID, err := uc.runs.StartThread(ctx)
		if err != nil {
			return nil, err
		}
		id = remoteID
	}

	th := thread.New(id, uc.threadOptions()...)
	uc.attachJudge(th)
	return th, nil
}

func (uc *ChatUseCase) restoreThread(ctx context.Context, clientID string) (*thread.Thread, error) {
	if uc.repo == nil {
		return nil, ErrThreadNotFound
	}
	th, err := uc.repo.Load(ctx, clientID, uc.threadOptions()...)
	if err != nil {
		return nil, err
	}
	uc.attachJudge(th)
	return th, nil
}

// ensureThread 返回客户端当前线程, 首次访问时先尝试恢复, 否则新建
func (uc *ChatUseCase) ensureThread(ctx context.Context, state *session.ClientState) (*thread.Thread, error) {
	if th := state.Thread(); th != nil {
		return th, nil
	}

	log := uc.logger.WithContext(ctx)
	th, err := uc.restoreThread(ctx, state.ID())
	switch {
	case err == nil:
		log.Info("thread restored", zap.String("thread_id", th.ID()), zap.Int("messages", th.Len()))
	default:
		if !errors.Is(err, ErrThreadNotFound) {
			log.Warn("failed to restore thread, starting a new one", zap.Error(err))
		}
		if th, err = uc.newThread(ctx); err != nil {
			return nil, fmt.Errorf("failed to start thread: %w", err)
		}
		log.Info("thread started", zap.String("thread_id", th.ID()))
	}
	return state.InstallThread(th), nil
}

func (uc *ChatUseCase) persist(ctx context.Context, clientID string, th *thread.Thread) {
	if uc.repo == nil {
		return
	}
	if err := uc.repo.Save(ctx, clientID, th); err != nil {
		uc.logger.WithContext(ctx).Error("failed to persist thread",
			zap.String("thread_id", th.ID()),
			zap.Error(err))
	}
}

func (uc *ChatUseCase) publish(clientID, eventType string, data any) {
	if uc.events == nil {
		return
	}
	uc.events.Broadcast(sse.ClientResource(clientID), sse.Event{Type: eventType, Data: data})
}

// SendUserTurn 提交一条用户消息并在后台驱动回复, 立即返回确认.
// 回复通过 DrainPendingReplies 与推送事件交付.
func (uc *ChatUseCase) SendUserTurn(ctx context.Context, clientID, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	state, _ := uc.sessions.GetOrCreate(clientID)
	th, err := uc.ensureThread(ctx, state)
	if err != nil {
		return nil, err
	}
	log := uc.logger.WithContext(ctx).With(zap.String("thread_id", th.ID()))

	gen, ok := state.TryStartReplies(uc.now(), uc.cfg.ReplyTimeout)
	if !ok {
		return nil, ErrTurnInFlight
	}
	fail := func(err error) (*SendResult, error) {
		state.PushReplies(gen, session.ErrorItem(types.ResultCodeOf(err)))
		log.Warn("failed to send user turn", zap.Error(err))
		return nil, err
	}

	var (
		userMsg types.Message
		task    func(ctx context.Context)
	)
	switch uc.cfg.Mode {
	case ModeStream:
		userMsg, err = th.CreateUserMessage(text, uc.cfg.MetaHeader)
		if err != nil {
			return fail(err)
		}
		task = func(ctx context.Context) { uc.streamTurn(ctx, state, th, gen) }
	default:
		body := text
		if uc.cfg.MetaHeader {
			body = thread.WrapWithMeta(text, uc.now())
		}
		userMsg, err = uc.runs.Submit(ctx, th.ID(), body)
		if err != nil {
			return fail(err)
		}
		if err := th.Append(userMsg); err != nil {
			return fail(err)
		}
		afterID := userMsg.ID
		task = func(ctx context.Context) { uc.runTurn(ctx, state, th, gen, afterID) }
	}

	requestID := logger.GetRequestID(ctx)
	if err := uc.tasks.Go(func(ctx context.Context) {
		ctx = logger.WithRequestID(ctx, requestID)
		ctx = logger.WithClientID(ctx, state.ID())
		ctx = logger.WithThreadID(ctx, th.ID())
		ctx, cancel := context.WithTimeout(ctx, uc.cfg.ReplyTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				uc.logger.WithContext(ctx).Error("turn panicked", zap.Any("panic", r), zap.Stack("stacktrace"))
				uc.finishTurn(ctx, state, th, gen, fmt.Errorf("%w: panic: %v", types.ErrRunFailed, r))
			}
		}()
		task(ctx)
	}); err != nil {
		return fail(fmt.Errorf("failed to schedule turn: %w", err))
	}

	log.Info("user turn accepted", zap.String("user_msg_id", userMsg.ID), zap.String("mode", string(uc.cfg.Mode)))
	return &SendResult{Status: StatusProcessing, UserMsgID: userMsg.ID}, nil
}

// runTurn 远端运行模式的后台任务
func (uc *ChatUseCase) runTurn(ctx context.Context, state *session.ClientState, th *thread.Thread, gen uint64, afterID string) {
	turn := run.Turn{
		ThreadID:    th.ID(),
		AssistantID: uc.cfg.AssistantID,
		AfterID:     afterID,
		ClientToken: state.ID(),
	}
	err := uc.runs.Execute(ctx, turn, func(ctx context.Context, msgs []types.Message) {
		if state.DeliverReplies(th, gen, msgs) && len(msgs) > 0 {
			uc.publish(state.ID(), sse.EventReplies, msgs)
		}
	})
	uc.finishTurn(ctx, state, th, gen, err)
}

// streamTurn 流式模式的后台任务. 助手消息先以空文本创建, 流结束后一次性更新.
func (uc *ChatUseCase) streamTurn(ctx context.Context, state *session.ClientState, th *thread.Thread, gen uint64) {
	reply, err := th.CreateAssistantMessage("")
	if err != nil {
		uc.finishTurn(ctx, state, th, gen, err)
		return
	}

	req := completion.Request{
		Model:       uc.cfg.Model,
		Temperature: uc.cfg.Temperature,
		Messages:    uc.completionMessages(th, reply.ID),
		Tools:       uc.cfg.Tools,
		ClientToken: state.ID(),
	}

	var streamed strings.Builder
	res, err := uc.streams.Stream(ctx, req, func(delta string) {
		streamed.WriteString(delta)
		uc.publish(state.ID(), sse.EventDelta, map[string]string{"msg_id": reply.ID, "text": delta})
	})

	text := streamed.String()
	if err == nil {
		text = res.Text
	}
	if uerr := th.UpdateMessage(reply.ID, text); uerr != nil {
		uc.logger.WithContext(ctx).Warn("failed to update streamed message", zap.Error(uerr))
	}

	if err == nil {
		reply.Content = []types.ContentItem{types.TextItem(text)}
		if state.PushReplies(gen, session.MessageItems([]types.Message{reply})...) {
			uc.publish(state.ID(), sse.EventReplies, []types.Message{reply})
		}
	}
	uc.finishTurn(ctx, state, th, gen, err)
}

func (uc *ChatUseCase) completionMessages(th *thread.Thread, skipID string) []llm.ChatMessage {
	msgs := th.MessagesForCompletion(uc.cfg.MaxCompletionMessages)
	out := make([]llm.ChatMessage, 0, len(msgs)+1)
	out = append(out, llm.ChatMessage{Role: types.RoleSystem, Content: uc.systemPrompt})
	for _, m := range msgs {
		if m.ID == skipID {
			continue
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Text()})
	}
	return out
}

// finishTurn 推送终止标记并持久化线程
func (uc *ChatUseCase) finishTurn(ctx context.Context, state *session.ClientState, th *thread.Thread, gen uint64, err error) {
	log := uc.logger.WithContext(ctx)
	if err != nil {
		code := types.ResultCodeOf(err)
		log.Warn("turn failed", zap.String("code", string(code)), zap.Error(err))
		if state.PushReplies(gen, session.ErrorItem(code)) {
			uc.publish(state.ID(), sse.EventError, map[string]any{"code": code})
		}
	} else {
		log.Info("turn completed", zap.Int("messages", th.Len()))
		if state.PushReplies(gen, session.EndItem()) {
			uc.publish(state.ID(), sse.EventEnd, nil)
		}
	}

	// 超时或关闭时任务 ctx 已结束, 持久化使用独立的短超时
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	uc.persist(saveCtx, state.ID(), th)
}

// DrainPendingReplies 取出客户端已到达的回复, 不阻塞
func (uc *ChatUseCase) DrainPendingReplies(_ context.Context, clientID string) session.Drain {
	state, ok := uc.sessions.Get(clientID)
	if !ok {
		return session.IdleDrain()
	}
	return state.DrainReplies(uc.now(), uc.cfg.ReplyTimeout)
}

func (uc *ChatUseCase) judgeOf(state *session.ClientState) Judge {
	th := state.Thread()
	if th == nil {
		return nil
	}
	j, _ := th.Sink().(Judge)
	return j
}

// RunFactCheck 消费一次性的待核查标记并生成事实核查, 没有标记时返回空结果
func (uc *ChatUseCase) RunFactCheck(ctx context.Context, clientID string) *judge.FactCheckResult {
	empty := &judge.FactCheckResult{FactChecks: []judge.FactCheck{}}

	state, ok := uc.sessions.Get(clientID)
	if !ok {
		return empty
	}
	if _, pending := state.ConsumeFlag(session.FlagFactCheckPending); !pending {
		return empty
	}
	j := uc.judgeOf(state)
	if j == nil {
		return empty
	}

	res := j.FactCheck(ctx, tools.CallContext{ClientToken: clientID})
	if len(res.FactChecks) > 0 {
		uc.publish(clientID, sse.EventAddendums, res)
	}
	return res
}

// GetDisplayMessages 返回去除元数据头的历史消息
func (uc *ChatUseCase) GetDisplayMessages(ctx context.Context, clientID string) ([]types.Message, error) {
	state, _ := uc.sessions.GetOrCreate(clientID)
	th, err := uc.ensureThread(ctx, state)
	if err != nil {
		return nil, err
	}
	return th.MessagesForDisplay(), nil
}

// ResetThread 以新线程替换当前线程, 返回新线程 ID
func (uc *ChatUseCase) ResetThread(ctx context.Context, clientID string) (string, error) {
	state, _ := uc.sessions.GetOrCreate(clientID)
	th, err := uc.newThread(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start thread: %w", err)
	}
	state.SetThread(th)

	if uc.repo != nil {
		if err := uc.repo.Delete(ctx, clientID); err != nil {
			uc.logger.WithContext(ctx).Warn("failed to delete persisted thread", zap.Error(err))
		}
	}
	uc.persist(ctx, clientID, th)

	uc.logger.WithContext(ctx).Info("thread reset", zap.String("thread_id", th.ID()))
	return th.ID(), nil
}

// SetUserInfo 保存客户端上报的用户信息
func (uc *ChatUseCase) SetUserInfo(_ context.Context, clientID string, info types.UserInfo) types.UserInfo {
	state, _ := uc.sessions.GetOrCreate(clientID)
	info = info.WithDefaults()
	state.SetUserInfo(info)
	return info
}

func (uc *ChatUseCase) judgeFor(ctx context.Context, clientID string) (Judge, error) {
	if uc.judges == nil {
		return nil, ErrJudgeDisabled
	}
	state, _ := uc.sessions.GetOrCreate(clientID)
	if _, err := uc.ensureThread(ctx, state); err != nil {
		return nil, err
	}
	j := uc.judgeOf(state)
	if j == nil {
		return nil, ErrJudgeDisabled
	}
	return j, nil
}

// Summary 生成会话摘要
func (uc *ChatUseCase) Summary(ctx context.Context, clientID string) (string, error) {
	j, err := uc.judgeFor(ctx, clientID)
	if err != nil {
		return "", err
	}
	return j.Summary(ctx, tools.CallContext{ClientToken: clientID})
}

// Critique 评价主助手的表现
func (uc *ChatUseCase) Critique(ctx context.Context, clientID string) (*judge.Critique, error) {
	j, err := uc.judgeFor(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return j.Critique(ctx, tools.CallContext{ClientToken: clientID})
}
