package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/retry"
	"go.uber.org/zap"
)

// Defaults
const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultBusyWaitAttempts = 5
	DefaultCancelAttempts   = 100
)

// Config 协调器配置
type Config struct {
	// PollInterval 所有轮询共用的固定间隔
	PollInterval time.Duration
	// BusyWaitAttempts 等待线程空闲的最大检查次数
	BusyWaitAttempts int
	// CancelAttempts 取消遗留运行时的最大检查次数
	CancelAttempts int
	// Sleep 为空时真实休眠
	Sleep retry.SleepFunc
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BusyWaitAttempts <= 0 {
		c.BusyWaitAttempts = DefaultBusyWaitAttempts
	}
	if c.CancelAttempts <= 0 {
		c.CancelAttempts = DefaultCancelAttempts
	}
}

// ToolRunner 解析一个 requires_action 批次并返回要提交的输出
type ToolRunner interface {
	DispatchBatch(ctx context.Context, calls []types.ToolCall, cc tools.CallContext) []types.ToolOutput
}

// Translator 把远端消息转换为本地消息
type Translator interface {
	Translate(ctx context.Context, msg llm.RemoteMessage) types.Message
}

// Turn 一次用户输入
type Turn struct {
	ThreadID    string
	AssistantID string
	// Text 为空时不创建新消息, 直接以 AfterID 为游标发起运行
	Text    string
	AfterID string
	// ClientToken 透传给工具处理器
	ClientToken string
	// OnSubmitted 用户消息在远端创建成功后回调
	OnSubmitted func(msg types.Message)
}

// ReplyFunc 接收运行完成后产生的新消息 (按远端顺序)
type ReplyFunc func(ctx context.Context, msgs []types.Message)

// Coordinator 驱动远端运行直到终态
type Coordinator struct {
	api        llm.ThreadAPI
	tools      ToolRunner
	translator Translator

	busy   retry.Policy
	cancel retry.Policy
	poll   retry.Policy

	logger *logger.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(api llm.ThreadAPI, runner ToolRunner, translator Translator, cfg Config, log *logger.Logger) *Coordinator {
	cfg.setDefaults()
	if log == nil {
		log = logger.L()
	}

	return &Coordinator{
		api:        api,
		tools:      runner,
		translator: translator,
		busy:       retry.Fixed(cfg.PollInterval, cfg.BusyWaitAttempts).WithSleep(cfg.Sleep),
		cancel:     retry.Fixed(cfg.PollInterval, cfg.CancelAttempts).WithSleep(cfg.Sleep),
		// 运行一旦提交便不设上限, 由调用方的 ctx 兜底
		poll:   retry.Fixed(cfg.PollInterval, 0).WithSleep(cfg.Sleep),
		logger: log.Named("run"),
	}
}

// StartThread 创建新的远端线程
func (c *Coordinator) StartThread(ctx context.Context) (string, error) {
	id, err := c.api.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	c.logger.Info("thread created", zap.String("thread_id", id))
	return id, nil
}

// CheckAvailability 确认线程上没有正在进行的运行.
// 最近运行为 expired 时立即返回 ErrThreadExpired; 等待预算耗尽返回 ErrThreadBusy.
// 检查与随后的提交之间不加锁, 远端会拒绝重叠的运行.
func (c *Coordinator) CheckAvailability(ctx context.Context, threadID string) error {
	log := c.logger.With(zap.String("thread_id", threadID))

	err := c.busy.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		latest, err := c.api.LatestRun(ctx, threadID)
		if err != nil {
			return false, fmt.Errorf("get latest run: %w", err)
		}
		if latest == nil {
			return true, nil
		}

		switch latest.Status {
		case types.RunCompleted, types.RunFailed, types.RunCancelled:
			return true, nil
		case types.RunExpired:
			return false, fmt.Errorf("%w: run %s", types.ErrThreadExpired, latest.ID)
		case types.RunRequiresAction:
			log.Warn("cancelling stale run left in requires_action", zap.String("run_id", latest.ID))
			if err := c.cancelStale(ctx, threadID, latest.ID); err != nil {
				return false, err
			}
			return true, nil
		default:
			log.Debug("thread busy, waiting",
				zap.String("run_id", latest.ID),
				zap.String("status", string(latest.Status)),
				zap.Int("attempt", attempt))
			return false, nil
		}
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: thread %s", types.ErrThreadBusy, threadID)
	}
	return err
}

func (c *Coordinator) cancelStale(ctx context.Context, threadID, runID string) error {
	err := c.cancel.Do(ctx, func(ctx context.Context, _ int) (bool, error) {
		run, err := c.api.GetRun(ctx, threadID, runID)
		if err != nil {
			return false, fmt.Errorf("get run %s: %w", runID, err)
		}
		if run.Status.Terminal() {
			return true, nil
		}
		if run.Status == types.RunCancelling {
			return false, nil
		}
		if err := c.api.CancelRun(ctx, threadID, runID); err != nil {
			c.logger.Warn("cancel run failed",
				zap.String("thread_id", threadID),
				zap.String("run_id", runID),
				zap.Error(err))
		}
		return false, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: run %s did not stop", types.ErrThreadTimeout, runID)
	}
	return err
}

// Submit 只在远端创建用户消息, 返回其本地形式. 随后以该消息 ID 为 AfterID 调用 Execute.
func (c *Coordinator) Submit(ctx context.Context, threadID, text string) (types.Message, error) {
	remote, err := c.api.CreateMessage(ctx, threadID, types.RoleUser, text)
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: create message: %v", types.ErrRunFailed, err)
	}
	return c.translator.Translate(ctx, *remote), nil
}

// Execute 提交用户输入并驱动运行到终态. 成功时新消息经 onReply 交付.
// 返回的错误可用 types.ResultCodeOf 归类.
func (c *Coordinator) Execute(ctx context.Context, turn Turn, onReply ReplyFunc) error {
	log := c.logger.With(zap.String("thread_id", turn.ThreadID))

	if err := c.CheckAvailability(ctx, turn.ThreadID); err != nil {
		log.Warn("thread unavailable", zap.Error(err))
		return err
	}

	cursor := turn.AfterID
	if turn.Text != "" {
		msg, err := c.Submit(ctx, turn.ThreadID, turn.Text)
		if err != nil {
			return err
		}
		cursor = msg.ID
		if turn.OnSubmitted != nil {
			turn.OnSubmitted(msg)
		}
	}

	run, err := c.api.CreateRun(ctx, turn.ThreadID, turn.AssistantID)
	if err != nil {
		return fmt.Errorf("%w: create run: %v", types.ErrRunFailed, err)
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.String("assistant_id", turn.AssistantID))

	cc := tools.CallContext{ClientToken: turn.ClientToken}
	rounds := 0

	return c.poll.Do(ctx, func(ctx context.Context, _ int) (bool, error) {
		cur, err := c.api.GetRun(ctx, turn.ThreadID, run.ID)
		if err != nil {
			return false, fmt.Errorf("%w: get run: %v", types.ErrRunFailed, err)
		}

		switch cur.Status {
		case types.RunQueued, types.RunInProgress:
			return false, nil

		case types.RunRequiresAction:
			rounds++
			outputs := c.tools.DispatchBatch(ctx, cur.ToolCalls, cc)
			log.Info("submitting tool outputs",
				zap.Int("round", rounds),
				zap.Int("calls", len(cur.ToolCalls)),
				zap.Int("outputs", len(outputs)))
			if err := c.api.SubmitToolOutputs(ctx, turn.ThreadID, run.ID, outputs); err != nil {
				return false, fmt.Errorf("%w: submit tool outputs: %v", types.ErrRunFailed, err)
			}
			return false, nil

		case types.RunCompleted:
			msgs, err := c.collect(ctx, turn.ThreadID, cursor)
			if err != nil {
				return false, err
			}
			log.Info("run completed", zap.Int("new_messages", len(msgs)), zap.Int("tool_rounds", rounds))
			if onReply != nil {
				onReply(ctx, msgs)
			}
			return true, nil

		case types.RunExpired, types.RunCancelling, types.RunCancelled, types.RunFailed:
			log.Warn("run ended without success",
				zap.String("status", string(cur.Status)),
				zap.String("last_error", cur.LastError))
			return false, fmt.Errorf("%w: status %s", types.ErrRunFailed, cur.Status)

		default:
			log.Warn("unknown run status, continuing to poll", zap.String("status", string(cur.Status)))
			return false, nil
		}
	})
}

func (c *Coordinator) collect(ctx context.Context, threadID, cursor string) ([]types.Message, error) {
	remote, err := c.api.ListMessagesAfter(ctx, threadID, cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", types.ErrRunFailed, err)
	}

	msgs := make([]types.Message, 0, len(remote))
	for _, m := range remote {
		msgs = append(msgs, c.translator.Translate(ctx, m))
	}
	return msgs, nil
}
