package completion

import (
	"context"
	"fmt"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// Runner 非流式补全, 模型请求工具时执行并续接, 直到得到最终回答
type Runner struct {
	api       llm.Completer
	tools     ToolExecutor
	maxRounds int
	logger    *logger.Logger
}

// NewRunner 创建 Runner
func NewRunner(api llm.Completer, executor ToolExecutor, maxRounds int, log *logger.Logger) *Runner {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	if log == nil {
		log = logger.L()
	}
	return &Runner{
		api:       api,
		tools:     executor,
		maxRounds: maxRounds,
		logger:    log.Named("completion"),
	}
}

// Complete 返回最终回答文本
func (r *Runner) Complete(ctx context.Context, req Request) (*Result, error) {
	messages := append([]llm.ChatMessage(nil), req.Messages...)
	result := &Result{}

	for {
		resp, err := r.api.CreateCompletion(ctx, req.build(messages))
		if err != nil {
			return nil, fmt.Errorf("create completion: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Content
			return result, nil
		}

		if result.Rounds >= r.maxRounds {
			return nil, fmt.Errorf("%w: %d rounds", types.ErrToolRoundLimit, result.Rounds)
		}
		result.Rounds++

		r.logger.Debug("completion requested tools",
			zap.Int("round", result.Rounds),
			zap.Int("calls", len(resp.ToolCalls)))

		results := r.tools.DispatchAll(ctx, resp.ToolCalls, tools.CallContext{ClientToken: req.ClientToken})
		added := ToolMessages(resp.Content, resp.ToolCalls, results)
		messages = append(messages, added...)
		result.Messages = append(result.Messages, added...)
	}
}
