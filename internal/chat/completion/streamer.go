package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// DefaultMaxToolRounds 单次请求允许的工具调用轮数
const DefaultMaxToolRounds = 8

// State 流式处理状态
type State int

const (
	StateStreaming State = iota
	StateAccumulatingToolCalls
	StateDispatchingTools
	StateAwaitingContinuation
	StateDone
)

var stateNames = [...]string{"streaming", "accumulating_tool_calls", "dispatching_tools", "awaiting_continuation", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ToolExecutor 执行一批工具调用, 结果与输入顺序一致
type ToolExecutor interface {
	DispatchAll(ctx context.Context, calls []types.ToolCall, cc tools.CallContext) []tools.CallResult
}

// Request 一次补全请求
type Request struct {
	Model       string
	Temperature float32
	Messages    []llm.ChatMessage
	Tools       []llm.ToolSpec
	ClientToken string
}

func (r *Request) build(messages []llm.ChatMessage) *llm.CompletionRequest {
	return &llm.CompletionRequest{
		Model:       r.Model,
		Temperature: r.Temperature,
		Messages:    messages,
		Tools:       r.Tools,
	}
}

// Result 补全结果
type Result struct {
	// Text 转发给调用方的全部文本
	Text string
	// Messages 本次新增的对话消息 (工具请求与工具结果), 不含最终回答
	Messages []llm.ChatMessage
	// Rounds 实际执行的工具轮数
	Rounds int
}

// TextFunc 接收文本增量
type TextFunc func(delta string)

// Streamer 驱动流式补全, 在流中解析并执行工具调用后续接
type Streamer struct {
	api       llm.StreamCompleter
	tools     ToolExecutor
	maxRounds int
	logger    *logger.Logger
}

// NewStreamer 创建 Streamer, maxRounds <= 0 时使用默认值
func NewStreamer(api llm.StreamCompleter, executor ToolExecutor, maxRounds int, log *logger.Logger) *Streamer {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	if log == nil {
		log = logger.L()
	}
	return &Streamer{
		api:       api,
		tools:     executor,
		maxRounds: maxRounds,
		logger:    log.Named("stream"),
	}
}

// streamRun 单次 Stream 调用的可变状态
type streamRun struct {
	req      *Request
	onText   TextFunc
	state    State
	messages []llm.ChatMessage
	acc      *Accumulator
	// held 工具轮期间收到的文本, 不转发, 作为工具请求消息的内容
	held   strings.Builder
	text   strings.Builder
	calls  []types.ToolCall
	result Result
}

// Stream 执行补全. 文本增量经 onText 实时转发, 工具轮期间暂停转发.
func (s *Streamer) Stream(ctx context.Context, req Request, onText TextFunc) (*Result, error) {
	r := &streamRun{
		req:      &req,
		onText:   onText,
		state:    StateStreaming,
		messages: append([]llm.ChatMessage(nil), req.Messages...),
		acc:      NewAccumulator(),
	}

	for r.state != StateDone {
		var err error
		switch r.state {
		case StateStreaming:
			err = s.stream(ctx, r)
		case StateDispatchingTools:
			if r.result.Rounds >= s.maxRounds {
				err = fmt.Errorf("%w: %d rounds", types.ErrToolRoundLimit, r.result.Rounds)
			} else {
				s.dispatch(ctx, r)
			}
		case StateAwaitingContinuation:
			r.state = StateStreaming
		default:
			err = fmt.Errorf("%w: unexpected state %s", types.ErrToolCallProtocol, r.state)
		}
		if err != nil {
			s.logger.Warn("stream aborted", zap.Stringer("state", r.state), zap.Error(err))
			return nil, err
		}
	}

	r.result.Text = r.text.String()
	return &r.result, nil
}

// stream 读取一次补全响应直到结束, 结束后进入 DispatchingTools 或 Done
func (s *Streamer) stream(ctx context.Context, r *streamRun) error {
	st, err := s.api.CreateCompletionStream(ctx, r.req.build(r.messages))
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer st.Close()

	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("receive completion chunk: %w", err)
		}

		for _, d := range chunk.ToolCalls {
			if err := r.acc.Add(d); err != nil {
				return err
			}
			r.state = StateAccumulatingToolCalls
		}

		if chunk.Text != "" {
			if r.state == StateAccumulatingToolCalls {
				r.held.WriteString(chunk.Text)
			} else {
				r.text.WriteString(chunk.Text)
				if r.onText != nil {
					r.onText(chunk.Text)
				}
			}
		}
	}

	if r.acc.Len() == 0 {
		r.state = StateDone
		return nil
	}

	calls, err := r.acc.Calls()
	if err != nil {
		return err
	}
	r.calls = calls
	r.state = StateDispatchingTools
	return nil
}

// dispatch 执行本轮全部调用, 把工具请求与结果追加到对话
func (s *Streamer) dispatch(ctx context.Context, r *streamRun) {
	r.result.Rounds++
	s.logger.Info("dispatching streamed tool calls",
		zap.Int("round", r.result.Rounds),
		zap.Int("calls", len(r.calls)))

	results := s.tools.DispatchAll(ctx, r.calls, tools.CallContext{ClientToken: r.req.ClientToken})
	added := ToolMessages(r.held.String(), r.calls, results)

	r.messages = append(r.messages, added...)
	r.result.Messages = append(r.result.Messages, added...)

	r.acc.Reset()
	r.held.Reset()
	r.calls = nil
	r.state = StateAwaitingContinuation
}

// ToolMessages 构造工具请求消息与每个调用的结果消息.
// 补全接口要求每个调用都有结果, 失败的调用以错误对象作为结果.
func ToolMessages(content string, calls []types.ToolCall, results []tools.CallResult) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(calls)+1)
	out = append(out, llm.ChatMessage{
		Role:      types.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
	})

	for _, res := range results {
		output := res.Output
		if res.Err != nil {
			b, _ := json.Marshal(map[string]string{"error": res.Err.Error()})
			output = string(b)
		}
		out = append(out, llm.ChatMessage{
			Role:       types.RoleTool,
			Content:    output,
			ToolCallID: res.Call.ID,
			Name:       res.Call.Function.Name,
		})
	}
	return out
}
