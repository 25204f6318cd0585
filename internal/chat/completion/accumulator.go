package completion

import (
	"fmt"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
)

type pendingCall struct {
	index  int
	id     string
	name   string
	args   strings.Builder
	sealed bool
}

// Accumulator 按 index 合并一轮流式响应中的工具调用片段.
// id 与 name 每个调用只能设置一次, arguments 按到达顺序拼接.
type Accumulator struct {
	calls   []*pendingCall
	byIndex map[int]*pendingCall
}

// NewAccumulator 创建空的累加器
func NewAccumulator() *Accumulator {
	return &Accumulator{byIndex: make(map[int]*pendingCall)}
}

// Add 合并一个片段. 新的 index 会封存之前的调用.
func (a *Accumulator) Add(d llm.ToolCallDelta) error {
	call, ok := a.byIndex[d.Index]
	if !ok {
		for _, c := range a.calls {
			c.sealed = true
		}
		call = &pendingCall{index: d.Index}
		a.byIndex[d.Index] = call
		a.calls = append(a.calls, call)
	} else if call.sealed {
		return fmt.Errorf("%w: delta for completed call index %d", types.ErrToolCallProtocol, d.Index)
	}

	if d.ID != "" {
		if call.id != "" {
			return fmt.Errorf("%w: id set twice for call index %d", types.ErrToolCallProtocol, d.Index)
		}
		call.id = d.ID
	}
	if d.Name != "" {
		if call.name != "" {
			return fmt.Errorf("%w: name set twice for call index %d", types.ErrToolCallProtocol, d.Index)
		}
		call.name = d.Name
	}
	call.args.WriteString(d.Arguments)
	return nil
}

// Len 已开始累积的调用数
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Calls 封存全部调用并按到达顺序返回. 缺少 id 或 name 的调用视为协议错误.
func (a *Accumulator) Calls() ([]types.ToolCall, error) {
	out := make([]types.ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		c.sealed = true
		if c.id == "" || c.name == "" {
			return nil, fmt.Errorf("%w: call index %d is missing id or name", types.ErrToolCallProtocol, c.index)
		}
		out = append(out, types.ToolCall{
			ID:   c.id,
			Type: "function",
			Function: types.FunctionCall{
				Name:      c.name,
				Arguments: c.args.String(),
			},
		})
	}
	return out, nil
}

// Reset 清空, 用于下一轮
func (a *Accumulator) Reset() {
	a.calls = nil
	a.byIndex = make(map[int]*pendingCall)
}
