package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 同一批次内并发执行的调用数上限
const DefaultConcurrency = 4

// CallResult 一次调用的结果, Err 非空时 Output 为空
type CallResult struct {
	Call   types.ToolCall
	Kind   Kind
	Output string
	Err    error
}

// Dispatcher 将工具调用解析到注册表并执行
type Dispatcher struct {
	registry    *Registry
	concurrency int
	logger      *logger.Logger
}

// NewDispatcher 创建调度器
func NewDispatcher(registry *Registry, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.L()
	}
	return &Dispatcher{
		registry:    registry,
		concurrency: DefaultConcurrency,
		logger:      log.Named("tools"),
	}
}

// Registry 返回底层注册表
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch 执行单个调用, 返回可 JSON 序列化的结果.
// 参数无法解析返回 ErrMalformedToolArguments, 处理器出错返回 ErrToolDispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, name, rawArgs string, cc CallContext) (result any, err error) {
	kind, handler := d.registry.Resolve(name)

	args, err := ParseArgs(rawArgs)
	if err != nil {
		if kind != KindUnknown {
			return nil, err
		}
		// 兜底处理器必须总能给出结果
		d.logger.Warn("ignoring malformed arguments for unknown tool", zap.String("tool", name), zap.Error(err))
		args, _ = ParseArgs("")
	}
	args.Name = name

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s panicked: %v", types.ErrToolDispatch, name, r)
		}
	}()

	d.logger.Debug("dispatching tool",
		zap.String("tool", name),
		zap.Stringer("kind", kind),
		zap.String("client_token", cc.ClientToken))

	result, err = handler.Invoke(ctx, args, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrToolDispatch, name, err)
	}
	return result, nil
}

// DispatchAll 执行一批调用, 结果与输入顺序一致; 单个调用失败不影响其它调用
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []types.ToolCall, cc CallContext) []CallResult {
	results := make([]CallResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			kind, _ := d.registry.Resolve(call.Function.Name)
			res := CallResult{Call: call, Kind: kind}

			out, err := d.Dispatch(gctx, call.Function.Name, call.Function.Arguments, cc)
			if err == nil {
				var b []byte
				b, err = json.Marshal(out)
				res.Output = string(b)
			}
			if err != nil {
				d.logger.Warn("tool call failed",
					zap.String("tool_call_id", call.ID),
					zap.String("tool", call.Function.Name),
					zap.Error(err))
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// DispatchBatch 执行一个 requires_action 批次并返回要提交的输出, 失败的调用被省略
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []types.ToolCall, cc CallContext) []types.ToolOutput {
	outputs := make([]types.ToolOutput, 0, len(calls))
	for _, r := range d.DispatchAll(ctx, calls, cc) {
		if r.Err != nil {
			continue
		}
		outputs = append(outputs, types.ToolOutput{ToolCallID: r.Call.ID, Output: r.Output})
	}
	return outputs
}
