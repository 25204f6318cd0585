package tools

import (
	"context"
	"fmt"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
)

// Kind 已知工具种类, KindUnknown 表示走兜底处理
type Kind int

const (
	KindUnknown Kind = iota
	KindWebSearch
	KindUserInfo
	KindUnixTime
	KindUserLocalTime
	KindAskResearch
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindWebSearch:     "perform_web_search",
	KindUserInfo:      "get_user_info",
	KindUnixTime:      "get_unix_time",
	KindUserLocalTime: "get_user_local_time",
	KindAskResearch:   "ask_research_assistant",
}

// String 返回工具调用名
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CallContext 随每次调用传递的客户端上下文
type CallContext struct {
	// ClientToken 不透明的客户端标识, 处理器借此取得用户信息或 Judge
	ClientToken string
}

// Handler 单一能力: 以参数和上下文调用, 返回可 JSON 序列化的结果
type Handler interface {
	Invoke(ctx context.Context, args Args, cc CallContext) (any, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, args Args, cc CallContext) (any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, args Args, cc CallContext) (any, error) {
	return f(ctx, args, cc)
}

// Definition 注册表中的一项工具
type Definition struct {
	Kind        Kind
	Description string
	Parameters  map[string]any
	Handler     Handler

	// RequiresSubagent 工具会委托给子代理, 子代理自身不能再使用它
	RequiresSubagent bool
	// EligibleForRoot 工具可提供给主助手
	EligibleForRoot bool
}

// Name 工具调用名
func (d Definition) Name() string {
	return d.Kind.String()
}

// Spec 转换为模型可见的函数定义
func (d Definition) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        d.Name(),
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Registry 启动时构建一次, 之后只读
type Registry struct {
	defs     []Definition
	byName   map[string]int
	fallback Handler
}

// NewRegistry 创建注册表
func NewRegistry(fallback Handler, defs ...Definition) (*Registry, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback handler is required")
	}

	r := &Registry{
		defs:     make([]Definition, 0, len(defs)),
		byName:   make(map[string]int, len(defs)),
		fallback: fallback,
	}
	for _, d := range defs {
		if d.Kind == KindUnknown {
			return nil, fmt.Errorf("tool kind must not be unknown")
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", d.Name())
		}
		if _, dup := r.byName[d.Name()]; dup {
			return nil, fmt.Errorf("tool %s registered twice", d.Name())
		}
		r.byName[d.Name()] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Resolve 按调用名解析工具, 未注册时返回 KindUnknown 与兜底处理器
func (r *Registry) Resolve(name string) (Kind, Handler) {
	if i, ok := r.byName[name]; ok {
		return r.defs[i].Kind, r.defs[i].Handler
	}
	return KindUnknown, r.fallback
}

// Definitions 返回全部定义
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

// ForRoot 主助手可用的工具
func (r *Registry) ForRoot() []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, d := range r.defs {
		if d.EligibleForRoot {
			out = append(out, d.Spec())
		}
	}
	return out
}

// ForSubagent 子代理可用的工具 (排除需要再委托子代理的工具, 防止递归)
func (r *Registry) ForSubagent() []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, d := range r.defs {
		if !d.RequiresSubagent {
			out = append(out, d.Spec())
		}
	}
	return out
}
