package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lk2023060901/chatai-backend/internal/chat/completion"
	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// Defaults
const (
	DefaultContextMessages   = 8
	DefaultFactCheckMessages = 2
	DefaultResearchMessages  = 6
	DefaultSummaryMessages   = 1000
)

// Config Judge 配置
type Config struct {
	Model             string
	Temperature       float32
	ContextMessages   int
	FactCheckMessages int
	ResearchMessages  int
	SummaryMessages   int
	// MaxPromptTokens 会话文本的 token 上限, 0 表示不限制
	MaxPromptTokens int
}

func (c *Config) setDefaults() {
	if c.ContextMessages <= 0 {
		c.ContextMessages = DefaultContextMessages
	}
	if c.FactCheckMessages <= 0 {
		c.FactCheckMessages = DefaultFactCheckMessages
	}
	if c.ResearchMessages <= 0 {
		c.ResearchMessages = DefaultResearchMessages
	}
	if c.SummaryMessages <= 0 {
		c.SummaryMessages = DefaultSummaryMessages
	}
}

// Completer 带工具循环的补全
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

// Link 事实核查的来源
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// FactCheck 针对一条消息的核查结论
type FactCheck struct {
	Role        string  `json:"role"`
	MsgID       string  `json:"msg_id"`
	Correctness float64 `json:"correctness"`
	Rebuttal    string  `json:"rebuttal,omitempty"`
	Links       []Link  `json:"links,omitempty"`
}

// FactCheckResult 事实核查结果, 失败时为空列表
type FactCheckResult struct {
	FactChecks []FactCheck `json:"fact_checks"`
}

// Critique 对主助手的评价
type Critique struct {
	Text           string `json:"text"`
	RequiresAction bool   `json:"requires_action"`
}

// Judge 旁观主会话的子代理. 通过 MessageSink 与线程保持同步.
type Judge struct {
	mu       sync.Mutex
	messages []types.Message

	cfg     Config
	llm     Completer
	tools   []llm.ToolSpec
	counter TokenCounter
	logger  *logger.Logger
}

// Option Judge 选项
type Option func(*Judge)

// WithTokenCounter 启用会话文本 token 预算
func WithTokenCounter(c TokenCounter) Option {
	return func(j *Judge) { j.counter = c }
}

// WithLogger 注入日志
func WithLogger(l *logger.Logger) Option {
	return func(j *Judge) { j.logger = l }
}

// New 创建 Judge. toolSpecs 应排除需要再委托子代理的工具.
func New(cfg Config, completer Completer, toolSpecs []llm.ToolSpec, opts ...Option) *Judge {
	cfg.setDefaults()
	j := &Judge{
		cfg:   cfg,
		llm:   completer,
		tools: toolSpecs,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = logger.L()
	}
	j.logger = j.logger.Named("judge")
	return j
}

// AddMessage implements thread.MessageSink.
func (j *Judge) AddMessage(msg types.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = append(j.messages, msg.Clone())
}

// UpdateMessage implements thread.MessageSink.
func (j *Judge) UpdateMessage(id string, content []types.ContentItem) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.messages {
		if j.messages[i].ID == id {
			j.messages[i].Content = types.CloneContent(content)
			return
		}
	}
}

// ClearMessages implements thread.MessageSink.
func (j *Judge) ClearMessages() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = nil
}

// Len 当前持有的消息数
func (j *Judge) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.messages)
}

// entry 会话中的一条带全局序号的消息
type entry struct {
	index int
	msg   types.Message
}

// window 返回 [len-from, len-to) 区间的消息, 越界部分被截断
func (j *Judge) window(from, to int) []entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.messages)
	start := max(0, n-from)
	end := max(0, n-to)
	out := make([]entry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, entry{index: i, msg: j.messages[i].Clone()})
	}
	return out
}

// formatConvo 按固定格式输出会话, 用户消息中的元数据头被移除
func formatConvo(entries []entry) string {
	var sb strings.Builder
	for _, e := range entries {
		msg := e.msg
		thread.StripMessageMeta(&msg)
		fmt.Fprintf(&sb, "- Message: %d by %s (msg_id: %s):\n", e.index, msg.Role, msg.ID)
		for _, c := range msg.Content {
			sb.WriteString(c.Value)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// fitBudget 超出 token 预算时从最早的消息开始丢弃
func (j *Judge) fitBudget(entries []entry, extra string) []entry {
	if j.counter == nil || j.cfg.MaxPromptTokens <= 0 {
		return entries
	}
	budget := j.cfg.MaxPromptTokens - j.counter.Count(extra)
	for len(entries) > 1 && j.counter.Count(formatConvo(entries)) > budget {
		entries = entries[1:]
	}
	return entries
}

func (j *Judge) generate(ctx context.Context, mode, instructions, convo string, cc tools.CallContext) (string, error) {
	res, err := j.llm.Complete(ctx, completion.Request{
		Model:       j.cfg.Model,
		Temperature: j.cfg.Temperature,
		Messages: []llm.ChatMessage{
			{Role: types.RoleSystem, Content: instructions},
			{Role: types.RoleUser, Content: convo},
		},
		Tools:       j.tools,
		ClientToken: cc.ClientToken,
	})
	if err != nil {
		return "", fmt.Errorf("judge %s: %w", mode, err)
	}
	j.logger.Debug("judge completion", zap.String("mode", mode), zap.Int("tool_rounds", res.Rounds))
	return res.Text, nil
}

// Summary 将会话压缩为 100 词以内的摘要
func (j *Judge) Summary(ctx context.Context, cc tools.CallContext) (string, error) {
	entries := j.fitBudget(j.window(j.cfg.SummaryMessages, 0), "")
	if len(entries) == 0 {
		return "", nil
	}
	out, err := j.generate(ctx, "summary", summaryInstructions, formatConvo(entries), cc)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Critique 评价主助手. 回复不是合法对象时以原文作为评价文本.
func (j *Judge) Critique(ctx context.Context, cc tools.CallContext) (*Critique, error) {
	entries := j.fitBudget(j.window(j.cfg.SummaryMessages, 0), "")
	if len(entries) == 0 {
		return &Critique{}, nil
	}
	out, err := j.generate(ctx, "critique", critiqueInstructions, formatConvo(entries), cc)
	if err != nil {
		return nil, err
	}

	critique := &Critique{}
	if ExtractFirstJSON(out) == "" {
		critique.Text = strings.TrimSpace(out)
		return critique, nil
	}
	if err := DecodeFirstJSON(out, critique); err != nil {
		j.logger.Warn("critique is not valid JSON", zap.Error(err))
		return &Critique{Text: strings.TrimSpace(out)}, nil
	}
	return critique, nil
}

// FactCheck 核查最近 FactCheckMessages 条消息, 之前的 ContextMessages 条作为背景.
// 任何失败都返回空结果.
func (j *Judge) FactCheck(ctx context.Context, cc tools.CallContext) *FactCheckResult {
	empty := &FactCheckResult{FactChecks: []FactCheck{}}

	checked := j.window(j.cfg.FactCheckMessages, 0)
	if len(checked) == 0 {
		return empty
	}
	checkedText := formatConvo(checked)
	background := j.fitBudget(j.window(j.cfg.FactCheckMessages+j.cfg.ContextMessages, j.cfg.FactCheckMessages), checkedText)

	var sb strings.Builder
	if len(background) > 0 {
		sb.WriteString("## CONTEXT\n")
		sb.WriteString(formatConvo(background))
		sb.WriteString("\n")
	}
	sb.WriteString("## MESSAGES TO CHECK\n")
	sb.WriteString(checkedText)

	out, err := j.generate(ctx, "fact_check", factCheckInstructions, sb.String(), cc)
	if err != nil {
		j.logger.Warn("fact-check failed", zap.Error(err))
		return empty
	}

	result := &FactCheckResult{}
	if err := DecodeFirstJSON(out, result); err != nil {
		j.logger.Warn("fact-check is not valid JSON", zap.Error(err), zap.String("output", out))
		return empty
	}
	if result.FactChecks == nil {
		result.FactChecks = []FactCheck{}
	}
	return result
}

// Research implements tools.Researcher.
func (j *Judge) Research(ctx context.Context, query string, cc tools.CallContext) (string, error) {
	entries := j.fitBudget(j.window(j.cfg.ResearchMessages, 0), query)

	var sb strings.Builder
	sb.WriteString(formatConvo(entries))
	sb.WriteString("\n## QUERY\n")
	sb.WriteString(query)

	out, err := j.generate(ctx, "research", researchInstructions, sb.String(), cc)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
