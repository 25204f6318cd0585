package thread

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	// KeepHeadN 压缩上下文时保留的开头消息数
	KeepHeadN = 4

	// RedactedNotice 被省略的中间部分替换成的系统消息
	RedactedNotice = "*** CONTENT REDACTED FOR BREVITY ***"
)

// MessageSink 接收线程消息变更的旁路副本 (例如 Conversation Judge)
type MessageSink interface {
	AddMessage(msg types.Message)
	UpdateMessage(id string, content []types.ContentItem)
	ClearMessages()
}

// Thread 一个会话的有序消息列表
type Thread struct {
	mu       sync.RWMutex
	id       string
	messages []types.Message
	index    map[string]int
	sink     MessageSink
	now      func() time.Time
	logger   *logger.Logger
}

// Option 线程选项
type Option func(*Thread)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(t *Thread) { t.now = now }
}

// WithLogger 注入日志
func WithLogger(l *logger.Logger) Option {
	return func(t *Thread) { t.logger = l }
}

// New 创建空线程
func New(id string, opts ...Option) *Thread {
	t := &Thread{
		id:     id,
		index:  make(map[string]int),
		now:    time.Now,
		logger: logger.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("thread_id", id))
	return t
}

// ID 返回线程 ID
func (t *Thread) ID() string {
	return t.id
}

// Len 返回消息数量
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// LastMessageID 返回最后一条消息的 ID, 空线程返回空串
func (t *Thread) LastMessageID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return ""
	}
	return t.messages[len(t.messages)-1].ID
}

// AttachSink 绑定旁路副本, 清空其内容后重放已有消息
func (t *Thread) AttachSink(sink MessageSink) {
	t.mu.Lock()
	t.sink = sink
	msgs := cloneAll(t.messages)
	t.mu.Unlock()

	if sink == nil {
		return
	}
	sink.ClearMessages()
	for _, m := range msgs {
		sink.AddMessage(m)
	}
}

// Sink 返回当前绑定的旁路副本
func (t *Thread) Sink() MessageSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sink
}

// Validate 检查消息结构
func Validate(msg types.Message) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("%w: empty src_id", types.ErrInvalidMessage)
	case msg.CreatedAt == 0:
		return fmt.Errorf("%w: missing created_at", types.ErrInvalidMessage)
	case !msg.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalidMessage, msg.Role)
	case msg.Content == nil:
		return fmt.Errorf("%w: content is not a list", types.ErrInvalidMessage)
	}
	for i, c := range msg.Content {
		if c.Type != types.ContentText && c.Type != types.ContentImage {
			return fmt.Errorf("%w: content[%d] has type %q", types.ErrInvalidMessage, i, c.Type)
		}
	}
	return nil
}

// Append 追加一条消息, 非法或重复的消息会被拒绝并记录
func (t *Thread) Append(msg types.Message) error {
	if err := Validate(msg); err != nil {
		t.logger.Warn("rejecting message", zap.String("src_id", msg.ID), zap.Error(err))
		return err
	}

	t.mu.Lock()
	if _, exists := t.index[msg.ID]; exists {
		t.mu.Unlock()
		err := fmt.Errorf("%w: duplicate src_id %s", types.ErrInvalidMessage, msg.ID)
		t.logger.Warn("rejecting message", zap.Error(err))
		return err
	}
	msg = msg.Clone()
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	sink := t.sink
	t.mu.Unlock()

	// 旁路副本在释放线程锁之后更新
	if sink != nil {
		sink.AddMessage(msg.Clone())
	}
	return nil
}

// CreateUserMessage 以元数据头包装文本并作为用户消息追加
func (t *Thread) CreateUserMessage(text string, withMeta bool) (types.Message, error) {
	now := t.now()
	if withMeta {
		text = WrapWithMeta(text, now)
	}
	return t.create(types.RoleUser, text, now)
}

// CreateAssistantMessage 追加一条助手消息, 流式场景下初始为空文本
func (t *Thread) CreateAssistantMessage(text string) (types.Message, error) {
	return t.create(types.RoleAssistant, text, t.now())
}

func (t *Thread) create(role types.Role, text string, now time.Time) (types.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	msg := types.Message{
		ID:        "msg_" + strings.ReplaceAll(id.String(), "-", ""),
		CreatedAt: now.Unix(),
		Role:      role,
		Content:   []types.ContentItem{types.TextItem(text)},
	}
	if err := t.Append(msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// UpdateMessage 替换助手消息的文本内容
func (t *Thread) UpdateMessage(id, text string) error {
	t.mu.Lock()
	pos, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrMessageNotFound, id)
	}
	if t.messages[pos].Role != types.RoleAssistant {
		t.mu.Unlock()
		return fmt.Errorf("%w: only assistant messages can be updated", types.ErrInvalidMessage)
	}
	content := []types.ContentItem{types.TextItem(text)}
	t.messages[pos].Content = content
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink.UpdateMessage(id, types.CloneContent(content))
	}
	return nil
}

// Messages 返回原始消息副本 (含元数据头)
func (t *Thread) Messages() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneAll(t.messages)
}

// MessagesForDisplay 返回去除用户元数据头后的全部消息
func (t *Thread) MessagesForDisplay() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := cloneAll(t.messages)
	for i := range out {
		StripMessageMeta(&out[i])
	}
	return out
}

// StripMessageMeta 就地移除用户消息文本中的元数据头
func StripMessageMeta(msg *types.Message) {
	if msg.Role != types.RoleUser {
		return
	}
	for j, c := range msg.Content {
		if c.Type == types.ContentText {
			msg.Content[j].Value = StripMeta(c.Value)
		}
	}
}

// MessagesForCompletion 生成发送给补全接口的消息列表.
// 超过 maxN 条时保留前 KeepHeadN 条, 插入一条省略提示, 再保留最近 maxN-(KeepHeadN+1) 条.
// 窗口小于 KeepHeadN+1 时缩减开头部分, 结果长度始终不超过 maxN.
func (t *Thread) MessagesForCompletion(maxN int) []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.messages)
	if maxN <= 0 || n <= maxN {
		return cloneAll(t.messages)
	}

	head := min(KeepHeadN, maxN-1, n)
	tail := maxN - head - 1

	out := make([]types.Message, 0, maxN)
	out = append(out, cloneAll(t.messages[:head])...)

	// 省略提示沿用最后一条保留的开头消息的时间
	stamp := t.messages[0].CreatedAt
	if head > 0 {
		stamp = t.messages[head-1].CreatedAt
	}
	out = append(out, types.Message{
		ID:        "redacted",
		CreatedAt: stamp,
		Role:      types.RoleSystem,
		Content:   []types.ContentItem{types.TextItem(RedactedNotice)},
	})
	out = append(out, cloneAll(t.messages[n-tail:])...)
	return out
}

func cloneAll(in []types.Message) []types.Message {
	out := make([]types.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
