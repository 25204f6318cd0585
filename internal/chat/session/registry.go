package session

import (
	"sync"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// FlagFactCheckPending 一轮回复结束后置位, 由取附加内容的请求消费
const FlagFactCheckPending = "fact_check_pending"

// ClientState 单个客户端的可变状态, 所有访问都持有 mu
type ClientState struct {
	id string

	mu       sync.Mutex
	userInfo types.UserInfo
	thread   *thread.Thread
	flags    map[string]any
	replies  PendingReplyQueue
	lastSeen time.Time
}

// ID 客户端标识
func (c *ClientState) ID() string {
	return c.id
}

// UserInfo 返回用户信息副本
func (c *ClientState) UserInfo() types.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.userInfo
	if info.Extra != nil {
		extra := make(map[string]string, len(info.Extra))
		for k, v := range info.Extra {
			extra[k] = v
		}
		info.Extra = extra
	}
	return info
}

// SetUserInfo 替换用户信息
func (c *ClientState) SetUserInfo(info types.UserInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userInfo = info
}

// Thread 当前线程, 可能为 nil
func (c *ClientState) Thread() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread
}

// SetThread 替换当前线程, 同时清空回复队列与一次性标记
func (c *ClientState) SetThread(th *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thread = th
	c.replies.reset()
	c.flags = nil
}

// InstallThread 仅在当前没有线程时安装 th, 返回最终生效的线程
func (c *ClientState) InstallThread(th *thread.Thread) *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread != nil {
		return c.thread
	}
	c.thread = th
	c.replies.reset()
	c.flags = nil
	return th
}

// SetFlag 设置一次性标记
func (c *ClientState) SetFlag(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flags == nil {
		c.flags = make(map[string]any)
	}
	c.flags[key] = value
}

// ConsumeFlag 读取并删除一次性标记
func (c *ClientState) ConsumeFlag(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.flags[key]
	if ok {
		delete(c.flags, key)
	}
	return v, ok
}

// StartReplies 为新一轮运行重置回复队列, 返回本轮代号
func (c *ClientState) StartReplies(now time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies.start(now)
}

// TryStartReplies 没有进行中的一轮 (或上一轮已超过 timeout) 时开始新一轮
func (c *ClientState) TryStartReplies(now time.Time, timeout time.Duration) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replies.Active() && (timeout <= 0 || now.Sub(c.replies.startedAt) <= timeout) {
		return 0, false
	}
	return c.replies.start(now), true
}

// RepliesActive 是否有进行中的一轮
func (c *ClientState) RepliesActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies.Active()
}

// PushReplies 向指定轮次追加项目, 轮次已被替换时返回 false
func (c *ClientState) PushReplies(gen uint64, items ...Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies.push(gen, items...)
}

// DeliverReplies 把消息追加到线程并放入回复队列. 追加时不持有客户端锁.
// 线程已被替换或轮次已过期时不投递; 追加期间过期的轮次只保留线程中的消息.
func (c *ClientState) DeliverReplies(th *thread.Thread, gen uint64, msgs []types.Message) bool {
	if !c.current(th, gen) {
		return false
	}

	accepted := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if err := th.Append(m); err != nil {
			continue
		}
		accepted = append(accepted, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread != th {
		return false
	}
	return c.replies.push(gen, MessageItems(accepted)...)
}

func (c *ClientState) current(th *thread.Thread, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread == th && gen == c.replies.generation && c.replies.Active()
}

// DrainReplies 取出已到达的回复. 遇到正常结束标记时置位 FlagFactCheckPending.
func (c *ClientState) DrainReplies(now time.Time, timeout time.Duration) Drain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
	d := c.replies.drain(now, timeout)
	if d.Status == DrainDone {
		if c.flags == nil {
			c.flags = make(map[string]any)
		}
		c.flags[FlagFactCheckPending] = true
	}
	return d
}

// LastSeen 最近一次取回复的时间
func (c *ClientState) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Researcher 当前线程绑定的研究子代理
func (c *ClientState) Researcher() tools.Researcher {
	th := c.Thread()
	if th == nil {
		return nil
	}
	if r, ok := th.Sink().(tools.Researcher); ok {
		return r
	}
	return nil
}

// Registry 客户端标识到状态的映射.
// 映射锁与客户端锁不会同时持有.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientState
	now     func() time.Time
	logger  *logger.Logger
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger 注入日志
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry 创建注册表
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients: make(map[string]*ClientState),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.L()
	}
	r.logger = r.logger.Named("session")
	return r
}

// GetOrCreate 返回客户端状态, created 表示本次新建
func (r *Registry) GetOrCreate(clientID string) (state *ClientState, created bool) {
	r.mu.RLock()
	state, ok := r.clients[clientID]
	r.mu.RUnlock()
	if ok {
		return state, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok = r.clients[clientID]; ok {
		return state, false
	}
	state = &ClientState{id: clientID, lastSeen: r.now()}
	r.clients[clientID] = state
	r.logger.Info("client session created", zap.String("client_id", clientID))
	return state, true
}

// Get 查找客户端状态
func (r *Registry) Get(clientID string) (*ClientState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.clients[clientID]
	return state, ok
}

// Len 客户端数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// UserInfo implements tools.ClientResolver.
func (r *Registry) UserInfo(clientToken string) types.UserInfo {
	state, ok := r.Get(clientToken)
	if !ok {
		return types.UserInfo{}
	}
	return state.UserInfo()
}

// Researcher implements tools.ClientResolver.
func (r *Registry) Researcher(clientToken string) tools.Researcher {
	state, ok := r.Get(clientToken)
	if !ok {
		return nil
	}
	return state.Researcher()
}
