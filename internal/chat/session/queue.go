package session

import (
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
)

// DefaultReplyTimeout 回复队列的过期时间
const DefaultReplyTimeout = 5 * time.Minute

// ItemKind 队列项类型
type ItemKind int

const (
	ItemMessage ItemKind = iota
	ItemEnd
	ItemError
)

// Item 队列项: 一条消息或终止标记
type Item struct {
	Kind    ItemKind
	Message types.Message
	Code    types.ResultCode
}

// MessageItems 把一批消息转换为队列项
func MessageItems(msgs []types.Message) []Item {
	items := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, Item{Kind: ItemMessage, Message: m})
	}
	return items
}

// EndItem 正常结束标记
func EndItem() Item { return Item{Kind: ItemEnd} }

// ErrorItem 失败结束标记
func ErrorItem(code types.ResultCode) Item { return Item{Kind: ItemError, Code: code} }

// DrainStatus 一次取回复的结果状态
type DrainStatus string

const (
	DrainIdle    DrainStatus = "idle"
	DrainPending DrainStatus = "pending"
	DrainDone    DrainStatus = "done"
	DrainTimeout DrainStatus = "timeout"
	DrainError   DrainStatus = "error"
)

// Drain 一次取回复的结果
type Drain struct {
	Replies []types.Message  `json:"replies"`
	Final   bool             `json:"final"`
	Status  DrainStatus      `json:"status"`
	Message string           `json:"message,omitempty"`
	Code    types.ResultCode `json:"code,omitempty"`
}

// IdleDrain 没有进行中的一轮时的结果
func IdleDrain() Drain {
	return Drain{Replies: []types.Message{}, Final: true, Status: DrainIdle, Message: "No pending work"}
}

// PendingReplyQueue 单个客户端的回复队列. 只能在持有客户端锁时访问.
// startedAt 非零当且仅当有一次运行尚未被取完.
type PendingReplyQueue struct {
	startedAt  time.Time
	generation uint64
	items      []Item
}

// start 开始新一轮, 丢弃旧内容并返回本轮的代号
func (q *PendingReplyQueue) start(now time.Time) uint64 {
	q.generation++
	q.startedAt = now
	q.items = nil
	return q.generation
}

func (q *PendingReplyQueue) reset() {
	q.startedAt = time.Time{}
	q.items = nil
}

// Active 是否有进行中的一轮
func (q *PendingReplyQueue) Active() bool {
	return !q.startedAt.IsZero()
}

// push 追加到指定轮次, 轮次已被替换时丢弃并返回 false
func (q *PendingReplyQueue) push(gen uint64, items ...Item) bool {
	if gen != q.generation || !q.Active() {
		return false
	}
	q.items = append(q.items, items...)
	return true
}

// drain 取出当前全部项目, 不阻塞
func (q *PendingReplyQueue) drain(now time.Time, timeout time.Duration) Drain {
	if !q.Active() {
		return IdleDrain()
	}
	if timeout > 0 && now.Sub(q.startedAt) > timeout {
		q.reset()
		return Drain{Replies: []types.Message{}, Final: true, Status: DrainTimeout, Message: "Timeout"}
	}

	out := Drain{Replies: []types.Message{}, Status: DrainPending}
	for len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]

		switch item.Kind {
		case ItemMessage:
			out.Replies = append(out.Replies, item.Message)
		case ItemEnd:
			q.reset()
			out.Final = true
			out.Status = DrainDone
			return out
		case ItemError:
			q.reset()
			out.Final = true
			out.Status = DrainError
			out.Code = item.Code
			out.Message = "processing failed, please retry or reset the conversation"
			return out
		}
	}
	return out
}
