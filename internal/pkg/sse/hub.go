package sse

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// 会话推送的事件类型
const (
	EventConnected = "connected"
	EventReplies   = "replies"
	EventDelta     = "delta"
	EventEnd       = "end"
	EventError     = "error"
	EventAddendums = "addendums"
)

// Event SSE 事件
type Event struct {
	Type string `json:"type"` // 事件类型
	Data any    `json:"data"` // 事件数据
}

// Client SSE 客户端连接
type Client struct {
	ID       string
	Channel  chan Event
	Resource string // 订阅的资源 ID (如 client:xxx)
}

// NewClient 为资源创建带缓冲的订阅者
func NewClient(resource string, bufferSize int) *Client {
	return &Client{
		ID:       uuid.New().String(),
		Channel:  make(chan Event, bufferSize),
		Resource: resource,
	}
}

// ClientResource 客户端会话对应的资源 ID
func ClientResource(clientID string) string {
	return "client:" + clientID
}

// Hub SSE 连接管理器
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool // resource -> clients
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.Resource] == nil {
		h.clients[client.Resource] = make(map[*Client]bool)
	}
	h.clients[client.Resource][client] = true
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.Resource]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.Channel)

			// 清理空资源
			if len(clients) == 0 {
				delete(h.clients, client.Resource)
			}
		}
	}
}

// Broadcast 向订阅指定资源的所有客户端广播消息
func (h *Hub) Broadcast(resource string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[resource] {
		select {
		case client.Channel <- event:
		default:
			// 客户端缓冲区满,跳过
		}
	}
}

// GetClientCount 获取订阅指定资源的客户端数量
func (h *Hub) GetClientCount(resource string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[resource])
}

// FormatSSE 格式化为 SSE 消息格式.
// map 数据会并入 type 字段, 其他数据放在 payload 字段.
func (e Event) FormatSSE() string {
	var body map[string]any
	if m, ok := e.Data.(map[string]any); ok {
		body = make(map[string]any, len(m)+1)
		for k, v := range m {
			body[k] = v
		}
	} else {
		body = map[string]any{"payload": e.Data}
	}
	body["type"] = e.Type

	data, _ := json.Marshal(body)
	return "event: " + e.Type + "\ndata: " + string(data) + "\n\n"
}
