package types

import (
	"strings"
	"time"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// ContentType 内容项类型
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// UnknownContentPlaceholder 无法识别的上游内容类型降级后的文本
const UnknownContentPlaceholder = "<Unknown content type>"

// ContentItem 消息内容项 (text 或 image URL)
type ContentItem struct {
	Type  ContentType `json:"type"`
	Value string      `json:"value"`
}

// TextItem 创建文本内容项
func TextItem(s string) ContentItem {
	return ContentItem{Type: ContentText, Value: s}
}

// ImageItem 创建图片内容项
func ImageItem(url string) ContentItem {
	return ContentItem{Type: ContentImage, Value: url}
}

// Message 会话中的一条消息
type Message struct {
	ID        string        `json:"src_id"`
	CreatedAt int64         `json:"created_at"` // unix seconds
	Role      Role          `json:"role"`
	Content   []ContentItem `json:"content"`
}

// Text 拼接所有文本内容项
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		parts = append(parts, c.Value)
	}
	return strings.Join(parts, "\n")
}

// Clone 深拷贝消息
func (m Message) Clone() Message {
	out := m
	out.Content = CloneContent(m.Content)
	return out
}

// CloneContent 复制内容列表, 空列表复制后仍为非 nil
func CloneContent(in []ContentItem) []ContentItem {
	if in == nil {
		return nil
	}
	out := make([]ContentItem, len(in))
	copy(out, in)
	return out
}

// Time 返回消息创建时间
func (m Message) Time() time.Time {
	return time.Unix(m.CreatedAt, 0)
}
