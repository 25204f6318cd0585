package thread

import (
	"encoding/json"
	"fmt"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"go.uber.org/zap"
)

type snapshot struct {
	ThreadID string            `json:"thread_id"`
	Messages []json.RawMessage `json:"messages"`
}

// Serialize 序列化为 {"thread_id", "messages"}
func (t *Thread) Serialize() ([]byte, error) {
	msgs := t.Messages()
	raw := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message %s: %w", m.ID, err)
		}
		raw = append(raw, b)
	}
	return json.Marshal(snapshot{ThreadID: t.id, Messages: raw})
}

// Deserialize 从快照重建线程, 每条消息都重新经过 Append 校验.
// 校验失败的消息被丢弃并记录日志, 其余消息保持原顺序.
func Deserialize(data []byte, opts ...Option) (*Thread, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread: %w", err)
	}
	if snap.ThreadID == "" {
		return nil, fmt.Errorf("failed to unmarshal thread: missing thread_id")
	}

	t := New(snap.ThreadID, opts...)
	for i, raw := range snap.Messages {
		var msg types.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.logger.Warn("skipping undecodable message", zap.Int("index", i), zap.Error(err))
			continue
		}
		_ = t.Append(msg)
	}
	return t, nil
}

// Restore 用快照覆盖当前消息. thread_id 不一致时记录日志并以快照为准.
func (t *Thread) Restore(data []byte) error {
	restored, err := Deserialize(data, WithLogger(t.logger), WithClock(t.now))
	if err != nil {
		return err
	}
	if restored.id != t.id {
		t.logger.Error("thread id mismatch on restore",
			zap.String("expected", t.id),
			zap.String("got", restored.id))
	}

	t.mu.Lock()
	t.id = restored.id
	t.messages = restored.messages
	t.index = restored.index
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		t.AttachSink(sink)
	}
	return nil
}
