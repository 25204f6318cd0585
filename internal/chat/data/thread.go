package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/pkg/redis"
)

const (
	// ThreadKeyPrefix 线程快照的 Redis key 前缀 (客户端前缀之后)
	ThreadKeyPrefix = "thread:"

	// DefaultThreadTTL 线程快照的过期时间
	DefaultThreadTTL = 7 * 24 * time.Hour
)

// KV 线程仓储依赖的键值操作, 由 redis.Client 实现
type KV interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

var _ KV = (*redis.Client)(nil)

// ThreadRepo 以客户端标识为键保存线程快照
type ThreadRepo struct {
	kv  KV
	ttl time.Duration
}

var _ biz.ThreadRepo = (*ThreadRepo)(nil)

// NewThreadRepo 创建线程仓储, ttl <= 0 时使用默认值
func NewThreadRepo(kv KV, ttl time.Duration) *ThreadRepo {
	if ttl <= 0 {
		ttl = DefaultThreadTTL
	}
	return &ThreadRepo{kv: kv, ttl: ttl}
}

func threadKey(clientID string) string {
	return ThreadKeyPrefix + clientID
}

// Save 序列化线程并刷新过期时间
func (r *ThreadRepo) Save(ctx context.Context, clientID string, th *thread.Thread) error {
	data, err := th.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize thread: %w", err)
	}
	if err := r.kv.Set(ctx, threadKey(clientID), data, r.ttl); err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// Load 读取并重建线程, 不存在时返回 biz.ErrThreadNotFound
func (r *ThreadRepo) Load(ctx context.Context, clientID string, opts ...thread.Option) (*thread.Thread, error) {
	data, err := r.kv.Get(ctx, threadKey(clientID))
	if err != nil {
		if redis.IsNil(err) {
			return nil, biz.ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	return thread.Deserialize(data, opts...)
}

// Delete 删除线程快照
func (r *ThreadRepo) Delete(ctx context.Context, clientID string) error {
	if _, err := r.kv.Del(ctx, threadKey(clientID)); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}
