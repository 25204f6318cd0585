package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/redis"
	"github.com/lk2023060901/chatai-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// ScriptRunner 执行 Lua 脚本, 由 redis.Client 实现
type ScriptRunner interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

var _ ScriptRunner = (*redis.Client)(nil)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口内允许的最大请求数, <= 0 表示不限流
	MaxRequests int
	// 时间窗口
	Window time.Duration
}

// 滑动窗口: 有序集合中只保留窗口内的请求
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local current = redis.call('ZCARD', key)

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - current - 1}
end
return {0, 0}
`

// RateLimiter 按客户端限流, 依赖会话中间件写入的客户端标识
func RateLimiter(runner ScriptRunner, cfg RateLimitConfig, log *logger.Logger) gin.HandlerFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	var seq atomic.Uint64

	return func(c *gin.Context) {
		if cfg.MaxRequests <= 0 || runner == nil {
			c.Next()
			return
		}

		key := "rate_limit:client:" + ClientID(c)
		now := time.Now().UnixMilli()
		member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(seq.Add(1), 10)

		allowed, remaining, err := checkRateLimit(c.Request.Context(), runner, key, now, member, cfg)
		if err != nil {
			// 限流器故障时放行
			log.WithContext(c.Request.Context()).Error("rate limiter error", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window/time.Second)))
			response.TooManyRequests(c, fmt.Sprintf("try again in %s", cfg.Window))
			return
		}
		c.Next()
	}
}

func checkRateLimit(ctx context.Context, runner ScriptRunner, key string, now int64, member string, cfg RateLimitConfig) (bool, int, error) {
	res, err := runner.Eval(ctx, slidingWindowScript, []string{key},
		now, cfg.Window.Milliseconds(), cfg.MaxRequests, member)
	if err != nil {
		return false, 0, err
	}

	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("invalid rate limit result: %v", res)
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	return allowed == 1, int(remaining), nil
}
