package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool is full")
)

// Config Worker Pool 配置
type Config struct {
	Size            int           `mapstructure:"size"`             // 最大并发 worker 数
	Nonblocking     bool          `mapstructure:"nonblocking"`      // 满载时立即返回 ErrPoolFull
	ExpiryDuration  time.Duration `mapstructure:"expiry_duration"`  // 空闲 worker 回收间隔
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 关闭时等待任务完成的时长
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Size:            64,
		Nonblocking:     true,
		ExpiryDuration:  time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic 次数
	Running   int64 // 运行中
}

// Pool 基于 ants 的后台任务池. 任务收到的 context 在 Shutdown 时取消.
type Pool struct {
	pool   *ants.Pool
	config *Config

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{config: config, logger: logger}
	antsPool, err := ants.NewPool(config.Size,
		ants.WithNonblocking(config.Nonblocking),
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPanicHandler(func(err any) {
			p.panicked.Add(1)
			logger.Error("worker panic", zap.Any("error", err), zap.Stack("stacktrace"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Go 提交后台任务
func (p *Pool) Go(task func(ctx context.Context)) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.completed.Add(1)
		}()
		task(p.ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		p.submitted.Add(-1)
		return ErrPoolFull
	case errors.Is(err, ants.ErrPoolClosed):
		p.submitted.Add(-1)
		return ErrPoolClosed
	default:
		p.submitted.Add(-1)
		return err
	}
}

// Running 运行中的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 空闲容量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Stats 统计快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Running:   p.running.Load(),
	}
}

// Shutdown 取消任务 context 并等待任务退出
func (p *Pool) Shutdown() {
	p.cancel()
	if err := p.pool.ReleaseTimeout(p.config.ShutdownTimeout); err != nil {
		p.logger.Warn("worker pool shutdown timed out", zap.Error(err))
	}
}
