package workerpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Config Worker Pool 配置
type Config struct {
	Workers int `mapstructure:"workers"` // worker 数量
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{Workers: 8}
}

// Pool 基于 ants 的 Worker Pool
// 用于限制重 IO 任务（如分块合并）的并发数
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	return &Pool{
		pool:   antsPool,
		logger: logger,
	}, nil
}

// Submit 提交异步任务
func (p *Pool) Submit(task func()) error {
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}
	return p.pool.Submit(task)
}

// SubmitWait 在池中执行任务并等待其完成
// 调用方阻塞到任务结束或 ctx 取消；ctx 取消时任务仍会在池中跑完
func (p *Pool) SubmitWait(ctx context.Context, fn func() error) error {
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}

	done := make(chan error, 1)
	if err := p.pool.Submit(func() {
		done <- fn()
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running 返回正在执行任务的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release 关闭 Worker Pool
func (p *Pool) Release() {
	p.pool.Release()
}
