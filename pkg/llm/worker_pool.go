package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrNoWorkerSlot is returned when the caller's context ends before a slot frees up.
var ErrNoWorkerSlot = errors.New("no model worker slot available")

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent LLM calls (default: 8)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 8,
	}
}

// WorkerPool bounds the number of model calls in flight across all requests.
// A caller waiting for a slot gives up when its context ends, so one slow
// provider call never holds other requests beyond their own deadlines.
type WorkerPool struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	logger   *zap.Logger
}

// NewWorkerPool creates a new LLM worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
		size:   config.MaxConcurrent,
		logger: logger.Named("llm-worker-pool"),
	}
}

// Size returns the maximum number of concurrent calls.
func (p *WorkerPool) Size() int {
	return p.size
}

// InFlight returns the number of calls currently holding a slot.
func (p *WorkerPool) InFlight() int {
	return int(p.inFlight.Load())
}

// Submit runs fn once a slot is free. If ctx ends while waiting, fn never runs
// and the returned error wraps both ErrNoWorkerSlot and the context error.
func Submit[T any](ctx context.Context, pool *WorkerPool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := pool.sem.Acquire(ctx, 1); err != nil {
		pool.logger.Debug("Gave up waiting for a worker slot", zap.Error(err))
		return zero, fmt.Errorf("%w: %w", ErrNoWorkerSlot, err)
	}
	defer pool.sem.Release(1)

	pool.inFlight.Add(1)
	defer pool.inFlight.Add(-1)

	return fn(ctx)
}
