package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPool_Submit_ReturnsResult(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	got, err := Submit(context.Background(), pool, func(ctx context.Context) (string, error) {
		return "SELECT 1", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("expected SELECT 1, got %q", got)
	}
	if pool.InFlight() != 0 {
		t.Errorf("expected slot to be released, in flight = %d", pool.InFlight())
	}
}

func TestWorkerPool_Submit_PropagatesError(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())
	expected := errors.New("provider failed")

	_, err := Submit(context.Background(), pool, func(ctx context.Context) (string, error) {
		return "", expected
	})
	if !errors.Is(err, expected) {
		t.Errorf("expected %v, got %v", expected, err)
	}

	// The slot must be free again after a failure.
	_, err = Submit(context.Background(), pool, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Errorf("expected second call to succeed, got %v", err)
	}
}

func TestWorkerPool_Submit_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	var current, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Submit(context.Background(), pool, func(ctx context.Context) (struct{}, error) {
				n := current.Add(1)
				for {
					old := maxSeen.Load()
					if n <= old || maxSeen.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if maxSeen.Load() > 3 {
		t.Errorf("expected at most 3 concurrent calls, saw %d", maxSeen.Load())
	}
}

func TestWorkerPool_Submit_HonoursContextWhileWaiting(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), pool, func(ctx context.Context) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	_, err := Submit(ctx, pool, func(ctx context.Context) (struct{}, error) {
		ran.Store(true)
		return struct{}{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrNoWorkerSlot) {
		t.Errorf("expected ErrNoWorkerSlot wrapping deadline exceeded, got %v", err)
	}
	if ran.Load() {
		t.Error("fn must not run when no slot was acquired")
	}
}

func TestNewWorkerPool_DefaultsSize(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{}, zap.NewNop())
	if pool.Size() != DefaultWorkerPoolConfig().MaxConcurrent {
		t.Errorf("expected default size %d, got %d", DefaultWorkerPoolConfig().MaxConcurrent, pool.Size())
	}
}
