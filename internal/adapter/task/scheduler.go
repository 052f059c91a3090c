// Package task implements the scheduler port: a bounded pool of
// background goroutines for extraction and reflection work.
package task

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 2 * time.Minute

// Scheduler runs tasks on background goroutines. Schedule never blocks
// the caller: the semaphore is acquired inside the spawned goroutine, so
// a saturated pool delays tasks instead of delaying chat turns. Panics
// in tasks are recovered and logged.
type Scheduler struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler running at most maxConcurrent tasks at once.
// timeout bounds each task's context; non-positive means the default.
func New(maxConcurrent int64, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
		base:    base,
		cancel:  cancel,
	}
}

// Schedule queues fn for background execution. name identifies the task
// in logs. Returns immediately.
func (s *Scheduler) Schedule(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked",
					"task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()

		if err := s.sem.Acquire(s.base, 1); err != nil {
			return // scheduler shut down while waiting
		}
		defer s.sem.Release(1)

		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()

		fn(ctx)
	}()
}

// Shutdown cancels pending and running tasks and waits for goroutines to
// exit, up to the given context's deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
