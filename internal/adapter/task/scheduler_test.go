package task_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/adapter/task"
)

func TestScheduleRunsTask(t *testing.T) {
	s := task.New(2, time.Second)
	defer func() { _ = s.Shutdown(context.Background()) }()

	done := make(chan struct{})
	s.Schedule("test", func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestScheduleDoesNotBlockCaller(t *testing.T) {
	s := task.New(1, 5*time.Second)
	defer func() { _ = s.Shutdown(context.Background()) }()

	block := make(chan struct{})
	s.Schedule("blocker", func(context.Context) { <-block })

	start := time.Now()
	s.Schedule("queued", func(context.Context) {})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Schedule blocked for %v", elapsed)
	}
	close(block)
}

func TestConcurrencyBound(t *testing.T) {
	s := task.New(2, 5*time.Second)
	defer func() { _ = s.Shutdown(context.Background()) }()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		s.Schedule("load", func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", p)
	}
}

func TestPanicDoesNotPropagate(t *testing.T) {
	s := task.New(1, time.Second)
	defer func() { _ = s.Shutdown(context.Background()) }()

	s.Schedule("boom", func(context.Context) { panic("boom") })

	// A panicking task must not take the pool down.
	done := make(chan struct{})
	s.Schedule("after", func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped running tasks after a panic")
	}
}

func TestShutdownWaitsForTasks(t *testing.T) {
	s := task.New(1, time.Second)

	var finished atomic.Bool
	started := make(chan struct{})
	s.Schedule("slow", func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !finished.Load() {
		t.Fatal("shutdown returned before task finished")
	}
}

func TestTaskContextHasDeadline(t *testing.T) {
	s := task.New(1, time.Second)
	defer func() { _ = s.Shutdown(context.Background()) }()

	got := make(chan bool, 1)
	s.Schedule("deadline", func(ctx context.Context) {
		_, ok := ctx.Deadline()
		got <- ok
	})

	select {
	case ok := <-got:
		if !ok {
			t.Fatal("task context has no deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}
