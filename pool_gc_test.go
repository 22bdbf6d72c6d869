package forkjoin_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	forkjoin "github.com/Swind/go-forkjoin"
)

func collectGarbage(done func() bool) {
	for i := 0; i < 10 && !done(); i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

// TestPool_GC_AfterTermination verifies a terminated pool is collectable
// Given: A pool that ran a forked computation
// When: The pool is shut down, terminates and the reference is dropped
// Then: The pool is garbage collected
func TestPool_GC_AfterTermination(t *testing.T) {
	// Arrange
	var finalized atomic.Bool
	pool, err := forkjoin.NewPool(forkjoin.WithParallelism(2))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	runtime.SetFinalizer(pool, func(*forkjoin.Pool) { finalized.Store(true) })

	// Act
	if _, err := pool.Invoke(context.Background(), fib(12)); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	pool.Shutdown()
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	pool = nil
	collectGarbage(finalized.Load)

	// Assert
	if !finalized.Load() {
		t.Error("Pool GC'd: got = false, want = true")
	}
}

// TestTask_GC_AfterCancelledJoin verifies a cancelled task does not pin its pool
// Given: A pool blocked on a task that never completes
// When: The pool is stopped and every reference is dropped
// Then: Both the task and the pool are garbage collected
func TestTask_GC_AfterCancelledJoin(t *testing.T) {
	// Arrange
	var poolFinalized, taskFinalized atomic.Bool
	pool, err := forkjoin.NewPool(forkjoin.WithParallelism(1))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	release := make(chan struct{})
	blocker, err := pool.Submit(forkjoin.NewAction(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	queued, err := pool.Submit(forkjoin.NewAction(func(ctx context.Context) error { return nil }))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	runtime.SetFinalizer(pool, func(*forkjoin.Pool) { poolFinalized.Store(true) })
	runtime.SetFinalizer(queued, func(*forkjoin.Task) { taskFinalized.Store(true) })

	// Act
	pool.ShutdownNow()
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	close(release)
	<-blocker.Done()
	pool, queued, blocker = nil, nil, nil
	collectGarbage(func() bool { return poolFinalized.Load() && taskFinalized.Load() })

	// Assert
	if !poolFinalized.Load() {
		t.Error("Pool GC'd: got = false, want = true")
	}
	if !taskFinalized.Load() {
		t.Error("Task GC'd: got = false, want = true")
	}
}
