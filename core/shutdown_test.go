package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestPool_ShutdownNowCancelsQueued verifies immediate shutdown
// Given: A single worker blocked in a task and 50 queued submissions
// When: ShutdownNow is called
// Then: It reports 50 cancellations, the running task sees its context end,
// and the pool terminates
func TestPool_ShutdownNowCancelsQueued(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(1))
	g := newGate()
	running := g.task()
	if _, err := pool.Submit(running); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	g.waitStarted(t)

	var ran atomic.Int32
	queued := make([]*Task, 50)
	for i := range queued {
		queued[i] = NewRunnable(func(ctx context.Context) { ran.Add(1) })
		if _, err := pool.Submit(queued[i]); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// Act
	cancelled := pool.ShutdownNow()

	// Assert
	if cancelled != 50 {
		t.Errorf("ShutdownNow() = %d, want 50", cancelled)
	}
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatalf("pool did not terminate: %s", pool)
	}
	for i, task := range queued {
		if !task.IsCancelled() {
			t.Fatalf("queued task %d status = %v, want cancelled", i, task.Status())
		}
	}
	if ran.Load() != 0 {
		t.Errorf("%d queued tasks ran after ShutdownNow", ran.Load())
	}
	if _, err := running.Join(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("running task error = %v, want context.Canceled", err)
	}
	if pool.PoolSize() != 0 {
		t.Errorf("PoolSize() after termination = %d, want 0", pool.PoolSize())
	}
}

// TestPool_ShutdownRunsQueued verifies graceful shutdown
// Given: A pool with queued slow tasks
// When: Shutdown is called
// Then: New submissions are rejected, queued tasks still complete, and the
// pool terminates
func TestPool_ShutdownRunsQueued(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(2))
	tasks := make([]*Task, 20)
	for i := range tasks {
		tasks[i] = NewTask(func(ctx context.Context) (any, error) {
			time.Sleep(time.Millisecond)
			return i, nil
		})
		if _, err := pool.Submit(tasks[i]); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// Act
	pool.Shutdown()
	_, err := pool.SubmitFunc(func(ctx context.Context) (any, error) { return nil, nil })

	// Assert
	if !errors.Is(err, ErrPoolShutdown) || !errors.Is(err, ErrRejected) {
		t.Errorf("SubmitFunc() after Shutdown error = %v, want ErrPoolShutdown", err)
	}
	if !pool.IsShutdown() {
		t.Error("IsShutdown() = false after Shutdown()")
	}
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatalf("pool did not terminate: %s", pool)
	}
	for i, task := range tasks {
		if v, err := task.Join(context.Background()); err != nil || v != i {
			t.Errorf("task %d = (%v, %v), want (%d, nil)", i, v, err, i)
		}
	}
}

func TestPool_ShutdownIdleTerminatesImmediately(t *testing.T) {
	pool := newTestPool(t, WithParallelism(4))

	pool.Shutdown()

	if !pool.IsTerminated() {
		t.Fatal("IsTerminated() = false for a pool that never started a worker")
	}
	select {
	case <-pool.Terminated():
	default:
		t.Error("Terminated() channel not closed")
	}
	if !pool.AwaitTermination(context.Background()) {
		t.Error("AwaitTermination() = false")
	}
}

// TestPool_LifecycleIsMonotonic verifies state never moves backwards
func TestPool_LifecycleIsMonotonic(t *testing.T) {
	pool := newTestPool(t, WithParallelism(2))
	if _, err := pool.Invoke(context.Background(), fibTask(10)); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	pool.Shutdown()
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	pool.Shutdown()
	if n := pool.ShutdownNow(); n != 0 {
		t.Errorf("ShutdownNow() on terminated pool = %d, want 0", n)
	}

	if !pool.IsShutdown() || !pool.IsTerminated() || pool.IsTerminating() {
		t.Errorf("shutdown=%v terminated=%v terminating=%v", pool.IsShutdown(), pool.IsTerminated(), pool.IsTerminating())
	}
	if err := pool.Execute(func(ctx context.Context) {}); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Execute() on terminated pool error = %v, want ErrPoolShutdown", err)
	}
	if s := pool.Stats(); !s.Shutdown || !s.Terminated {
		t.Errorf("Stats() = %+v, want shutdown and terminated", s)
	}
}

func TestPool_AwaitTerminationTimesOut(t *testing.T) {
	pool := newTestPool(t, WithParallelism(1))
	g := newGate()
	if _, err := pool.Submit(g.task()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	g.waitStarted(t)
	defer close(g.release)

	pool.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if pool.AwaitTermination(ctx) {
		t.Error("AwaitTermination() = true while a task is still running")
	}
	if pool.IsTerminated() {
		t.Error("IsTerminated() = true while a task is still running")
	}
}

// TestPool_StopCancelsPendingJoin verifies joiners are released by a stop
// Given: A worker that forked a child and is about to join it
// When: ShutdownNow cancels the queued child
// Then: The join returns ErrCancelled instead of hanging
func TestPool_StopCancelsPendingJoin(t *testing.T) {
	pool := newTestPool(t, WithParallelism(1))
	g := newGate()
	var child *Task
	parent, err := pool.SubmitFunc(func(ctx context.Context) (any, error) {
		child = NewRunnable(func(ctx context.Context) {})
		if err := child.Fork(ctx); err != nil {
			return nil, err
		}
		// Hold the worker until the pool is stopping.
		g.once.Do(func() { close(g.started) })
		<-ctx.Done()
		return child.Join(ctx)
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}
	g.waitStarted(t)

	pool.ShutdownNow()

	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Fatalf("pool did not terminate: %s", pool)
	}
	if !child.IsCancelled() {
		t.Errorf("child status = %v, want cancelled", child.Status())
	}
	if _, err := parent.Join(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("parent error = %v, want ErrCancelled", err)
	}
}

// firstSharedQueue returns a registered submission queue, or nil.
func firstSharedQueue(p *Pool) *workQueue {
	qs := p.loadQueues()
	for i := 0; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil {
			return q
		}
	}
	return nil
}

// TestPool_ShutdownNowWaitsForLockedSubmissionQueue verifies a push racing
// with ShutdownNow is not lost
// Given: An idle pool with no workers and a submission queue locked by a
// submitter that already passed its shutdown check
// When: ShutdownNow runs, and the submitter then pushes and unlocks
// Then: ShutdownNow waits for the lock, cancels the late task and the pool
// terminates
func TestPool_ShutdownNowWaitsForLockedSubmissionQueue(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(1), WithKeepAlive(30*time.Millisecond))
	if _, err := pool.Invoke(context.Background(), NewTask(func(ctx context.Context) (any, error) { return 1, nil })); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	waitForCondition(t, 5*time.Second, func() bool { return pool.PoolSize() == 0 })
	q := firstSharedQueue(pool)
	if q == nil {
		t.Fatal("no submission queue registered")
	}
	if !q.tryLock() {
		t.Fatal("tryLock() = false on an idle submission queue")
	}

	// Act
	result := make(chan int, 1)
	go func() { result <- pool.ShutdownNow() }()
	waitForCondition(t, 5*time.Second, func() bool { return pool.mode.Load()&modeStop != 0 })
	select {
	case n := <-result:
		q.unlock()
		t.Fatalf("ShutdownNow() = %d returned while a submission queue was locked", n)
	case <-time.After(20 * time.Millisecond):
	}
	late := NewTask(func(ctx context.Context) (any, error) { return "late", nil })
	late.markForked()
	if _, err := q.push(late); err != nil {
		t.Fatalf("push() error = %v", err)
	}
	q.unlock()

	// Assert
	select {
	case n := <-result:
		if n != 1 {
			t.Errorf("ShutdownNow() = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ShutdownNow() did not return after the queue was unlocked")
	}
	if !late.IsCancelled() {
		t.Errorf("late task status = %v, want cancelled", late.Status())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := late.Join(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Join() error = %v, want ErrCancelled", err)
	}
	if !pool.AwaitTerminationTimeout(5 * time.Second) {
		t.Errorf("pool did not terminate: %s", pool)
	}
}

// TestPool_PushAfterStopIsTakenBack verifies the submitter side of the same race
// Given: A submission queue locked after the shutdown check passed
// When: The pool stops before the push completes
// Then: The push is undone and rejected, and the queue is left empty
func TestPool_PushAfterStopIsTakenBack(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	pool := newTestPool(t, WithParallelism(1), WithMetrics(metrics))
	q := newWorkQueue(nil, 0)
	if !q.tryLock() {
		t.Fatal("tryLock() = false on a new queue")
	}
	pool.mode.Or(modeShutdown | modeStop)
	task := NewTask(func(ctx context.Context) (any, error) { return 1, nil })

	// Act
	err := pool.pushLocked(q, task)

	// Assert
	if !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("pushLocked() error = %v, want ErrPoolShutdown", err)
	}
	if !q.isEmpty() {
		t.Errorf("queue size = %d, want 0", q.queueSize())
	}
	if q.isLocked() {
		t.Error("queue still locked after pushLocked()")
	}
	if got := metrics.Rejections(); len(got) != 1 || got[0] != "stopping" {
		t.Errorf("Rejections() = %v, want [stopping]", got)
	}
}

// TestPool_AwaitQuiescenceFromWorker verifies a task can wait for its own pool
// Given: A pool with parallelism 2 and a task that forks 10 children
// When: The task awaits quiescence with its own context
// Then: The wait helps run the children and reports true
func TestPool_AwaitQuiescenceFromWorker(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(2))
	var ran atomic.Int32
	root := NewTask(func(ctx context.Context) (any, error) {
		for i := 0; i < 10; i++ {
			child := NewRunnable(func(ctx context.Context) { ran.Add(1) })
			if err := child.Fork(ctx); err != nil {
				return nil, err
			}
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.AwaitQuiescenceContext(wctx), nil
	})

	// Act
	v, err := pool.Invoke(context.Background(), root)

	// Assert
	if err != nil || v != true {
		t.Fatalf("AwaitQuiescenceContext() in task = (%v, %v), want (true, nil)", v, err)
	}
	if ran.Load() != 10 {
		t.Errorf("children ran = %d, want 10", ran.Load())
	}
	if !pool.AwaitQuiescence(5 * time.Second) {
		t.Errorf("pool not quiescent after the task returned: %s", pool)
	}
}

// TestHelpQuiesce_RestoresActiveCount verifies helping leaves the pool usable
// Given: A single-worker pool whose task forks children and calls HelpQuiesce
// When: The task finishes and a second task is invoked
// Then: Both tasks complete and the pool becomes quiescent again
func TestHelpQuiesce_RestoresActiveCount(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(1))
	var ran atomic.Int32
	root := NewTask(func(ctx context.Context) (any, error) {
		for i := 0; i < 5; i++ {
			if err := NewRunnable(func(ctx context.Context) { ran.Add(1) }).Fork(ctx); err != nil {
				return nil, err
			}
		}
		return HelpQuiesce(ctx), nil
	})

	// Act
	v, err := pool.Invoke(context.Background(), root)
	again, againErr := pool.Invoke(context.Background(), NewTask(func(ctx context.Context) (any, error) { return "again", nil }))

	// Assert
	if err != nil || v != true {
		t.Fatalf("HelpQuiesce() = (%v, %v), want (true, nil)", v, err)
	}
	if ran.Load() != 5 {
		t.Errorf("children ran = %d, want 5", ran.Load())
	}
	if againErr != nil || again != "again" {
		t.Errorf("Invoke() after HelpQuiesce = (%v, %v), want (again, nil)", again, againErr)
	}
	if !pool.AwaitQuiescence(5 * time.Second) {
		t.Errorf("pool not quiescent: %s", pool)
	}
}
