package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestTask_InvokeOutsidePool verifies direct execution in the caller
// Given: A task that returns a value
// When: Invoke is called outside any pool
// Then: The body runs in the caller and the task completes normally
func TestTask_InvokeOutsidePool(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	task := NewTask(func(ctx context.Context) (any, error) {
		calls.Add(1)
		if InWorker(ctx) {
			t.Error("InWorker() = true, want false")
		}
		return 42, nil
	})

	// Act
	v, err := task.Invoke(context.Background())

	// Assert
	if err != nil {
		t.Fatalf("Invoke() error = %v, want nil", err)
	}
	if v != 42 {
		t.Errorf("Invoke() = %v, want 42", v)
	}
	if task.Status() != StatusCompletedNormally {
		t.Errorf("Status() = %v, want %v", task.Status(), StatusCompletedNormally)
	}

	// A second invoke does not run the body again.
	if v, _ := task.Invoke(context.Background()); v != 42 {
		t.Errorf("second Invoke() = %v, want 42", v)
	}
	if calls.Load() != 1 {
		t.Errorf("body ran %d times, want 1", calls.Load())
	}
}

// TestTask_FailureIsExecutionError verifies exceptional completion
// Given: A task whose body returns an error
// When: The task is invoked
// Then: Join returns an ExecutionError wrapping the cause
func TestTask_FailureIsExecutionError(t *testing.T) {
	// Arrange
	cause := errors.New("boom")
	task := NewNamedTask("failing", func(ctx context.Context) (any, error) {
		return nil, cause
	})

	// Act
	_, err := task.Invoke(context.Background())

	// Assert
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T, want *ExecutionError", err)
	}
	if execErr.Task != task {
		t.Error("ExecutionError.Task does not point at the failed task")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if task.Err() != cause {
		t.Errorf("Err() = %v, want %v", task.Err(), cause)
	}
	if !task.IsCompletedAbnormally() {
		t.Error("IsCompletedAbnormally() = false, want true")
	}
}

// TestTask_PanicBecomesPanicError verifies panic recovery
// Given: A task whose body panics
// When: The task is invoked
// Then: The panic is captured as a PanicError with a stack trace
func TestTask_PanicBecomesPanicError(t *testing.T) {
	// Arrange
	task := NewRunnable(func(ctx context.Context) {
		panic("kaboom")
	})

	// Act
	_, err := task.Invoke(context.Background())

	// Assert
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PanicError", err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("PanicError.Value = %v, want kaboom", pe.Value)
	}
	if len(pe.Stack) == 0 {
		t.Error("PanicError.Stack is empty")
	}
	if task.Status() != StatusCompletedExceptionally {
		t.Errorf("Status() = %v, want %v", task.Status(), StatusCompletedExceptionally)
	}
}

// TestTask_CancelBeforeRun verifies cancellation of a task that has not started
// Given: A new task
// When: It is cancelled and then invoked
// Then: The body never runs and Join reports ErrCancelled
func TestTask_CancelBeforeRun(t *testing.T) {
	// Arrange
	ran := false
	task := NewRunnable(func(ctx context.Context) { ran = true })

	// Act
	cancelled := task.Cancel()
	_, err := task.Invoke(context.Background())

	// Assert
	if !cancelled {
		t.Error("Cancel() = false, want true")
	}
	if ran {
		t.Error("body ran after Cancel()")
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", err)
	}
	if task.Cancel() {
		t.Error("second Cancel() = true, want false")
	}
}

// TestTask_FirstCompletionWins verifies a single terminal transition
// Given: A task completed externally
// When: Cancel and CompleteExceptionally are attempted afterwards
// Then: Both are ignored and the original result stands
func TestTask_FirstCompletionWins(t *testing.T) {
	task := NewTask(func(ctx context.Context) (any, error) { return "body", nil })

	if !task.Complete("external") {
		t.Fatal("Complete() = false, want true")
	}
	if task.Cancel() {
		t.Error("Cancel() after Complete() = true, want false")
	}
	if task.CompleteExceptionally(errors.New("late")) {
		t.Error("CompleteExceptionally() after Complete() = true, want false")
	}

	v, err := task.Invoke(context.Background())
	if err != nil || v != "external" {
		t.Errorf("Invoke() = (%v, %v), want (external, nil)", v, err)
	}
	select {
	case <-task.Done():
	default:
		t.Error("Done() channel not closed")
	}
}

// TestTask_JoinTimeout verifies a bounded external join
// Given: A task that never completes
// When: Join is called with a short deadline
// Then: Join returns ErrTimeout
func TestTask_JoinTimeout(t *testing.T) {
	task := NewTask(func(ctx context.Context) (any, error) { return nil, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := task.Join(ctx)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Join() error = %v, want ErrTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Join() error = %v, want to wrap context.DeadlineExceeded", err)
	}
}

// TestTask_ForkTwice verifies a task enters a queue at most once
func TestTask_ForkTwice(t *testing.T) {
	pool := newTestPool(t, WithParallelism(1))
	release := make(chan struct{})
	task := NewTask(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	if _, err := pool.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := task.Fork(context.Background()); !errors.Is(err, ErrAlreadyForked) {
		t.Errorf("Fork() error = %v, want ErrAlreadyForked", err)
	}
	if _, err := pool.Submit(task); !errors.Is(err, ErrAlreadyForked) {
		t.Errorf("second Submit() error = %v, want ErrAlreadyForked", err)
	}
	close(release)
	if _, err := task.Join(context.Background()); err != nil {
		t.Errorf("Join() error = %v", err)
	}
}

func TestTask_NilHandling(t *testing.T) {
	var task *Task
	if err := task.Fork(context.Background()); !errors.Is(err, ErrNilTask) {
		t.Errorf("nil Fork() error = %v, want ErrNilTask", err)
	}
	if _, err := task.Join(context.Background()); !errors.Is(err, ErrNilTask) {
		t.Errorf("nil Join() error = %v, want ErrNilTask", err)
	}

	_, err := NewAction(nil).Invoke(context.Background())
	if !errors.Is(err, ErrNilTask) {
		t.Errorf("Invoke() of task without body error = %v, want ErrNilTask", err)
	}
}

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusInitial:                "initial",
		StatusForked:                 "forked",
		StatusCompletedNormally:      "completed",
		StatusCompletedExceptionally: "failed",
		StatusCancelled:              "cancelled",
		Status(99):                   "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}

// TestTask_QuietlyJoinLeavesOutcomeOnTask verifies quiet waits
// Given: A failing task and a task that never runs
// When: They are waited for with QuietlyInvoke and QuietlyJoin
// Then: Task failures stay on the task and only wait failures are returned
func TestTask_QuietlyJoinLeavesOutcomeOnTask(t *testing.T) {
	// Arrange
	cause := errors.New("boom")
	failing := NewTask(func(ctx context.Context) (any, error) { return nil, cause })
	never := NewTask(func(ctx context.Context) (any, error) { return 1, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Act
	invokeErr := failing.QuietlyInvoke(context.Background())
	joinErr := never.QuietlyJoin(ctx)

	// Assert
	if invokeErr != nil {
		t.Errorf("QuietlyInvoke() error = %v, want nil", invokeErr)
	}
	if !errors.Is(failing.Err(), cause) {
		t.Errorf("Err() = %v, want boom", failing.Err())
	}
	if !errors.Is(joinErr, ErrTimeout) {
		t.Errorf("QuietlyJoin() error = %v, want ErrTimeout", joinErr)
	}
	if err := failing.QuietlyJoin(context.Background()); err != nil {
		t.Errorf("QuietlyJoin() of a failed task error = %v, want nil", err)
	}
}

// TestTask_TryUnforkAndLocalQueue verifies access to the worker's own queue
// Given: A single worker that forks two tasks
// When: It peeks, unforks and polls its local queue
// Then: Only the most recent fork can be unforked, and polling returns the next one
func TestTask_TryUnforkAndLocalQueue(t *testing.T) {
	// Arrange
	pool := newTestPool(t, WithParallelism(1))
	first := NewTask(func(ctx context.Context) (any, error) { return "first", nil })
	second := NewTask(func(ctx context.Context) (any, error) { return "second", nil })

	// Act
	v, err := pool.Invoke(context.Background(), NewTask(func(ctx context.Context) (any, error) {
		if err := first.Fork(ctx); err != nil {
			return nil, err
		}
		if err := second.Fork(ctx); err != nil {
			return nil, err
		}
		if PeekNextLocalTask(ctx) != second {
			return nil, errors.New("peek did not return the newest fork")
		}
		if first.TryUnfork(ctx) {
			return nil, errors.New("unforked a task below the top")
		}
		if !second.TryUnfork(ctx) || second.Status() != StatusInitial {
			return nil, errors.New("could not unfork the newest fork")
		}
		if PollNextLocalTask(ctx) != first {
			return nil, errors.New("poll did not return the remaining fork")
		}
		if PollNextLocalTask(ctx) != nil {
			return nil, errors.New("local queue not empty")
		}
		if _, err := first.Invoke(ctx); err != nil {
			return nil, err
		}
		return second.Invoke(ctx)
	}))

	// Assert
	if err != nil || v != "second" {
		t.Fatalf("Invoke() = (%v, %v), want (second, nil)", v, err)
	}
	if first.Result() != "first" {
		t.Errorf("first.Result() = %v, want first", first.Result())
	}
	if PollNextLocalTask(context.Background()) != nil || PeekNextLocalTask(context.Background()) != nil {
		t.Error("local queue helpers returned a task outside a worker")
	}
}
