package core

import (
	"context"
	"errors"
	"fmt"
)

// PoolError is the error type returned by pool and task operations.
type PoolError struct {
	msg string
	err error
}

func (e *PoolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("forkjoin: %s: %v", e.msg, e.err)
	}
	return "forkjoin: " + e.msg
}

func (e *PoolError) Unwrap() error {
	return e.err
}

var (
	// ErrRejected is returned when a task cannot be accepted for execution.
	ErrRejected = &PoolError{msg: "task rejected"}

	// ErrPoolShutdown is returned for submissions after Shutdown. It wraps ErrRejected.
	ErrPoolShutdown = &PoolError{msg: "pool is shut down", err: ErrRejected}

	// ErrQueueCapacity is returned when a work queue cannot grow any further.
	// It wraps ErrRejected.
	ErrQueueCapacity = &PoolError{msg: "queue capacity exceeded", err: ErrRejected}

	// ErrResourceExhausted is returned by a blocking join or ManagedBlock when the
	// pool is at MaxThreads and no compensation is possible.
	ErrResourceExhausted = &PoolError{msg: "thread limit exceeded replacing blocked worker"}

	// ErrWorkerCreation wraps errors returned by the WorkerFactory.
	ErrWorkerCreation = &PoolError{msg: "worker creation failed"}

	// ErrCancelled is returned when joining a cancelled task.
	ErrCancelled = &PoolError{msg: "task cancelled"}

	// ErrTimeout is returned when a wait ends before the task completes.
	ErrTimeout = &PoolError{msg: "timed out"}

	// ErrNilTask is returned when a nil task or function is supplied.
	ErrNilTask = &PoolError{msg: "nil task"}

	// ErrAlreadyForked is returned when a task is forked or submitted twice.
	ErrAlreadyForked = &PoolError{msg: "task already forked"}

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = &PoolError{msg: "invalid configuration"}
)

func invalidConfig(format string, args ...any) error {
	return &PoolError{msg: fmt.Sprintf(format, args...), err: ErrInvalidConfig}
}

func workerCreationError(cause error) error {
	return fmt.Errorf("%w: %w", ErrWorkerCreation, cause)
}

// WaitError maps a finished context to ErrTimeout or ErrCancelled, keeping
// the context error in the chain.
func WaitError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// ExecutionError reports that a task completed exceptionally.
type ExecutionError struct {
	Task *Task
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Task != nil && e.Task.name != "" {
		return fmt.Sprintf("forkjoin: task %q failed: %v", e.Task.name, e.Err)
	}
	return fmt.Sprintf("forkjoin: task failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PanicError is the exceptional outcome of a task whose body panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
