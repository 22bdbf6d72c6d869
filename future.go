package forkjoin

import (
	"context"

	"github.com/Swind/go-forkjoin/core"
)

// Future is a typed handle to a task producing a T.
type Future[T any] struct {
	task *Task
}

// NewFuture wraps fn in a task without scheduling it.
func NewFuture[T any](fn func(ctx context.Context) (T, error)) *Future[T] {
	if fn == nil {
		return &Future[T]{task: core.NewTask(nil)}
	}
	return &Future[T]{task: core.NewTask(func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})}
}

// Go forks fn and returns its future. Inside a task the fork goes to the
// current worker's queue; elsewhere to the common pool. A rejected fork
// completes the future with the rejection error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture(fn)
	if err := f.task.Fork(ctx); err != nil {
		f.task.CompleteExceptionally(err)
	}
	return f
}

// SubmitFuture submits fn to p and returns its future.
func SubmitFuture[T any](p *Pool, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	f := NewFuture(fn)
	if _, err := p.Submit(f.task); err != nil {
		return nil, err
	}
	return f, nil
}

// Task returns the underlying task.
func (f *Future[T]) Task() *Task { return f.task }

// Fork schedules the future asynchronously.
func (f *Future[T]) Fork(ctx context.Context) error { return f.task.Fork(ctx) }

// Join waits for the result, helping the pool when called from a task.
func (f *Future[T]) Join(ctx context.Context) (T, error) {
	return typed[T](f.task.Join(ctx))
}

// Invoke runs the future in the caller and returns its result.
func (f *Future[T]) Invoke(ctx context.Context) (T, error) {
	return typed[T](f.task.Invoke(ctx))
}

// Get waits for the result without running other tasks meanwhile.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.task.Done():
	case <-ctx.Done():
		if !f.task.IsDone() {
			var zero T
			return zero, core.WaitError(ctx)
		}
	}
	return typed[T](f.task.Join(ctx))
}

// Cancel cancels the future unless it already completed.
func (f *Future[T]) Cancel() bool { return f.task.Cancel() }

// Done returns a channel closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.task.Done() }

func (f *Future[T]) IsDone() bool { return f.task.IsDone() }

func typed[T any](v any, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// InvokeAllFuncs runs every fn as a task, forking all but the first, and
// returns their results in order. On the first failure the remaining tasks
// are cancelled and the error is returned.
func InvokeAllFuncs[T any](ctx context.Context, fns ...func(ctx context.Context) (T, error)) ([]T, error) {
	tasks := make([]*Task, len(fns))
	for i, fn := range fns {
		tasks[i] = NewFuture(fn).task
	}
	if err := core.InvokeAll(ctx, tasks...); err != nil {
		return nil, err
	}
	out := make([]T, len(tasks))
	for i, t := range tasks {
		out[i], _ = t.Result().(T)
	}
	return out, nil
}
