package forkjoin

import (
	"context"

	"github.com/Swind/go-forkjoin/core"
)

// =============================================================================
// Common Pool Helpers
// =============================================================================

// InitCommonPool configures the common pool. It must be called before
// anything uses the common pool; afterwards it returns false and changes
// nothing.
func InitCommonPool(opts ...Option) (bool, error) {
	return core.InitCommonPool(opts...)
}

// CommonPool returns the process-wide pool. Fork called outside any pool
// submits here. The common pool ignores Shutdown and ShutdownNow.
func CommonPool() *Pool {
	return core.CommonPool()
}

// CommonPoolParallelism returns the common pool's target parallelism.
func CommonPoolParallelism() int {
	return core.CommonPool().Parallelism()
}

// Submit submits t to the common pool.
func Submit(t *Task) (*Task, error) {
	return core.CommonPool().Submit(t)
}

// Execute runs fn asynchronously on the common pool.
func Execute(fn func(ctx context.Context)) error {
	return core.CommonPool().Execute(fn)
}

// Invoke runs t and waits for its result. Inside a task it runs on the
// calling worker's pool; elsewhere on the common pool.
func Invoke(ctx context.Context, t *Task) (any, error) {
	if p := core.CurrentPool(ctx); p != nil {
		return p.Invoke(ctx, t)
	}
	return core.CommonPool().Invoke(ctx, t)
}

// InvokeAll forks all but the first task, runs the first in the caller and
// joins the rest. It is meant for use inside task bodies.
func InvokeAll(ctx context.Context, tasks ...*Task) error {
	return core.InvokeAll(ctx, tasks...)
}
