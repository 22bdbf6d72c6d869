// Package forkjoin provides a work-stealing fork/join pool for Go.
//
// A Pool runs recursive, divide-and-conquer computations on a bounded set of
// worker goroutines. Each worker owns a double-ended queue of tasks: it pushes
// and pops its own work at one end while idle workers steal from the other.
// Joining a task from inside the pool does not simply block: the joiner first
// runs the task itself if it is still queued locally, then helps run tasks
// stolen from it, and only then blocks, after activating or starting another
// worker so the pool keeps its parallelism.
//
// # Quick Start
//
// Fork subtasks from within a task body and join them:
//
//	func fib(n int) *forkjoin.Task {
//		return forkjoin.NewTask(func(ctx context.Context) (any, error) {
//			if n < 2 {
//				return n, nil
//			}
//			f1 := fib(n - 1)
//			if err := f1.Fork(ctx); err != nil {
//				return nil, err
//			}
//			v2, err := fib(n - 2).Invoke(ctx)
//			if err != nil {
//				return nil, err
//			}
//			v1, err := f1.Join(ctx)
//			if err != nil {
//				return nil, err
//			}
//			return v1.(int) + v2.(int), nil
//		})
//	}
//
//	pool, _ := forkjoin.NewPool(forkjoin.WithParallelism(4))
//	defer pool.Shutdown()
//	v, err := pool.Invoke(context.Background(), fib(30))
//
// The context passed to a task body identifies the worker running it. Pass it
// on to Fork, Join and Invoke so they reach that worker's queue.
//
// # Key Concepts
//
// Task: a unit of work completed exactly once, normally, exceptionally or by
// cancellation. Future[T] is a typed wrapper.
//
// Common pool: a process-wide pool used by Fork outside any pool. It is built
// lazily, sized GOMAXPROCS-1 unless FORKJOIN_COMMON_PARALLELISM is set, and
// ignores Shutdown.
//
// Compensation: when a worker must block in Join or ManagedBlock, the pool
// wakes an idle worker, lets its active count drop to MinRunnable, or starts a
// spare worker up to MaxThreads. Beyond that the join fails with
// ErrResourceExhausted unless a Saturate predicate allows it.
//
// Lifecycle: Shutdown stops new submissions and lets queued work finish;
// ShutdownNow also cancels queued tasks and the context of running ones.
// A pool terminates once all its workers have exited.
//
// For more details, see https://github.com/Swind/go-forkjoin
package forkjoin
