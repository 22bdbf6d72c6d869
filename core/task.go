package core

import (
	"context"
	"runtime/debug"
	"sync/atomic"
)

// TaskFunc is the body of a task. The context carries the executing worker,
// so Fork and Join called with it reach that worker's local queue.
type TaskFunc func(ctx context.Context) (any, error)

// Status is the lifecycle state of a Task.
type Status int32

const (
	StatusInitial Status = iota
	StatusForked
	StatusCompletedNormally
	StatusCompletedExceptionally
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusForked:
		return "forked"
	case StatusCompletedNormally:
		return "completed"
	case StatusCompletedExceptionally:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Done reports whether s is a terminal state.
func (s Status) Done() bool {
	return s >= StatusCompletedNormally
}

// Task is a unit of work that can be forked into a pool and joined.
//
// A task body runs at most once. The first of completion, failure or
// cancellation wins; later attempts are ignored.
type Task struct {
	status     atomic.Int32
	claimed    atomic.Bool
	completing atomic.Bool

	fn   TaskFunc
	name string

	result any
	err    error
	done   chan struct{}
}

// NewTask creates a task returning a value.
func NewTask(fn TaskFunc) *Task {
	return &Task{fn: fn, done: make(chan struct{})}
}

// NewNamedTask creates a task with a name used in errors and logs.
func NewNamedTask(name string, fn TaskFunc) *Task {
	t := NewTask(fn)
	t.name = name
	return t
}

// NewAction creates a task with no result value.
func NewAction(fn func(ctx context.Context) error) *Task {
	if fn == nil {
		return NewTask(nil)
	}
	return NewTask(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
}

// NewRunnable creates a task that cannot fail other than by panicking.
func NewRunnable(fn func(ctx context.Context)) *Task {
	if fn == nil {
		return NewTask(nil)
	}
	return NewTask(func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	})
}

// emptyTask fills a slot vacated by an out-of-order removal. It is already
// complete, so executing it is a no-op.
var emptyTask = func() *Task {
	t := NewTask(nil)
	t.claimed.Store(true)
	t.completing.Store(true)
	t.status.Store(int32(StatusCompletedNormally))
	close(t.done)
	return t
}()

func (t *Task) Name() string { return t.name }

func (t *Task) Status() Status { return Status(t.status.Load()) }

func (t *Task) IsDone() bool { return t.Status().Done() }

func (t *Task) IsCancelled() bool { return t.Status() == StatusCancelled }

func (t *Task) IsCompletedNormally() bool { return t.Status() == StatusCompletedNormally }

// IsCompletedAbnormally reports whether the task failed or was cancelled.
func (t *Task) IsCompletedAbnormally() bool {
	s := t.Status()
	return s == StatusCompletedExceptionally || s == StatusCancelled
}

// Done returns a channel closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the value of a normally completed task, or nil.
func (t *Task) Result() any {
	if t.Status() == StatusCompletedNormally {
		return t.result
	}
	return nil
}

// Err returns the failure cause, ErrCancelled for a cancelled task, or nil.
func (t *Task) Err() error {
	switch t.Status() {
	case StatusCompletedExceptionally:
		return t.err
	case StatusCancelled:
		return ErrCancelled
	}
	return nil
}

// Cancel moves a task that has not completed to StatusCancelled. A body that
// is already running is not interrupted; its outcome is discarded.
func (t *Task) Cancel() bool {
	return t.finish(StatusCancelled, nil, nil)
}

// Complete completes the task with v unless it is already done.
func (t *Task) Complete(v any) bool {
	return t.finish(StatusCompletedNormally, v, nil)
}

// CompleteExceptionally fails the task with err unless it is already done.
func (t *Task) CompleteExceptionally(err error) bool {
	if err == nil {
		err = ErrCancelled
	}
	return t.finish(StatusCompletedExceptionally, nil, err)
}

func (t *Task) finish(s Status, v any, err error) bool {
	if !t.completing.CompareAndSwap(false, true) {
		return false
	}
	t.result, t.err = v, err
	t.status.Store(int32(s))
	close(t.done)
	return true
}

// markForked claims the task for a single queue insertion.
func (t *Task) markForked() bool {
	return t.status.CompareAndSwap(int32(StatusInitial), int32(StatusForked))
}

func (t *Task) unmarkForked() {
	t.status.CompareAndSwap(int32(StatusForked), int32(StatusInitial))
}

// exec runs the body if no one else has, and records its outcome.
func (t *Task) exec(ctx context.Context) {
	if t.IsDone() || !t.claimed.CompareAndSwap(false, true) {
		return
	}
	v, err := t.run(ctx)
	if err != nil {
		t.finish(StatusCompletedExceptionally, nil, err)
	} else {
		t.finish(StatusCompletedNormally, v, nil)
	}
}

func (t *Task) run(ctx context.Context) (v any, err error) {
	if t.fn == nil {
		return nil, ErrNilTask
	}
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			if w := workerFromContext(ctx); w != nil {
				w.pool.reportPanic(ctx, w, pe)
			}
			v, err = nil, pe
		}
	}()
	return t.fn(ctx)
}

// outcome converts a terminal state into Join's return values.
func (t *Task) outcome() (any, error) {
	switch t.Status() {
	case StatusCompletedNormally:
		return t.result, nil
	case StatusCompletedExceptionally:
		return nil, &ExecutionError{Task: t, Err: t.err}
	default:
		return nil, ErrCancelled
	}
}

// Fork arranges asynchronous execution of the task. Inside a task body the
// task goes to the current worker's queue; elsewhere it is submitted to the
// common pool.
func (t *Task) Fork(ctx context.Context) error {
	if t == nil {
		return ErrNilTask
	}
	if !t.markForked() {
		return ErrAlreadyForked
	}
	var err error
	if w := workerFromContext(ctx); w != nil {
		err = w.pool.pushLocal(w, t)
	} else {
		err = CommonPool().externalPush(t)
	}
	if err != nil {
		t.unmarkForked()
	}
	return err
}

// Join waits for the task and returns its result. Called from a worker, the
// wait helps run other tasks and may activate a spare worker; otherwise it
// blocks until the task completes or ctx is done.
func (t *Task) Join(ctx context.Context) (any, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	if !t.IsDone() {
		if err := awaitDone(ctx, t); err != nil {
			return nil, err
		}
	}
	return t.outcome()
}

// Invoke runs the task in the caller, or joins it if it is already running
// elsewhere.
func (t *Task) Invoke(ctx context.Context) (any, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	t.exec(ctx)
	return t.Join(ctx)
}

// QuietlyJoin waits for the task like Join but leaves its outcome to
// Status, Result and Err. It returns an error only when the wait ends first.
func (t *Task) QuietlyJoin(ctx context.Context) error {
	if t == nil {
		return ErrNilTask
	}
	if t.IsDone() {
		return nil
	}
	return awaitDone(ctx, t)
}

// QuietlyInvoke runs the task like Invoke and waits for it like QuietlyJoin.
func (t *Task) QuietlyInvoke(ctx context.Context) error {
	if t == nil {
		return ErrNilTask
	}
	t.exec(ctx)
	return t.QuietlyJoin(ctx)
}

// TryUnfork takes the task back if it is still the most recently forked
// task in the calling worker's queue, or at the top of a common pool
// submission queue when called outside a worker. An unforked task can be
// run directly or forked again.
func (t *Task) TryUnfork(ctx context.Context) bool {
	if t == nil {
		return false
	}
	var ok bool
	if w := workerFromContext(ctx); w != nil {
		ok = w.queue.tryUnpush(t)
	} else if common := commonPoolIfStarted(); common != nil {
		ok = common.tryExternalUnpush(t)
	}
	if ok {
		t.unmarkForked()
	}
	return ok
}

func awaitDone(ctx context.Context, t *Task) error {
	if w := workerFromContext(ctx); w != nil {
		return w.pool.awaitJoin(ctx, w, t)
	}
	if t.Status() == StatusForked {
		common := commonPoolIfStarted()
		if common != nil && common.tryExternalUnpush(t) {
			t.exec(ctx)
		}
	}
	return blockUntilDone(ctx, t)
}

func blockUntilDone(ctx context.Context, t *Task) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		if t.IsDone() {
			return nil
		}
		return WaitError(ctx)
	}
}

// InvokeAll forks all but the first task, runs the first in the caller, then
// joins the rest. On the first failure the remaining tasks are cancelled and
// the error is returned.
func InvokeAll(ctx context.Context, tasks ...*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	for _, t := range tasks {
		if t == nil {
			return ErrNilTask
		}
	}
	for i := len(tasks) - 1; i > 0; i-- {
		if err := tasks[i].Fork(ctx); err != nil {
			cancelAll(tasks[i+1:])
			return err
		}
	}
	if _, err := tasks[0].Invoke(ctx); err != nil {
		cancelAll(tasks[1:])
		return err
	}
	for i := 1; i < len(tasks); i++ {
		if _, err := tasks[i].Join(ctx); err != nil {
			cancelAll(tasks[i+1:])
			return err
		}
	}
	return nil
}

func cancelAll(tasks []*Task) {
	for _, t := range tasks {
		t.Cancel()
	}
}

// =============================================================================
// Context Helper
// =============================================================================

type workerKeyType struct{}

var workerKey workerKeyType

func workerFromContext(ctx context.Context) *worker {
	if ctx == nil {
		return nil
	}
	if w, ok := ctx.Value(workerKey).(*worker); ok {
		return w
	}
	return nil
}

// CurrentPool returns the pool whose worker is running the calling task, or nil.
func CurrentPool(ctx context.Context) *Pool {
	if w := workerFromContext(ctx); w != nil {
		return w.pool
	}
	return nil
}

// PollNextLocalTask removes and returns the next task the calling worker
// would run from its own queue, or nil outside a worker.
func PollNextLocalTask(ctx context.Context) *Task {
	w := workerFromContext(ctx)
	if w == nil {
		return nil
	}
	fifo := w.queue.fifo()
	t := w.queue.nextLocalTask(fifo)
	for t == emptyTask {
		t = w.queue.nextLocalTask(fifo)
	}
	return t
}

// PeekNextLocalTask returns, without removing it, the task PollNextLocalTask
// would return. The answer may be stale once another worker steals it.
func PeekNextLocalTask(ctx context.Context) *Task {
	w := workerFromContext(ctx)
	if w == nil {
		return nil
	}
	return w.queue.peek()
}

// InWorker reports whether ctx belongs to a task running on a pool worker.
func InWorker(ctx context.Context) bool {
	return workerFromContext(ctx) != nil
}

// SurplusQueuedTaskCount estimates how many more tasks the current worker
// holds than other workers are likely to steal. Recursive tasks can use it to
// decide whether to split further. It returns 0 outside a worker.
func SurplusQueuedTaskCount(ctx context.Context) int {
	w := workerFromContext(ctx)
	if w == nil {
		return 0
	}
	p := w.pool.parallelism()
	a := p + int(ctlWord(w.pool.ctl.Load()).rc())
	n := w.queue.queueSize()
	half := p >> 1
	switch {
	case a > half:
		return n
	case a > half>>1:
		return n - 1
	case a > half>>2:
		return n - 2
	case a > half>>3:
		return n - 4
	default:
		return n - 8
	}
}
