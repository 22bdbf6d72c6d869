package core

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/cpu"
)

type queueTable []atomic.Pointer[workQueue]

// Pool is a work-stealing pool of worker goroutines. Each worker owns a
// deque of tasks; idle workers steal from the others. Tasks submitted from
// outside the pool land in shared submission queues.
type Pool struct {
	ctl atomic.Uint64
	_   cpu.CacheLinePad

	mode       atomic.Uint32
	bounds     boundsWord
	stealCount atomic.Int64

	queues           atomic.Pointer[queueTable]
	registrationLock sync.Mutex
	indexSeed        uint32

	id           string
	name         string
	keepAlive    time.Duration
	minThreads   int
	helpDepth    int
	saturate     func(*Pool) bool
	factory      WorkerFactory
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	rejected     RejectedTaskHandler
	timed        bool
	common       bool

	// ctx is the parent of every worker context; it is cancelled on stop.
	ctx    context.Context
	cancel context.CancelFunc

	terminated chan struct{}
}

// worker is a goroutine bound to one queue.
type worker struct {
	pool    *Pool
	queue   *workQueue
	ctx     context.Context
	parker  chan struct{}
	timer   *time.Timer
	blocked atomic.Bool
}

func (w *worker) unpark() {
	select {
	case w.parker <- struct{}{}:
	default:
	}
}

// park blocks until unparked or, when deadline is non-zero, until it passes.
// An unpark delivered before park is not lost.
func (w *worker) park(deadline time.Time) {
	if deadline.IsZero() {
		<-w.parker
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	if w.timer == nil {
		w.timer = time.NewTimer(d)
	} else {
		w.timer.Reset(d)
	}
	select {
	case <-w.parker:
		w.timer.Stop()
	case <-w.timer.C:
	}
}

// NewPool creates a pool configured by opts applied over DefaultConfig.
func NewPool(opts ...Option) (*Pool, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewPoolWithConfig(cfg)
}

// NewPoolWithConfig creates a pool from cfg. Workers start lazily as tasks arrive.
func NewPoolWithConfig(cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	pa := c.Parallelism
	p := &Pool{
		id:           uuid.New().String(),
		name:         c.Name,
		keepAlive:    c.KeepAlive,
		minThreads:   c.MinThreads,
		helpDepth:    c.HelpDepth,
		saturate:     c.Saturate,
		factory:      c.WorkerFactory,
		logger:       c.Logger,
		metrics:      c.Metrics,
		panicHandler: c.PanicHandler,
		rejected:     c.RejectedTaskHandler,
		bounds:       packBounds(min(c.MinRunnable, pa), c.maxThreads(), pa),
		indexSeed:    uint32(time.Now().UnixNano()) | 1,
		terminated:   make(chan struct{}),
	}
	if _, ok := c.Metrics.(*NilMetrics); !ok {
		p.timed = true
	}
	if p.name == "" {
		p.name = "forkjoin-" + p.id[:8]
	}
	mode := uint32(pa)
	if c.AsyncMode {
		mode |= modeFIFO
	}
	p.mode.Store(mode)
	p.ctl.Store(uint64(initialCtl(pa)))

	size := nextPowerOfTwo(pa) << 1
	table := make(queueTable, size)
	p.queues.Store(&table)

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("pool created",
		F("pool", p.name),
		F("parallelism", pa),
		F("max_threads", c.maxThreads()),
		F("async", c.AsyncMode))
	return p, nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (p *Pool) loadQueues() queueTable {
	if t := p.queues.Load(); t != nil {
		return *t
	}
	return nil
}

func (p *Pool) parallelism() int { return int(p.mode.Load() & modeParallelism) }

func (p *Pool) asyncMode() bool { return p.mode.Load()&modeFIFO != 0 }

// ID returns the pool's unique identifier.
func (p *Pool) ID() string { return p.id }

// Name returns the configured or generated pool name.
func (p *Pool) Name() string { return p.name }

// Parallelism returns the target number of active workers.
func (p *Pool) Parallelism() int { return p.parallelism() }

// AsyncMode reports whether workers run local tasks in FIFO order.
func (p *Pool) AsyncMode() bool { return p.asyncMode() }

// =============================================================================
// Submission
// =============================================================================

// Submit arranges for t to run on the pool and returns it.
func (p *Pool) Submit(t *Task) (*Task, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	if !t.markForked() {
		return nil, ErrAlreadyForked
	}
	if err := p.externalPush(t); err != nil {
		t.unmarkForked()
		return nil, err
	}
	return t, nil
}

// SubmitFunc wraps fn in a task and submits it.
func (p *Pool) SubmitFunc(fn TaskFunc) (*Task, error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	return p.Submit(NewTask(fn))
}

// Execute submits fn for execution without a handle to its outcome.
func (p *Pool) Execute(fn func(ctx context.Context)) error {
	if fn == nil {
		return ErrNilTask
	}
	_, err := p.Submit(NewRunnable(fn))
	return err
}

// Invoke runs t on the pool and waits for its result. Called from one of
// this pool's workers, t is forked locally so the join can help run it.
func (p *Pool) Invoke(ctx context.Context, t *Task) (any, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	if w := workerFromContext(ctx); w != nil && w.pool == p {
		if err := t.Fork(ctx); err != nil {
			return nil, err
		}
		return t.Join(ctx)
	}
	if _, err := p.Submit(t); err != nil {
		return nil, err
	}
	return t.Join(ctx)
}

// InvokeAll submits every task and waits until all are done. Task failures
// are reported by the returned tasks; the error is non-nil only when a
// submission is rejected or ctx ends first, in which case unfinished tasks
// are cancelled.
func (p *Pool) InvokeAll(ctx context.Context, tasks []*Task) ([]*Task, error) {
	for _, t := range tasks {
		if t == nil {
			return nil, ErrNilTask
		}
	}
	for i, t := range tasks {
		if _, err := p.Submit(t); err != nil {
			cancelAll(tasks[:i])
			return tasks, err
		}
	}
	for i, t := range tasks {
		if t.IsDone() {
			continue
		}
		if err := awaitDone(ctx, t); err != nil {
			cancelAll(tasks[i:])
			return tasks, err
		}
	}
	return tasks, nil
}

// InvokeAny submits every task and returns the result of the first to
// complete normally, cancelling the rest. If none succeeds, the last
// failure is returned.
func (p *Pool) InvokeAny(ctx context.Context, tasks []*Task) (any, error) {
	if len(tasks) == 0 {
		return nil, ErrNilTask
	}
	finished := make(chan *Task, len(tasks))
	submitted := 0
	var lastErr error
	for _, t := range tasks {
		if t == nil {
			cancelAll(tasks[:submitted])
			return nil, ErrNilTask
		}
		if _, err := p.Submit(t); err != nil {
			lastErr = err
			break
		}
		submitted++
		go func(t *Task) {
			<-t.Done()
			finished <- t
		}(t)
	}
	defer cancelAll(tasks[:submitted])
	for i := 0; i < submitted; i++ {
		select {
		case t := <-finished:
			v, err := t.outcome()
			if err == nil {
				return v, nil
			}
			lastErr = err
		case <-ctx.Done():
			return nil, WaitError(ctx)
		}
	}
	return nil, lastErr
}

// pushLocal pushes t onto w's own queue.
func (p *Pool) pushLocal(w *worker, t *Task) error {
	if p.mode.Load()&modeStop != 0 {
		return p.reject("stopping", ErrPoolShutdown)
	}
	signal, err := w.queue.push(t)
	if err != nil {
		return p.reject("queue capacity", err)
	}
	if signal {
		p.signalWork()
	}
	return nil
}

func (p *Pool) reject(reason string, err error) error {
	p.rejected.HandleRejectedTask(p.name, reason)
	p.metrics.RecordTaskRejected(p.name, reason)
	return err
}

// runTask executes t on w, recording its duration when metrics are enabled.
func (p *Pool) runTask(w *worker, t *Task) {
	if t == emptyTask {
		return
	}
	if !p.timed {
		t.exec(w.ctx)
		return
	}
	start := time.Now()
	t.exec(w.ctx)
	p.metrics.RecordTaskDuration(p.name, time.Since(start))
}

func (p *Pool) reportPanic(ctx context.Context, w *worker, pe *PanicError) {
	p.metrics.RecordTaskPanic(p.name, pe.Value)
	p.panicHandler.HandlePanic(ctx, p.name, w.queue.index(), pe.Value, pe.Stack)
}

func (p *Pool) String() string {
	s := p.Stats()
	state := "Running"
	switch {
	case s.Terminated:
		state = "Terminated"
	case s.Shutdown:
		state = "Shutting down"
	}
	return fmt.Sprintf("Pool[%s, %s, parallelism = %d, size = %d, active = %d, running = %d, steals = %d, tasks = %d, submissions = %d]",
		p.name, state, s.Parallelism, s.Workers, s.Active, s.Running, s.Steals, s.Queued, s.Submissions)
}
