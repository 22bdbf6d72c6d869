package core

import (
	"context"
	"runtime"
	"time"
)

// tryTerminate advances the lifecycle: SHUTDOWN (when enable), then STOP
// (immediately when now, otherwise once the pool is quiescent), then
// TERMINATED when no workers remain. It reports whether the pool is
// stopping and how many queued tasks this call cancelled.
func (p *Pool) tryTerminate(now, enable bool) (bool, int) {
	md := p.mode.Load()
	if md&modeShutdown == 0 {
		if !enable {
			return false, 0
		}
		if old := p.mode.Or(modeShutdown); old&modeShutdown == 0 {
			p.logger.Info("pool shutdown", F("pool", p.name))
		}
	}
	if md&modeStop == 0 {
		if !now && !p.canStop() {
			return false, 0
		}
		if old := p.mode.Or(modeStop); old&modeStop == 0 {
			p.logger.Info("pool stopping", F("pool", p.name), F("now", now))
		}
	}
	cancelled := 0
	if p.mode.Load()&modeTerminated == 0 {
		// queued tasks must be cancelled before running bodies see ctx end
		cancelled = p.cancelQueuedTasks()
		p.cancel()
		if p.parallelism()+int(ctlWord(p.ctl.Load()).tc()) <= 0 {
			if old := p.mode.Or(modeTerminated); old&modeTerminated == 0 {
				close(p.terminated)
				p.logger.Info("pool terminated", F("pool", p.name), F("steals", p.StealCount()))
			}
		}
	}
	return true, cancelled
}

// cancelQueuedTasks cancels every queued task and wakes every worker,
// repeating until a pass observes the same state as the one before it. A
// locked submission queue may be receiving a push, so a pass that sees one
// never ends the sweep.
func (p *Pool) cancelQueuedTasks() int {
	cancelled := 0
	var oldSum uint64
	for pass := 0; ; pass++ {
		tp := p.queues.Load()
		qs := *tp
		sum := p.ctl.Load()
		locked := false
		for i := range qs {
			q := qs[i].Load()
			if q == nil {
				continue
			}
			cancelled += q.cancelTasks()
			if q.owner != nil {
				q.owner.unpark()
			} else if q.isLocked() {
				locked = true
			}
			sum += uint64(i)<<32 ^ uint64(q.phase.Load())<<16 ^ uint64(q.base.Load()) ^ uint64(q.top.Load())<<40
		}
		if locked {
			runtime.Gosched()
		} else if pass > 0 && sum == oldSum && p.queues.Load() == tp {
			return cancelled
		}
		oldSum = sum
	}
}

// canStop reports whether the pool is quiescent: no active workers and all
// queues empty, confirmed by two consecutive identical snapshots.
func (p *Pool) canStop() bool {
	var oldSum uint64
	for first := true; ; first = false {
		md := p.mode.Load()
		if md&modeStop != 0 {
			return true
		}
		tp := p.queues.Load()
		qs := *tp
		c := ctlWord(p.ctl.Load())
		if int(md&modeParallelism)+int(c.rc()) > 0 {
			return false
		}
		sum := uint64(c)
		for i := range qs {
			q := qs[i].Load()
			if q == nil {
				continue
			}
			s := q.top.Load()
			if s != q.base.Load() || (q.isShared() && q.isLocked()) {
				return false
			}
			if a := q.loadArray(); len(a) > 0 && a[int(s)&(len(a)-1)].Load() != nil {
				return false
			}
			sum += uint64(i)<<32 ^ uint64(s) ^ uint64(q.phase.Load())<<16
		}
		if !first && sum == oldSum && p.queues.Load() == tp {
			return true
		}
		oldSum = sum
	}
}

// Shutdown stops accepting submissions. Tasks already queued still run;
// the pool terminates once it becomes quiescent. It has no effect on the
// common pool.
func (p *Pool) Shutdown() {
	if p.common {
		return
	}
	p.tryTerminate(false, true)
}

// ShutdownNow stops accepting submissions, cancels queued tasks and returns
// how many it cancelled. Running task bodies see their context cancelled.
// It has no effect on the common pool.
func (p *Pool) ShutdownNow() int {
	if p.common {
		return 0
	}
	_, n := p.tryTerminate(true, true)
	return n
}

// AwaitTermination blocks until the pool terminates or ctx is done,
// reporting whether it terminated. For the common pool it waits for
// quiescence instead.
func (p *Pool) AwaitTermination(ctx context.Context) bool {
	if p.common {
		return p.awaitQuiescence(ctx)
	}
	select {
	case <-p.terminated:
		return true
	case <-ctx.Done():
		return p.IsTerminated()
	}
}

// AwaitTerminationTimeout is AwaitTermination with a timeout.
func (p *Pool) AwaitTerminationTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.AwaitTermination(ctx)
}

// Terminated returns a channel closed when the pool terminates.
func (p *Pool) Terminated() <-chan struct{} { return p.terminated }

func (p *Pool) IsShutdown() bool { return p.mode.Load()&modeShutdown != 0 }

// IsTerminating reports whether the pool is stopping but workers remain.
func (p *Pool) IsTerminating() bool {
	md := p.mode.Load()
	return md&modeStop != 0 && md&modeTerminated == 0
}

func (p *Pool) IsTerminated() bool { return p.mode.Load()&modeTerminated != 0 }

// IsQuiescent reports whether all workers are idle and no tasks are queued.
func (p *Pool) IsQuiescent() bool { return p.canStop() }

// AwaitQuiescence waits until the pool is quiescent or timeout elapses.
// A task body should use AwaitQuiescenceContext with its own context instead,
// since the calling worker otherwise counts as active.
func (p *Pool) AwaitQuiescence(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.awaitQuiescence(ctx)
}

// AwaitQuiescenceContext waits until the pool is quiescent or ctx is done.
// Called from a task running on this pool, the caller runs queued tasks
// while it waits and is not counted as active once it finds none.
func (p *Pool) AwaitQuiescenceContext(ctx context.Context) bool {
	return p.awaitQuiescence(ctx)
}

// HelpQuiesce runs queued tasks until the pool of the calling worker is
// quiescent or ctx is done. Outside a worker it waits for the common pool.
func HelpQuiesce(ctx context.Context) bool {
	if w := workerFromContext(ctx); w != nil {
		return w.pool.helpQuiesce(ctx, w)
	}
	return CommonPool().awaitQuiescence(ctx)
}

func (p *Pool) awaitQuiescence(ctx context.Context) bool {
	if w := workerFromContext(ctx); w != nil && w.pool == p {
		return p.helpQuiesce(ctx, w)
	}
	var b quiesceBackoff
	defer b.stop()
	for {
		if p.canStop() {
			return true
		}
		if !b.wait(ctx) {
			return p.canStop()
		}
	}
}

// helpQuiesce runs w's local tasks and tasks polled from other queues until
// the pool is quiescent. While it finds nothing, w is released from the
// active count; the count is restored before it runs a task or returns.
func (p *Pool) helpQuiesce(ctx context.Context, w *worker) bool {
	q := w.queue
	fifo := q.fifo()
	active := true
	setActive := func(on bool) {
		if on != active {
			active = on
			delta := int16(-1)
			if on {
				delta = 1
			}
			p.updateCtl(func(c ctlWord) ctlWord { return c.addReleased(delta) })
		}
	}
	defer setActive(true)

	var b quiesceBackoff
	defer b.stop()
	r := q.stackPred.Load() | 1
	for {
		t := q.nextLocalTask(fifo)
		if t == nil {
			r ^= r << 13
			r ^= r >> 17
			r ^= r << 5
			t = p.pollAny(q, r, func() { setActive(true) })
		}
		if t != nil {
			setActive(true)
			p.runTask(w, t)
			b.reset()
			continue
		}
		setActive(false)
		if p.canStop() {
			return true
		}
		if !b.wait(ctx) {
			return p.canStop()
		}
	}
}

// pollAny takes the oldest task of the first non-empty queue other than
// self, starting at a position derived from r. claim runs before each
// attempt to take a task.
func (p *Pool) pollAny(self *workQueue, r uint32, claim func()) *Task {
	qs := p.loadQueues()
	n := len(qs)
	for i := 0; i < n; i++ {
		q := qs[(int(r)+i)&(n-1)].Load()
		if q == nil || q == self || q.isEmpty() {
			continue
		}
		claim()
		if t := q.poll(); t != nil {
			return t
		}
	}
	return nil
}

// quiesceBackoff sleeps between quiescence checks, doubling from 50µs to 5ms.
type quiesceBackoff struct {
	d     time.Duration
	timer *time.Timer
}

func (b *quiesceBackoff) reset() { b.d = 0 }

// wait sleeps for the next interval and reports false if ctx ended first.
func (b *quiesceBackoff) wait(ctx context.Context) bool {
	const maxBackoff = 5 * time.Millisecond
	if b.d == 0 {
		b.d = 50 * time.Microsecond
	} else {
		b.d = min(b.d*2, maxBackoff)
	}
	if b.timer == nil {
		b.timer = time.NewTimer(b.d)
	} else {
		b.timer.Reset(b.d)
	}
	select {
	case <-ctx.Done():
		return false
	case <-b.timer.C:
		return true
	}
}

func (b *quiesceBackoff) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
}
