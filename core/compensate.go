package core

import (
	"context"
	"runtime"
)

// compensation is the outcome of tryCompensate.
type compensation int

const (
	compensateRetry   compensation = iota // ctl changed; re-evaluate
	compensateNone                        // block without adjusting counts
	compensateRestore                     // block, then call uncompensate
)

// awaitJoin waits for t on behalf of worker w. It first tries to run t
// itself, then helps run tasks stolen from w, and finally blocks after
// arranging for another worker to take w's place.
func (p *Pool) awaitJoin(ctx context.Context, w *worker, t *Task) error {
	w.queue.tryRemoveAndExec(t, func(x *Task) { p.runTask(w, x) })
	for {
		if t.IsDone() {
			return nil
		}
		if ctx.Err() != nil {
			return WaitError(ctx)
		}
		p.helpJoin(w, t)
		if t.IsDone() {
			return nil
		}
		if p.mode.Load()&modeStop != 0 {
			t.Cancel()
			return nil
		}
		comp, err := p.tryCompensate(ctlWord(p.ctl.Load()))
		if err != nil {
			return err
		}
		if comp == compensateRetry {
			runtime.Gosched()
			continue
		}
		w.blocked.Store(true)
		err = blockUntilDone(ctx, t)
		w.blocked.Store(false)
		if comp == compensateRestore {
			p.uncompensate()
		}
		return err
	}
}

// helpJoin runs tasks from queues whose owners are, directly or through a
// chain of at most helpDepth steals, working on something stolen from w.
// It returns once t is done or two consecutive passes with an unchanged
// ctl find nothing to run.
func (p *Pool) helpJoin(w *worker, t *Task) {
	wq := w.queue
	wsrc := wq.source.Load()
	wid := wq.index()
	r := wid + 2
	var c uint64
	rescan := true
	for !t.IsDone() {
		if !rescan {
			cur := p.ctl.Load()
			if cur == c {
				return
			}
			c = cur
		}
		rescan = false
		qs := p.loadQueues()
		n := len(qs)
		m := n - 1
		for i := n; i > 0; i, r = i-2, r+2 {
			j := r & m
			q := qs[j].Load()
			if q == nil || q == wq {
				continue
			}
			a := q.loadArray()
			capacity := len(a)
			if capacity == 0 {
				continue
			}
			sq := q.source.Load()
			b := q.base.Load()
			k := int(b) & (capacity - 1)
			x := a[k].Load()
			if t.IsDone() {
				return
			}
			if q.source.Load() != sq || q.base.Load() != b {
				rescan = true
				continue
			}
			if x == nil {
				if a[int(b+1)&(capacity-1)].Load() != nil || q.top.Load() != b {
					rescan = true
				}
				continue
			}
			if p.stoleFrom(qs, sq, wid) {
				if a[k].CompareAndSwap(x, nil) {
					q.base.Store(b + 1)
					wq.source.Store(uint32(j) | srcBit)
					p.runTask(w, x)
					wq.source.Store(wsrc)
				}
				rescan = true
				break
			}
		}
	}
}

// stoleFrom follows the chain of steal sources starting at src and reports
// whether it reaches the queue at index wid within helpDepth links.
func (p *Pool) stoleFrom(qs queueTable, src uint32, wid int) bool {
	m := len(qs) - 1
	for d := 0; d < p.helpDepth; d++ {
		if src&srcBit == 0 {
			return false
		}
		j := int(src & smask)
		if j == wid {
			return true
		}
		x := qs[j&m].Load()
		if x == nil {
			return false
		}
		src = x.source.Load()
	}
	return false
}

// tryCompensate keeps the pool's effective parallelism while a worker
// blocks. In order it tries to wake an idle worker, to let active workers
// drop below parallelism down to MinRunnable, and to start a spare worker
// within MaxThreads. Beyond that the Saturate predicate decides, and
// without one the join fails with ErrResourceExhausted.
func (p *Pool) tryCompensate(c ctlWord) (compensation, error) {
	b := p.bounds
	minActive := int(b.minActive())
	maxTotal := int(b.maxTotal())
	active := int(c.rc())
	total := int(c.tc())
	if total >= 0 {
		if sp := c.sp(); sp != 0 {
			qs := p.loadQueues()
			if i := phaseIndex(sp); i < len(qs) {
				if v := qs[i].Load(); v != nil && v.owner != nil {
					nc := packCtl(c.rc(), c.tc(), v.stackPred.Load())
					if p.ctl.CompareAndSwap(uint64(c), uint64(nc)) {
						v.phase.Store(sp)
						v.owner.unpark()
						p.metrics.RecordCompensation(p.name, "wake")
						return compensateRestore, nil
					}
				}
			}
			return compensateRetry, nil
		}
		if active > minActive {
			if p.ctl.CompareAndSwap(uint64(c), uint64(c.addReleased(-1))) {
				p.metrics.RecordCompensation(p.name, "reduce")
				return compensateRestore, nil
			}
			return compensateRetry, nil
		}
	}
	if total < maxTotal {
		if !p.ctl.CompareAndSwap(uint64(c), uint64(c.addTotal(1))) {
			return compensateRetry, nil
		}
		if err := p.createWorker(0); err != nil {
			return compensateNone, err
		}
		p.metrics.RecordCompensation(p.name, "spawn")
		return compensateRestore, nil
	}
	if !p.ctl.CompareAndSwap(uint64(c), uint64(c)) {
		return compensateRetry, nil
	}
	if p.saturate != nil && p.saturate(p) {
		p.metrics.RecordCompensation(p.name, "saturate")
		return compensateNone, nil
	}
	p.logger.Warn("cannot compensate blocked worker",
		F("pool", p.name),
		F("total", p.parallelism()+total),
		F("max_threads", p.parallelism()+maxTotal))
	return compensateNone, ErrResourceExhausted
}

// uncompensate restores the released count taken by tryCompensate.
func (p *Pool) uncompensate() {
	p.updateCtl(func(c ctlWord) ctlWord { return c.addReleased(1) })
}

// ManagedBlock runs a possibly blocking operation. On a pool worker the pool
// may activate a spare worker while b blocks; elsewhere b simply runs until
// released.
func ManagedBlock(ctx context.Context, b ManagedBlocker) error {
	if b == nil {
		return ErrNilTask
	}
	w := workerFromContext(ctx)
	if w == nil {
		for !b.IsReleasable() && !b.Block() {
		}
		return nil
	}
	return w.pool.compensatedBlock(w, b)
}

func (p *Pool) compensatedBlock(w *worker, b ManagedBlocker) error {
	for {
		if b.IsReleasable() {
			return nil
		}
		comp, err := p.tryCompensate(ctlWord(p.ctl.Load()))
		if err != nil {
			return err
		}
		if comp == compensateRetry {
			runtime.Gosched()
			continue
		}
		if p.blockCompensated(w, comp, b) {
			return nil
		}
	}
}

func (p *Pool) blockCompensated(w *worker, comp compensation, b ManagedBlocker) bool {
	w.blocked.Store(true)
	defer func() {
		w.blocked.Store(false)
		if comp == compensateRestore {
			p.uncompensate()
		}
	}()
	return b.Block()
}
