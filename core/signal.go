package core

import (
	"runtime"
	"time"
)

// timeoutSlop absorbs timer imprecision when deciding whether a keep-alive
// deadline has passed.
const timeoutSlop = 20 * time.Millisecond

// signalWork activates an idle worker, or starts a new one, if fewer than
// parallelism workers are active. It returns the error of a failed worker
// start; the failed worker has already been deregistered.
func (p *Pool) signalWork() error {
	for {
		c := ctlWord(p.ctl.Load())
		if !c.tooFewActive() {
			return nil
		}
		sp := c.sp()
		if sp == 0 {
			if !c.canAddWorker() {
				return nil
			}
			if p.ctl.CompareAndSwap(uint64(c), uint64(c.addReleased(1).addTotal(1))) {
				return p.createWorker(1)
			}
			continue
		}
		qs := p.loadQueues()
		i := phaseIndex(sp)
		if i >= len(qs) {
			return nil
		}
		v := qs[i].Load()
		if v == nil || v.owner == nil {
			return nil
		}
		nc := packCtl(c.rc()+1, c.tc(), v.stackPred.Load())
		if p.ctl.CompareAndSwap(uint64(c), uint64(nc)) {
			v.phase.Store(sp)
			v.owner.unpark()
			return nil
		}
	}
}

// workerCount is the number of workers counted in ctl, started or starting.
func (p *Pool) workerCount() int {
	return p.parallelism() + int(ctlWord(p.ctl.Load()).tc())
}

// awaitWork pushes w onto the idle stack and parks until signalled. It
// returns false when the worker should exit: the pool is stopping, or the
// worker stayed idle past its keep-alive while the pool was quiescent.
func (p *Pool) awaitWork(w *worker) bool {
	q := w.queue
	phase := (q.phase.Load() + ssSeq) &^ inactive
	q.phase.Store(phase | inactive)

	var prev, c ctlWord
	for {
		prev = ctlWord(p.ctl.Load())
		q.stackPred.Store(prev.sp())
		c = prev.addReleased(-1).withSP(phase)
		if p.ctl.CompareAndSwap(uint64(prev), uint64(c)) {
			break
		}
	}

	md := p.mode.Load()
	if md&modeStop != 0 {
		return false
	}
	var deadline time.Time
	if int(md&modeParallelism)+int(c.rc()) <= 0 {
		// Last worker to go idle: recheck submission queues for a push that
		// raced with this worker's final scan.
		checkTermination := md&modeShutdown != 0
		deadline = time.Now().Add(p.keepAlive)
		qs := p.loadQueues()
		for i := 0; i < len(qs); i += 2 {
			if ctlWord(p.ctl.Load()) != c {
				checkTermination = false
				break
			}
			if sq := qs[i].Load(); sq != nil && hasPendingWork(sq) {
				if p.ctl.CompareAndSwap(uint64(c), uint64(prev)) {
					q.phase.Store(phase)
				}
				checkTermination = false
				break
			}
		}
		if checkTermination {
			if terminating, _ := p.tryTerminate(false, false); terminating {
				return false
			}
		}
	}

	for {
		if q.phase.Load()&inactive == 0 {
			return true
		}
		if p.mode.Load()&modeStop != 0 {
			return false
		}
		cur := ctlWord(p.ctl.Load())
		switch {
		case cur == prev:
			// popped, phase store pending
			runtime.Gosched()
		case deadline.IsZero() && cur.sp() == phase && p.parallelism()+int(cur.rc()) <= 0:
			// became top of a quiescent idle stack after a trim
			deadline = time.Now().Add(p.keepAlive)
		case deadline.IsZero():
			w.park(time.Time{})
		case time.Until(deadline) > timeoutSlop:
			w.park(deadline)
		case cur.sp() == phase && p.parallelism()+int(cur.tc()) > p.minThreads:
			nc := packCtl(cur.rc(), cur.tc()-1, q.stackPred.Load())
			if p.ctl.CompareAndSwap(uint64(cur), uint64(nc)) {
				q.config.Or(cfgQuiet)
				p.unparkTop(nc)
				return false
			}
		default:
			deadline = time.Now().Add(p.keepAlive)
		}
	}
}

// unparkTop wakes the idle worker at the top of c's stack so it can start
// its own keep-alive countdown.
func (p *Pool) unparkTop(c ctlWord) {
	sp := c.sp()
	if sp == 0 {
		return
	}
	qs := p.loadQueues()
	if i := phaseIndex(sp); i < len(qs) {
		if v := qs[i].Load(); v != nil && v.owner != nil {
			v.owner.unpark()
		}
	}
}

// hasPendingWork reports whether a submission queue holds tasks or is
// locked by a pusher.
func hasPendingWork(q *workQueue) bool {
	if q.isLocked() || !q.isEmpty() {
		return true
	}
	a := q.loadArray()
	return len(a) > 0 && a[int(q.base.Load())&(len(a)-1)].Load() != nil
}
