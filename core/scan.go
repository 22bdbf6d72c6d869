package core

import (
	"runtime/debug"
)

// runWorkerLoop is the body of every worker goroutine.
func (p *Pool) runWorkerLoop(w *worker) {
	var cause error
	defer func() {
		if r := recover(); r != nil {
			cause = &PanicError{Value: r, Stack: debug.Stack()}
		}
		p.deregisterWorker(w, cause)
	}()
	p.runWorker(w)
}

// runWorker alternates between scanning for tasks and waiting for a signal
// until the pool stops or the worker times out.
func (p *Pool) runWorker(w *worker) {
	q := w.queue
	if p.mode.Load()&modeStop != 0 {
		return
	}
	q.config.Or(cfgSrc)
	r := q.stackPred.Load()
	if r == 0 {
		r = 1
	}
	src := 0
	for p.mode.Load()&modeStop == 0 {
		r ^= r << 13
		r ^= r >> 17
		r ^= r << 5
		if src = p.scan(w, src, r); src >= 0 {
			continue
		}
		if !p.awaitWork(w) {
			return
		}
		src = 0
	}
}

// scan makes one randomized pass over all queues and runs the first task it
// steals. It returns the source of that task, prevSrc when an inconsistent
// read means the pass should be repeated, or -1 when every queue looked empty.
func (p *Pool) scan(w *worker, prevSrc int, r uint32) int {
	tp := p.queues.Load()
	qs := *tp
	n := len(qs)
	step := (r >> 16) | 1
	for i := n; i > 0; i, r = i-1, r+step {
		j := int(r) & (n - 1)
		q := qs[j].Load()
		if q == nil {
			continue
		}
		a := q.loadArray()
		capacity := len(a)
		if capacity == 0 {
			continue
		}
		b := q.base.Load()
		k := int(b) & (capacity - 1)
		nextIndex := int(b+1) & (capacity - 1)
		src := j | srcBit
		t := a[k].Load()
		if q.base.Load() != b {
			return prevSrc
		}
		if t != nil && a[k].CompareAndSwap(t, nil) {
			q.base.Store(b + 1)
			next := a[nextIndex].Load()
			w.queue.source.Store(uint32(src))
			if src != prevSrc && next != nil {
				p.signalWork()
			}
			p.topLevelExec(w, t, q)
			return src
		}
		if a[nextIndex].Load() != nil {
			return prevSrc
		}
	}
	if p.queues.Load() != tp {
		return prevSrc
	}
	return -1
}

// topLevelExec runs a stolen task, then drains the worker's own queue,
// polling the source queue again whenever the local queue runs dry.
func (p *Pool) topLevelExec(w *worker, t *Task, src *workQueue) {
	q := w.queue
	fifo := q.fifo()
	stolen := int64(1)
	for t != nil {
		p.runTask(w, t)
		if t = q.nextLocalTask(fifo); t == nil && src != nil {
			if t = src.tryPoll(); t != nil {
				stolen++
			}
		}
	}
	q.nsteals.Add(stolen)
	q.source.Store(0)
}
