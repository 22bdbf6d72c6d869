package core

import (
	"context"
	"math/rand/v2"
)

const seedIncrement = 0x9e3779b9

// updateCtl applies f to the control word with a CAS loop and returns the
// new value.
func (p *Pool) updateCtl(f func(ctlWord) ctlWord) ctlWord {
	for {
		c := p.ctl.Load()
		nc := f(ctlWord(c))
		if p.ctl.CompareAndSwap(c, uint64(nc)) {
			return nc
		}
	}
}

// createWorker starts a worker whose counts the caller already reserved in
// ctl: one total and rcDelta released. On failure the reservation is undone.
func (p *Pool) createWorker(rcDelta int16) error {
	w := &worker{pool: p, parker: make(chan struct{}, 1)}
	w.ctx = context.WithValue(p.ctx, workerKey, w)
	var cfg uint32
	if p.asyncMode() {
		cfg |= cfgFIFO
	}
	w.queue = newWorkQueue(w, cfg)
	p.registerWorker(w.queue)

	if err := p.factory(func() { p.runWorkerLoop(w) }); err != nil {
		w.queue.config.Or(cfgQuiet)
		p.updateCtl(func(c ctlWord) ctlWord { return c.addReleased(-rcDelta).addTotal(-1) })
		p.deregisterWorker(w, err)
		p.logger.Error("worker creation failed", F("pool", p.name), F("error", err))
		return workerCreationError(err)
	}
	p.metrics.RecordWorkerChange(p.name, 1)
	p.logger.Debug("worker started", F("pool", p.name), F("worker", w.queue.index()))
	return nil
}

// registerWorker assigns q a free odd slot, doubling the table when full.
func (p *Pool) registerWorker(q *workQueue) {
	p.registrationLock.Lock()
	defer p.registrationLock.Unlock()

	p.indexSeed += seedIncrement
	seed := p.indexSeed
	qs := p.loadQueues()
	n := len(qs)
	m := n - 1
	id := int(seed<<1|1) & m
	k := n
	for ; k > 0; k -= 2 {
		if qs[id].Load() == nil {
			break
		}
		id = (id + 2) & m
	}
	if k <= 0 {
		id = n | 1
		grown := make(queueTable, n<<1)
		gm := len(grown) - 1
		for j := range qs {
			if x := qs[j].Load(); x != nil {
				grown[x.index()&gm].Store(x)
			}
		}
		qs = grown
		p.queues.Store(&grown)
	}
	q.config.Store(q.config.Load()&^smask | uint32(id))
	q.phase.Store(uint32(id))
	if seed == 0 {
		seed = 1
	}
	q.stackPred.Store(seed)
	qs[id].Store(q)
}

// deregisterWorker removes an exiting worker, folds in its steal count,
// releases its ctl counts unless it already did so itself, and cancels any
// tasks left in its queue.
func (p *Pool) deregisterWorker(w *worker, cause error) {
	q := w.queue
	p.registrationLock.Lock()
	if qs := p.loadQueues(); len(qs) > 0 {
		i := q.index() & (len(qs) - 1)
		if qs[i].Load() == q {
			qs[i].Store(nil)
		}
	}
	p.stealCount.Add(q.nsteals.Swap(0))
	p.registrationLock.Unlock()

	cfg := q.config.Load()
	if cfg&cfgQuiet == 0 {
		p.updateCtl(func(c ctlWord) ctlWord { return c.addReleased(-1).addTotal(-1) })
	}
	q.cancelTasks()

	started := cfg&cfgSrc != 0
	if started {
		p.metrics.RecordWorkerChange(p.name, -1)
		p.logger.Debug("worker exited", F("pool", p.name), F("worker", q.index()))
	}
	if terminating, _ := p.tryTerminate(false, false); !terminating && started && cause != nil {
		p.logger.Error("worker failed", F("pool", p.name), F("worker", q.index()), F("error", cause))
		p.signalWork()
	}
}

// externalPush adds t to a shared submission queue. Callers have no stable
// identity, so the queue is chosen at random and the choice advances whenever
// the chosen queue's lock is contended.
func (p *Pool) externalPush(t *Task) error {
	r := rand.Uint32()
	for {
		if p.mode.Load()&modeShutdown != 0 {
			return p.reject("shutdown", ErrPoolShutdown)
		}
		tp := p.queues.Load()
		qs := *tp
		n := len(qs)
		id := r & smask &^ 1
		i := int(id) & (n - 1)
		q := qs[i].Load()
		if q == nil {
			nq := newWorkQueue(nil, id)
			p.registrationLock.Lock()
			if p.queues.Load() == tp && qs[i].Load() == nil && p.mode.Load()&modeShutdown == 0 {
				qs[i].Store(nq)
			}
			p.registrationLock.Unlock()
			continue
		}
		if !q.tryLock() {
			r ^= r << 13
			r ^= r >> 17
			r ^= r << 5
			continue
		}
		if p.mode.Load()&modeShutdown != 0 {
			q.unlock()
			return p.reject("shutdown", ErrPoolShutdown)
		}
		return p.pushLocked(q, t)
	}
}

// pushLocked pushes t onto the shared queue q, whose lock the caller holds,
// and releases the lock. If the pool began stopping after the caller's
// shutdown check, t is taken back and rejected; a task the stop sweep already
// removed counts as accepted, since the sweep cancelled it.
func (p *Pool) pushLocked(q *workQueue, t *Task) error {
	signal, err := q.push(t)
	if err != nil {
		q.unlock()
		return p.reject("queue capacity", err)
	}
	if p.mode.Load()&modeStop != 0 && q.tryUnpush(t) {
		q.unlock()
		return p.reject("stopping", ErrPoolShutdown)
	}
	depth := q.queueSize()
	q.unlock()
	if p.timed {
		p.metrics.RecordQueueDepth(p.name, depth)
	}
	if signal {
		if err := p.signalWork(); err != nil && p.workerCount() <= 0 && q.tryExternalUnpush(t) {
			// no worker exists to run t
			p.tryTerminate(false, false)
			return p.reject("worker creation", err)
		}
	}
	return nil
}

// tryExternalUnpush removes t from the top of whichever submission queue
// holds it there.
func (p *Pool) tryExternalUnpush(t *Task) bool {
	qs := p.loadQueues()
	for i := 0; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil && q.tryExternalUnpush(t) {
			return true
		}
	}
	return false
}
