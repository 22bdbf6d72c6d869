package core

// QueueStats is a snapshot of one work queue.
type QueueStats struct {
	Index   int
	Shared  bool
	Size    int
	Steals  int64
	Idle    bool
	Blocked bool
}

// PoolStats represents runtime observability state for a pool. Values are
// read without locking and may be mutually inconsistent under load.
type PoolStats struct {
	ID          string
	Name        string
	Parallelism int
	Workers     int   // registered workers, including idle and blocked ones
	Active      int   // workers not on the idle stack
	Running     int   // workers neither idle nor blocked in a join
	Queued      int   // tasks in worker queues
	Submissions int   // tasks in submission queues
	Steals      int64 // tasks taken from another queue
	Shutdown    bool
	Terminated  bool
	Queues      []QueueStats
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		ID:          p.id,
		Name:        p.name,
		Parallelism: p.parallelism(),
		Active:      p.ActiveCount(),
		Steals:      p.stealCount.Load(),
		Shutdown:    p.IsShutdown(),
		Terminated:  p.IsTerminated(),
	}
	qs := p.loadQueues()
	for i := range qs {
		q := qs[i].Load()
		if q == nil {
			continue
		}
		qst := QueueStats{Index: i, Shared: q.isShared(), Size: q.queueSize()}
		if q.isShared() {
			s.Submissions += qst.Size
		} else {
			qst.Steals = q.nsteals.Load()
			qst.Idle = q.phase.Load()&inactive != 0
			qst.Blocked = q.owner.blocked.Load()
			s.Workers++
			s.Queued += qst.Size
			s.Steals += qst.Steals
			if !qst.Idle && !qst.Blocked {
				s.Running++
			}
		}
		s.Queues = append(s.Queues, qst)
	}
	return s
}

// PoolSize returns the number of registered workers.
func (p *Pool) PoolSize() int {
	n := 0
	qs := p.loadQueues()
	for i := 1; i < len(qs); i += 2 {
		if qs[i].Load() != nil {
			n++
		}
	}
	return n
}

// ActiveCount estimates the workers currently stealing or running tasks.
func (p *Pool) ActiveCount() int {
	if r := p.parallelism() + int(ctlWord(p.ctl.Load()).rc()); r > 0 {
		return r
	}
	return 0
}

// RunningCount estimates the workers not idle and not blocked in a join or
// ManagedBlock.
func (p *Pool) RunningCount() int {
	n := 0
	qs := p.loadQueues()
	for i := 1; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil && q.phase.Load()&inactive == 0 && !q.owner.blocked.Load() {
			n++
		}
	}
	return n
}

// StealCount returns the total number of tasks taken from a queue other
// than the taker's own.
func (p *Pool) StealCount() int64 {
	n := p.stealCount.Load()
	qs := p.loadQueues()
	for i := 1; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil {
			n += q.nsteals.Load()
		}
	}
	return n
}

// QueuedTaskCount returns the number of tasks in worker queues.
func (p *Pool) QueuedTaskCount() int {
	n := 0
	qs := p.loadQueues()
	for i := 1; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil {
			n += q.queueSize()
		}
	}
	return n
}

// QueuedSubmissionCount returns the number of tasks in submission queues.
func (p *Pool) QueuedSubmissionCount() int {
	n := 0
	qs := p.loadQueues()
	for i := 0; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil {
			n += q.queueSize()
		}
	}
	return n
}

// HasQueuedSubmissions reports whether any submission queue is non-empty.
func (p *Pool) HasQueuedSubmissions() bool {
	qs := p.loadQueues()
	for i := 0; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil && !q.isEmpty() {
			return true
		}
	}
	return false
}

// PollSubmission removes and returns a task from a submission queue without
// running it, or nil if there is none.
func (p *Pool) PollSubmission() *Task {
	qs := p.loadQueues()
	for i := 0; i < len(qs); i += 2 {
		if q := qs[i].Load(); q != nil {
			if t := q.poll(); t != nil {
				return t
			}
		}
	}
	return nil
}

// DrainTasksTo removes all queued tasks without running them and appends
// them to dst.
func (p *Pool) DrainTasksTo(dst []*Task) []*Task {
	qs := p.loadQueues()
	for i := range qs {
		if q := qs[i].Load(); q != nil {
			dst = q.drainTo(dst)
		}
	}
	return dst
}
