package core

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const initialQueueCapacity = 1 << 8

// maxQueueCapacity bounds the array of a single queue.
var maxQueueCapacity = 1 << 24

type taskArray []atomic.Pointer[Task]

// workQueue is a ring of task slots. The owner pushes and pops at top;
// other goroutines take from base. Every removal claims its slot with a CAS
// (or swap) before an index is moved, so each task is taken at most once.
//
// A queue with no owner is a shared submission queue; source doubles as its
// lock (0 free, 1 held) and top is only modified while holding it.
type workQueue struct {
	phase     atomic.Uint32 // index | version; inactive bit while idle
	stackPred atomic.Uint32 // previous idle stack top; also the worker's seed before first idle
	config    atomic.Uint32 // index | cfgFIFO | cfgSrc | cfgQuiet
	source    atomic.Uint32 // index|srcBit of the queue last stolen from, or lock
	nsteals   atomic.Int64

	owner *worker
	array atomic.Pointer[taskArray]

	base atomic.Int64
	_    cpu.CacheLinePad
	top  atomic.Int64
}

func newWorkQueue(owner *worker, config uint32) *workQueue {
	q := &workQueue{owner: owner}
	a := make(taskArray, initialQueueCapacity)
	q.array.Store(&a)
	q.config.Store(config)
	return q
}

func (q *workQueue) index() int { return int(q.config.Load() & smask) }

func (q *workQueue) isShared() bool { return q.owner == nil }

func (q *workQueue) fifo() bool { return q.config.Load()&cfgFIFO != 0 }

func (q *workQueue) loadArray() taskArray {
	if p := q.array.Load(); p != nil {
		return *p
	}
	return nil
}

// queueSize is an estimate; it may be stale under concurrent steals.
func (q *workQueue) queueSize() int {
	if n := q.top.Load() - q.base.Load(); n > 0 {
		return int(n)
	}
	return 0
}

func (q *workQueue) isEmpty() bool {
	return q.top.Load()-q.base.Load() <= 0
}

// push adds t at top. It reports whether a signal is warranted: the queue
// looked empty before the push or its array grew. Growth beyond
// maxQueueCapacity fails with ErrQueueCapacity and t is not added.
// Callable only by the owner, or by a holder of a shared queue's lock.
func (q *workQueue) push(t *Task) (bool, error) {
	a := q.loadArray()
	s := q.top.Load()
	b := q.base.Load()
	grew := false
	if s-b >= int64(len(a)-1) {
		var err error
		if a, err = q.growArray(a, s); err != nil {
			return false, err
		}
		grew = true
	}
	m := len(a) - 1
	a[int(s)&m].Store(t)
	q.top.Store(s + 1)
	return grew || s-b <= 0 || a[int(s-1)&m].Load() == nil, nil
}

// growArray doubles capacity, moving tasks from top down until the first
// empty slot. Slots in the old array are cleared as they move, so a thief
// reading the old array cannot take a task twice.
func (q *workQueue) growArray(old taskArray, s int64) (taskArray, error) {
	oldSize := len(old)
	newSize := oldSize << 1
	if newSize > maxQueueCapacity {
		return nil, ErrQueueCapacity
	}
	na := make(taskArray, newSize)
	oldMask, newMask := oldSize-1, newSize-1
	for i, k := s-1, oldMask; k >= 0; k-- {
		x := old[int(i)&oldMask].Swap(nil)
		if x == nil {
			break
		}
		na[int(i)&newMask].Store(x)
		i--
	}
	q.array.Store(&na)
	return na, nil
}

// pop takes the most recently pushed task. Owner only.
func (q *workQueue) pop() *Task {
	a := q.loadArray()
	n := len(a)
	s := q.top.Load()
	if n == 0 || q.base.Load() == s {
		return nil
	}
	s--
	t := a[int(s)&(n-1)].Swap(nil)
	if t != nil {
		q.top.Store(s)
	}
	return t
}

// nextLocalTask takes the owner's next task in LIFO or FIFO order.
func (q *workQueue) nextLocalTask(fifo bool) *Task {
	a := q.loadArray()
	n := len(a)
	if n == 0 {
		return nil
	}
	m := n - 1
	for {
		s := q.top.Load()
		b := q.base.Load()
		d := s - b
		if d <= 0 {
			return nil
		}
		if d == 1 || !fifo {
			s--
			t := a[int(s)&m].Swap(nil)
			if t != nil {
				q.top.Store(s)
			}
			return t
		}
		if t := a[int(b)&m].Swap(nil); t != nil {
			q.base.Store(b + 1)
			return t
		}
	}
}

// peek returns the task nextLocalTask would take, skipping placeholders.
func (q *workQueue) peek() *Task {
	a := q.loadArray()
	n := len(a)
	if n == 0 {
		return nil
	}
	m := n - 1
	s, b := q.top.Load(), q.base.Load()
	if q.fifo() {
		for i := b; i < s; i++ {
			if t := a[int(i)&m].Load(); t != nil && t != emptyTask {
				return t
			}
		}
		return nil
	}
	for i := s - 1; i >= b; i-- {
		if t := a[int(i)&m].Load(); t != nil && t != emptyTask {
			return t
		}
	}
	return nil
}

// tryUnpush removes t if it is the top task. Owner only.
func (q *workQueue) tryUnpush(t *Task) bool {
	a := q.loadArray()
	n := len(a)
	s := q.top.Load()
	if n == 0 || q.base.Load() == s {
		return false
	}
	s--
	if a[int(s)&(n-1)].CompareAndSwap(t, nil) {
		q.top.Store(s)
		return true
	}
	return false
}

// tryRemoveAndExec searches the owner's queue for t, removes it and runs it.
// A task removed below top is replaced with emptyTask so indices stay intact.
func (q *workQueue) tryRemoveAndExec(t *Task, run func(*Task)) bool {
	a := q.loadArray()
	n := len(a)
	s := q.top.Load()
	b := q.base.Load()
	if n == 0 || t == nil || s-b <= 0 {
		return false
	}
	m := n - 1
	for i := s - 1; i >= b; i-- {
		k := int(i) & m
		x := a[k].Load()
		if x == nil {
			return false
		}
		if x != t {
			continue
		}
		if i == s-1 {
			if !a[k].CompareAndSwap(t, nil) {
				return false
			}
			q.top.Store(s - 1)
		} else if !a[k].CompareAndSwap(t, emptyTask) {
			return false
		}
		run(t)
		return true
	}
	return false
}

// poll takes the oldest task. Safe for any goroutine. An inconsistent read
// is retried rather than reported as empty.
func (q *workQueue) poll() *Task {
	for {
		ap := q.array.Load()
		if ap == nil || len(*ap) == 0 {
			return nil
		}
		a := *ap
		m := len(a) - 1
		b := q.base.Load()
		k := int(b) & m
		t := a[k].Load()
		if q.base.Load() != b {
			continue
		}
		if t != nil {
			if a[k].CompareAndSwap(t, nil) {
				q.base.Store(b + 1)
				if t == emptyTask {
					continue
				}
				return t
			}
			continue
		}
		if a[int(b+1)&m].Load() == nil && q.array.Load() == ap && q.top.Load()-b <= 0 {
			return nil
		}
		runtime.Gosched()
	}
}

// tryPoll makes a single attempt to take the oldest task.
func (q *workQueue) tryPoll() *Task {
	a := q.loadArray()
	if len(a) == 0 {
		return nil
	}
	b := q.base.Load()
	k := int(b) & (len(a) - 1)
	t := a[k].Load()
	if t != nil && q.base.Load() == b && a[k].CompareAndSwap(t, nil) {
		q.base.Store(b + 1)
		return t
	}
	return nil
}

// cancelTasks cancels every queued task and returns how many it cancelled.
func (q *workQueue) cancelTasks() int {
	n := 0
	for t := q.poll(); t != nil; t = q.poll() {
		if t.Cancel() {
			n++
		}
	}
	return n
}

// drainTo moves every queued task into dst without executing it.
func (q *workQueue) drainTo(dst []*Task) []*Task {
	for t := q.poll(); t != nil; t = q.poll() {
		dst = append(dst, t)
	}
	return dst
}

// Shared queue locking.

func (q *workQueue) tryLock() bool { return q.source.CompareAndSwap(0, 1) }

func (q *workQueue) unlock() { q.source.Store(0) }

func (q *workQueue) isLocked() bool { return q.source.Load() != 0 }

// tryExternalUnpush removes t from the top of a shared queue.
func (q *workQueue) tryExternalUnpush(t *Task) bool {
	if !q.tryLock() {
		return false
	}
	defer q.unlock()
	return q.tryUnpush(t)
}
