package msgloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// IncomingTaskQueue is the single entry point through which every
// TaskRunner posts work to a MessageLoop. It holds only the triage stage
// (newly posted tasks, not yet sorted into immediate vs. delayed) behind a
// single mutex, per the "one lock, short critical sections" discipline this
// package follows throughout. The delay heap and the deferred queue of
// non-nestable tasks belong to the MessageLoop itself.
//
// Grounded on eventloop's externalMu-guarded external ChunkedIngress
// (Submit/processExternal), collapsed from its separate fast-path/slow-path
// queues into one lock, since nothing here needs that level of
// microsecond-scale latency optimization.
type IncomingTaskQueue struct {
	mu sync.Mutex

	triage  taskQueue
	highRes int

	nextSeq atomic.Uint64

	acceptNewTasks bool

	wakeCh chan struct{}
}

// NewIncomingTaskQueue creates an empty queue, ready to accept tasks.
func NewIncomingTaskQueue() *IncomingTaskQueue {
	return &IncomingTaskQueue{
		acceptNewTasks: true,
		wakeCh:         make(chan struct{}, 1),
	}
}

// AddToIncomingQueue records a newly posted task. It returns false if the
// queue has been shut down and the task was discarded.
func (q *IncomingTaskQueue) AddToIncomingQueue(postedFrom string, task func(), delay time.Duration, nestable bool) bool {
	seq := q.nextSeq.Add(1)

	pt := PendingTask{
		Task:        task,
		PostedFrom:  postedFrom,
		SequenceNum: seq,
		Nestable:    nestable,
	}
	if delay > 0 {
		pt.DelayedRunTime = time.Now().Add(delay)
		pt.IsHighRes = delay < 16*time.Millisecond
	}

	q.mu.Lock()
	if !q.acceptNewTasks {
		q.mu.Unlock()
		return false
	}
	q.triage.Push(pt)
	if pt.IsHighRes {
		q.highRes++
	}
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// ReloadWorkQueue drains every triaged task into workQueue (FIFO order,
// immediate tasks) and delayedQueue (inserted into the delay heap), in one
// short critical section, then returns the number of high-resolution
// (sub-16ms) delayed tasks seen. Called by MessageLoop at the top of each
// DoWork cycle once its local FIFO is empty.
func (q *IncomingTaskQueue) ReloadWorkQueue(workQueue *taskQueue, delayedQueue *delayedTaskQueue) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	highRes := q.highRes
	q.highRes = 0

	for {
		pt, ok := q.triage.Pop()
		if !ok {
			break
		}
		if !pt.DelayedRunTime.IsZero() {
			delayedQueue.Push(pt)
		} else {
			workQueue.Push(pt)
		}
	}
	return highRes
}

// HasPendingHighResolutionTasks reports whether any delayed task still
// sitting in triage (posted but not yet reloaded into the delay heap)
// requested sub-16ms resolution. It does not see high-res tasks that have
// already moved into the delay heap -- use MessageLoop's own
// HasPendingHighResolutionTasks for that system-wide answer.
func (q *IncomingTaskQueue) HasPendingHighResolutionTasks() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highRes > 0
}

// Shutdown stops the queue from accepting new tasks; subsequent
// AddToIncomingQueue calls return false. Idempotent.
func (q *IncomingTaskQueue) Shutdown() {
	q.mu.Lock()
	q.acceptNewTasks = false
	q.mu.Unlock()
}

// WakeupChannel returns the channel MessageLoop.sleepUntil selects on, for
// a nested RunLoop on a non-default pump, to notice a newly posted task
// while sleeping. Sends are non-blocking and coalesce
// (capacity 1), the same wake-dedup pattern eventloop uses.
func (q *IncomingTaskQueue) WakeupChannel() <-chan struct{} {
	return q.wakeCh
}
