package msgloop

import "time"

// TaskRunner is the public interface through which any goroutine posts
// work to a MessageLoop. Implementations must be safe for concurrent use.
type TaskRunner interface {
	// PostTask queues task to run as soon as possible, nestable (it may
	// run from within a nested RunLoop).
	PostTask(postedFrom string, task func()) bool

	// PostDelayedTask queues task to run no earlier than delay from now.
	PostDelayedTask(postedFrom string, task func(), delay time.Duration) bool

	// PostNonNestableTask queues task to run as soon as possible, but only
	// once the loop is back at its outermost run level.
	PostNonNestableTask(postedFrom string, task func()) bool

	// PostNonNestableDelayedTask combines PostNonNestableTask and
	// PostDelayedTask's semantics.
	PostNonNestableDelayedTask(postedFrom string, task func(), delay time.Duration) bool

	// RunsTasksOnCurrentThread reports whether the calling goroutine is
	// this TaskRunner's own loop thread.
	RunsTasksOnCurrentThread() bool
}

// messageLoopTaskRunner is the TaskRunner backing a MessageLoop, forwarding
// directly into its IncomingTaskQueue.
//
// Grounded on eventloop's Submit/SubmitInternal: check-state-then-push
// under the queue's own lock, returning false once the loop has shut down,
// rather than panicking or blocking the poster.
type messageLoopTaskRunner struct {
	loop *MessageLoop
}

func (r *messageLoopTaskRunner) PostTask(postedFrom string, task func()) bool {
	if !r.loop.incoming.AddToIncomingQueue(postedFrom, task, 0, true) {
		return r.logPostFailed(postedFrom)
	}
	return r.wake()
}

func (r *messageLoopTaskRunner) PostDelayedTask(postedFrom string, task func(), delay time.Duration) bool {
	if delay < 0 {
		delay = 0
	}
	if !r.loop.incoming.AddToIncomingQueue(postedFrom, task, delay, true) {
		return r.logPostFailed(postedFrom)
	}
	r.loop.pump.ScheduleDelayedWork(time.Now().Add(delay))
	return true
}

func (r *messageLoopTaskRunner) PostNonNestableTask(postedFrom string, task func()) bool {
	if !r.loop.incoming.AddToIncomingQueue(postedFrom, task, 0, false) {
		return r.logPostFailed(postedFrom)
	}
	return r.wake()
}

func (r *messageLoopTaskRunner) PostNonNestableDelayedTask(postedFrom string, task func(), delay time.Duration) bool {
	if delay < 0 {
		delay = 0
	}
	if !r.loop.incoming.AddToIncomingQueue(postedFrom, task, delay, false) {
		return r.logPostFailed(postedFrom)
	}
	return r.wake()
}

// logPostFailed reports a rejected post through the ambient Logger and
// always returns false, folding the log call into the same expression as
// the AddToIncomingQueue check above.
func (r *messageLoopTaskRunner) logPostFailed(postedFrom string) bool {
	logf(LevelWarn, "taskrunner", "post rejected", ErrPostFailed, map[string]any{
		"posted_from": postedFrom,
	})
	return false
}

func (r *messageLoopTaskRunner) RunsTasksOnCurrentThread() bool {
	return r.loop.isLoopThread()
}

// wake always returns true; it exists only to fold the pump wakeup into the
// same expression as the AddToIncomingQueue call above.
func (r *messageLoopTaskRunner) wake() bool {
	r.loop.pump.ScheduleWork()
	return true
}
