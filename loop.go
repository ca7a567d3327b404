package msgloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// TaskObserver is notified around every task a MessageLoop runs. Observers
// are invoked on the loop's own goroutine; they must not block.
type TaskObserver interface {
	WillProcessTask(pt PendingTask)
	DidProcessTask(pt PendingTask)
}

// MessageLoop is a cooperatively scheduled task dispatcher bound to exactly
// one goroutine. It owns an IncomingTaskQueue (the cross-thread-safe
// posting surface), a FIFO of immediately-runnable tasks, a delay heap, and
// a deferred queue for non-nestable tasks postponed by an active nested
// RunLoop. It implements Delegate itself, so its outermost Run call is
// driven by its own MessagePump's Run method rather than a bespoke loop.
//
// Grounded on eventloop's Loop: tick() decomposed back into the
// DoWork/DoDelayedWork/DoIdleWork triad, FastState trimmed to the five
// lifecycle states in state.go, and safeExecute's panic recovery carried
// over verbatim in spirit (recover, log via the ambient Logger, keep going).
type MessageLoop struct {
	incoming      *IncomingTaskQueue
	workQueue     taskQueue
	delayedQueue  *delayedTaskQueue
	deferredQueue taskQueue

	pump   MessagePump
	pumpIO MessagePumpIO // non-nil only when constructed with WithPumpType(PumpTypeIO)

	state *loopState

	nestableTasksAllowed bool
	runLoopTop           *RunLoop
	outermostRunLoop     *RunLoop
	runDepth             int

	destructionObservers []func()
	taskObservers        []TaskObserver

	goroutineID atomic.Int64 // 0 until bound

	maxDestructionSpin int

	weakFactory *WeakPtrFactory[MessageLoop]

	mu sync.Mutex // guards destructionObservers/taskObservers (registered cross-thread before Run, in practice, but we don't assume it)
}

var _ Delegate = (*MessageLoop)(nil)

// NewMessageLoop constructs an unbound MessageLoop. Call BindToCurrentThread
// from the goroutine that will run it before posting any tasks.
func NewMessageLoop(opts ...LoopOption) (*MessageLoop, error) {
	cfg := resolveLoopOptions(opts)

	l := &MessageLoop{
		incoming:           NewIncomingTaskQueue(),
		delayedQueue:       newDelayedTaskQueue(),
		state:              newLoopState(LoopUnbound),
		maxDestructionSpin: cfg.maxDestructionSpin,
	}
	l.weakFactory = NewWeakPtrFactory(l)

	switch cfg.pumpType {
	case PumpTypeIO:
		pumpIO, err := NewMessagePumpIO()
		if err != nil {
			return nil, err
		}
		l.pumpIO = pumpIO
		l.pump = pumpIO
	default:
		l.pump = NewMessagePump()
	}

	return l, nil
}

// BindToCurrentThread attaches the loop to the calling goroutine. It must
// be called exactly once, before Run.
func (l *MessageLoop) BindToCurrentThread() error {
	if !l.state.TryTransition(LoopUnbound, LoopBound) {
		return ErrLoopAlreadyRunning
	}
	id := currentGoroutineID()
	l.goroutineID.Store(int64(id))
	registerCurrentLoop(id, l)
	return nil
}

// currentLoopRegistry maps a bound goroutine's id to its MessageLoop,
// the equivalent of Chromium's MessageLoop::current() thread-local slot.
// It exists for the one place this package needs to recover "the loop
// running on this goroutine" without threading a *MessageLoop through
// every call: SyncChannel's waitForReplyWithNestedMessageLoop, which must
// start a nested RunLoop on whatever loop the blocked Send is running on.
var (
	currentLoopMu sync.Mutex
	currentLoopReg = map[uint64]*MessageLoop{}
)

func registerCurrentLoop(id uint64, l *MessageLoop) {
	currentLoopMu.Lock()
	currentLoopReg[id] = l
	currentLoopMu.Unlock()
}

func unregisterCurrentLoop(id uint64) {
	currentLoopMu.Lock()
	delete(currentLoopReg, id)
	currentLoopMu.Unlock()
}

// CurrentMessageLoop returns the MessageLoop bound to the calling
// goroutine, if any.
func CurrentMessageLoop() (*MessageLoop, bool) {
	currentLoopMu.Lock()
	l, ok := currentLoopReg[currentGoroutineID()]
	currentLoopMu.Unlock()
	return l, ok
}

// TaskRunner returns the TaskRunner posting work to this loop.
func (l *MessageLoop) TaskRunner() TaskRunner {
	return &messageLoopTaskRunner{loop: l}
}

// PumpIO returns the loop's MessagePumpIO, for RegisterFD/ModifyFD/
// UnregisterFD, or nil if the loop was not constructed with
// WithPumpType(PumpTypeIO).
func (l *MessageLoop) PumpIO() MessagePumpIO { return l.pumpIO }

// HasPendingHighResolutionTasks reports whether any sub-16ms delayed task is
// currently outstanding, whether it is still sitting in the incoming queue's
// triage stage (not yet reloaded) or has already moved into the delay heap.
// Querying only the incoming queue under-reports once ReloadWorkQueue has
// run, since reloading resets its own triage-side count as tasks move on;
// this combines both, matching original_source's IncomingTaskQueue, whose
// equivalent delegates to its DelayedQueue's own count for exactly this
// reason.
func (l *MessageLoop) HasPendingHighResolutionTasks() bool {
	return l.incoming.HasPendingHighResolutionTasks() || l.delayedQueue.HasPendingHighResolutionTasks()
}

// AddDestructionObserver registers fn to run once, during the loop's
// Destroy, after all pending tasks have drained (or the drain bound was
// hit).
func (l *MessageLoop) AddDestructionObserver(fn func()) {
	l.mu.Lock()
	l.destructionObservers = append(l.destructionObservers, fn)
	l.mu.Unlock()
}

// AddTaskObserver registers an observer notified around every task.
func (l *MessageLoop) AddTaskObserver(obs TaskObserver) {
	l.mu.Lock()
	l.taskObservers = append(l.taskObservers, obs)
	l.mu.Unlock()
}

// Run drives the loop until rl's Quit/QuitWhenIdle condition is reached.
// Only one call to Run may be active on the outermost level at a time;
// nested calls (from within a task, typically via RunLoop.Run) are
// expected and supported.
//
// The outermost call drives the loop's MessagePump directly (pump.Run(l),
// with MessageLoop itself as the Delegate): this is the real dispatch
// mechanism, not just doWorkOnce/doDelayedWorkOnce/doIdleWorkOnce called
// from an ad-hoc loop, so a TYPE_IO loop's registered file descriptors are
// serviced by the same epoll/kqueue wait the pump already owns. A nested
// RunLoop.Run (called synchronously from within a task, itself called from
// inside the outer pump.Run) recurses into a lighter inline dispatch
// instead of re-entering pump.Run: the pump's quit channel is a one-shot
// resource that belongs to the single outermost drive, matching the
// invariant that Quit on an inner RunLoop never touches outer pending work
// (Open Question 3).
func (l *MessageLoop) Run(rl *RunLoop) error {
	if l.runDepth == 0 {
		// Outermost call: record the running goroutine if no goroutine id
		// is set yet, then transition the lifecycle state Bound -> Running;
		// a loop that BindToCurrentThread never bound fails that transition
		// with ErrLoopNotBound. A second, concurrent outermost Run from a different
		// goroutine is rejected; a nested call always comes from the loop's
		// own goroutine and falls through to the branch below instead.
		if l.goroutineID.Load() == 0 {
			id := currentGoroutineID()
			l.goroutineID.Store(int64(id))
			registerCurrentLoop(id, l)
		}
		if !l.isLoopThread() {
			return ErrReentrantRun
		}
		if !l.state.TryTransition(LoopBound, LoopRunning) {
			return ErrLoopNotBound
		}
	} else if !l.isLoopThread() {
		return ErrReentrantRun
	}

	prevTop := l.runLoopTop
	prevNestable := l.nestableTasksAllowed
	outermost := l.runDepth == 0
	l.runLoopTop = rl
	l.runDepth++
	rl.previous = prevTop
	if outermost {
		l.outermostRunLoop = rl
	}
	defer func() {
		l.runDepth--
		l.runLoopTop = prevTop
		l.nestableTasksAllowed = prevNestable
		if l.runDepth == 0 {
			l.outermostRunLoop = nil
			l.state.Store(LoopBound)
			l.drainDeferredToWorkQueue()
		}
	}()
	l.nestableTasksAllowed = l.runDepth <= 1

	if outermost {
		l.pump.Run(l)
		return nil
	}

	for !rl.shouldQuit() {
		if l.doWorkOnce() {
			continue
		}
		var next time.Time
		if l.doDelayedWorkOnce(&next) {
			continue
		}
		if l.doIdleWorkOnce() {
			continue
		}
		if rl.quitWhenIdleRequested() {
			rl.forceQuit()
			break
		}
		l.sleepUntil(next)
	}
	return nil
}

// DoWork implements Delegate for the outermost pump.Run(l) drive: it runs
// at most one immediately-runnable task, or reports false once the
// outermost RunLoop has asked to quit.
func (l *MessageLoop) DoWork() bool {
	if l.outermostQuitRequested() {
		return false
	}
	return l.doWorkOnce()
}

// DoDelayedWork implements Delegate, mirroring DoWork for delayed tasks.
func (l *MessageLoop) DoDelayedWork(next *time.Time) bool {
	if l.outermostQuitRequested() {
		return false
	}
	return l.doDelayedWorkOnce(next)
}

// DoIdleWork implements Delegate. It is the only place the outermost
// drive's Quit condition is translated into an actual pump.Quit() call,
// since that is the single point guaranteed to run once per pump
// iteration regardless of which of the three callbacks found work.
func (l *MessageLoop) DoIdleWork() bool {
	if l.outermostQuitRequested() {
		l.pump.Quit()
		return false
	}
	if l.doIdleWorkOnce() {
		return true
	}
	if l.runDepth == 1 && l.outermostRunLoop.quitWhenIdleRequested() {
		l.outermostRunLoop.forceQuit()
		l.pump.Quit()
	}
	return false
}

// outermostQuitRequested reports whether the outermost RunLoop wants to
// quit, and is only meaningful while runDepth == 1: a nested RunLoop
// drives its own inline dispatch in Run and never calls these Delegate
// methods, so this never fires mid-nesting and stops the pump early.
func (l *MessageLoop) outermostQuitRequested() bool {
	return l.runDepth == 1 && l.outermostRunLoop.shouldQuit()
}

// doWorkOnce runs at most one immediately-runnable task, reloading from the
// IncomingTaskQueue first if the local FIFO is empty. It returns whether a
// task ran.
func (l *MessageLoop) doWorkOnce() bool {
	for {
		if l.workQueue.Len() == 0 {
			l.incoming.ReloadWorkQueue(&l.workQueue, l.delayedQueue)
			if l.workQueue.Len() == 0 {
				return false
			}
		}
		pt, ok := l.workQueue.Pop()
		if !ok {
			return false
		}
		if !pt.Nestable && !l.nestableTasksAllowed {
			l.deferredQueue.Push(pt)
			continue
		}
		l.runTask(pt)
		return true
	}
}

func (l *MessageLoop) doDelayedWorkOnce(next *time.Time) bool {
	pt, ok := l.delayedQueue.Peek()
	if !ok {
		return false
	}
	if pt.DelayedRunTime.After(time.Now()) {
		*next = pt.DelayedRunTime
		return false
	}
	l.delayedQueue.Pop()
	if !pt.Nestable && !l.nestableTasksAllowed {
		l.deferredQueue.Push(pt)
		return false
	}
	l.runTask(pt)
	return true
}

func (l *MessageLoop) doIdleWorkOnce() bool {
	if l.nestableTasksAllowed && l.runDepth <= 1 && l.deferredQueue.Len() > 0 &&
		l.workQueue.Len() == 0 && l.delayedQueue.Len() == 0 {
		l.drainDeferredToWorkQueue()
		return l.workQueue.Len() > 0
	}
	return false
}

func (l *MessageLoop) drainDeferredToWorkQueue() {
	if l.deferredQueue.Len() == 0 {
		return
	}
	var merged taskQueue
	merged.Splice(&l.deferredQueue)
	merged.Splice(&l.workQueue)
	l.workQueue = merged
}

// runTask executes pt, notifying task observers and recovering panics so a
// misbehaving task does not crash the loop.
func (l *MessageLoop) runTask(pt PendingTask) {
	l.mu.Lock()
	observers := l.taskObservers
	l.mu.Unlock()

	for _, obs := range observers {
		obs.WillProcessTask(pt)
	}
	l.safeExecute(pt)
	for _, obs := range observers {
		obs.DidProcessTask(pt)
	}
}

func (l *MessageLoop) safeExecute(pt PendingTask) {
	defer func() {
		if r := recover(); r != nil {
			logf(LevelError, "loop", "task panicked", &PanicError{Value: r, Task: pt.PostedFrom}, map[string]any{
				"sequence": pt.SequenceNum,
			})
		}
	}()
	pt.Task()
}

// sleepUntil is only used by a nested RunLoop's inline dispatch (the
// outermost drive sleeps inside pump.Run via the pump's own wait
// primitive, which for a TYPE_IO loop is an epoll/kqueue wait that also
// services registered file descriptors). While nested, FD readiness
// callbacks are deferred until the nested loop unwinds back to the
// outermost pump.Run iteration, the same way a delayed task posted during
// nesting waits for the nested RunLoop to return before it can run.
func (l *MessageLoop) sleepUntil(next time.Time) {
	if p, ok := l.pump.(*defaultPump); ok {
		p.sleep(next)
		return
	}
	wake := l.incoming.WakeupChannel()
	if next.IsZero() {
		<-wake
		return
	}
	d := time.Until(next)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	}
}

// QuitNow immediately stops the innermost active RunLoop, without draining
// any further pending delayed tasks (Open Question 3: this package does
// not drain on QuitNow, matching RunLoop::Quit not touching the queue).
func (l *MessageLoop) QuitNow() {
	if l.runLoopTop != nil {
		l.runLoopTop.forceQuit()
	}
}

// Destroy shuts the loop down: it drains pending work for up to
// maxDestructionSpin rounds (default 100), so tasks that repost during
// shutdown still get a chance to run, then stops accepting new tasks and
// runs destruction observers. Must be called from the loop's own goroutine
// once Run has returned.
func (l *MessageLoop) Destroy() {
	l.state.Store(LoopTerminating)

	for round := 0; round < l.maxDestructionSpin; round++ {
		l.incoming.ReloadWorkQueue(&l.workQueue, l.delayedQueue)
		if l.workQueue.Len() == 0 && l.delayedQueue.Len() == 0 && l.deferredQueue.Len() == 0 {
			break
		}
		l.nestableTasksAllowed = true
		for l.workQueue.Len() > 0 {
			pt, _ := l.workQueue.Pop()
			l.runTask(pt)
		}
		for l.delayedQueue.Len() > 0 {
			pt, _ := l.delayedQueue.Pop()
			l.runTask(pt)
		}
		if l.deferredQueue.Len() > 0 {
			l.drainDeferredToWorkQueue()
		}
		if round == l.maxDestructionSpin-1 {
			logf(LevelWarn, "loop", "destruction drain bound reached, abandoning remaining reposted tasks", nil, map[string]any{
				"rounds": l.maxDestructionSpin,
			})
		}
	}
	l.incoming.Shutdown()

	l.weakFactory.InvalidateWeakPtrs()
	if id := l.goroutineID.Load(); id != 0 {
		unregisterCurrentLoop(uint64(id))
	}

	l.mu.Lock()
	observers := l.destructionObservers
	l.mu.Unlock()
	for _, obs := range observers {
		obs()
	}

	l.state.Store(LoopTerminated)
}

// State returns the loop's current lifecycle state.
func (l *MessageLoop) State() LoopState { return l.state.Load() }

func (l *MessageLoop) isLoopThread() bool {
	id := l.goroutineID.Load()
	return id != 0 && id == int64(currentGoroutineID())
}

// currentGoroutineID parses the calling goroutine's numeric id out of a
// runtime.Stack trace. Grounded on eventloop's getGoroutineID: the stdlib
// does not expose this directly, so this package falls back to the same
// manual parsing technique.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
