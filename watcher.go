package msgloop

import "sync"

// WaitableEventWatcher asynchronously watches a WaitableEvent and invokes a
// callback, posted to a TaskRunner, when it becomes signaled -- without
// blocking the watching thread. Only one watch may be active per watcher
// at a time; starting a new one implicitly cancels the previous.
//
// Grounded on original_source/win/src/crbase/synchronization/
// waitable_event_watcher.h's StartWatching/StopWatching contract. The "core
// outlives StopWatching" lifetime hazard -- a signal racing a StopWatching
// call on another goroutine -- is handled by giving the watch its own
// refcounted core object (watcherCore, via this package's Ref[T]) instead
// of having the background waiter goroutine touch the WaitableEventWatcher
// struct directly -- so a StopWatching that returns concurrently with a
// late Signal only affects the core's own state.
type WaitableEventWatcher struct {
	mu   sync.Mutex
	core *watcherCore
}

// EventCallback is invoked when a watched event fires.
type EventCallback func(e *WaitableEvent)

// watcherCore is the refcounted object shared between the
// WaitableEventWatcher and its background waiter goroutine.
type watcherCore struct {
	RefCountedThreadSafe

	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

func (c *watcherCore) Destroy() {}

func newWatcherCore() *watcherCore {
	return &watcherCore{done: make(chan struct{})}
}

func (c *watcherCore) cancel() {
	c.mu.Lock()
	if !c.cancelled {
		c.cancelled = true
		close(c.done)
	}
	c.mu.Unlock()
}

// StartWatching begins watching event. When it becomes signaled, cb is
// posted to runner (PostTask, nestable). Any previously active watch on
// this watcher is cancelled first.
func (w *WaitableEventWatcher) StartWatching(event *WaitableEvent, cb EventCallback, runner TaskRunner) {
	w.StopWatching()

	core := newWatcherCore()
	core.AddRef() // one ref for the watcher, one for the waiter goroutine
	core.AddRef()

	w.mu.Lock()
	w.core = core
	w.mu.Unlock()

	go func() {
		defer func() {
			if core.Release() {
				core.Destroy()
			}
		}()
		w := event.waitChan()
		select {
		case <-w:
		case <-core.done:
			// Cancelled before event fired: remove our registration so it
			// doesn't sit in event.waiters forever (the event may never
			// signal again, e.g. a per-channel shutdown event that nothing
			// else is watching).
			event.removeWaiter(w)
			return
		}
		core.mu.Lock()
		cancelled := core.cancelled
		core.mu.Unlock()
		if cancelled {
			return
		}
		runner.PostTask("msgloop.WaitableEventWatcher", func() {
			cb(event)
		})
	}()
}

// StopWatching cancels any active watch. A callback already posted to the
// runner still runs. A signal the watch goroutine has taken but not yet
// posted is dropped once it sees the cancellation (for an auto-reset event
// that signal has already been consumed); if the goroutine checked for
// cancellation just before this call, its callback may still be posted
// after StopWatching returns. There is no drain step.
func (w *WaitableEventWatcher) StopWatching() {
	w.mu.Lock()
	core := w.core
	w.core = nil
	w.mu.Unlock()
	if core == nil {
		return
	}
	core.cancel()
	if core.Release() {
		core.Destroy()
	}
}

// ObjectWatcher is an OS-generic alias for WaitableEventWatcher: only the
// StartWatching/StopWatching contract is portable across platforms, so it
// is exposed here as a plain alias rather than a distinct type.
type ObjectWatcher = WaitableEventWatcher
