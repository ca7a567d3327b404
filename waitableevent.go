package msgloop

import (
	"sync"
	"time"
)

// WaitableEvent is a cross-thread synchronization primitive any goroutine
// can Wait on, and any goroutine can Signal. In manual-reset mode, once
// signaled it stays signaled until Reset is called and every waiter wakes.
// In auto-reset mode, a Signal wakes exactly one waiter (or the next Wait/
// TimedWait call, if none is currently waiting) and the event immediately
// returns to the unsignaled state.
//
// Grounded on original_source/win/src/crbase/synchronization/waitable_event.h
// for the manual/auto-reset distinction and the WaitMany contract; the Go
// implementation uses a mutex-guarded bool plus per-waiter channels instead
// of a native OS event handle, since this package has no Win32 dependency.
type WaitableEvent struct {
	mu          sync.Mutex
	manualReset bool
	signaled    bool
	waiters     []chan struct{}
}

// NewWaitableEvent constructs an event. If manualReset is false, the event
// auto-resets: a Signal call (or a pending signaled state observed by a
// waiter) clears back to unsignaled as soon as one waiter consumes it.
func NewWaitableEvent(manualReset, initiallySignaled bool) *WaitableEvent {
	return &WaitableEvent{
		manualReset: manualReset,
		signaled:    initiallySignaled,
	}
}

// Signal sets the event to the signaled state, waking waiters as described
// on WaitableEvent.
func (e *WaitableEvent) Signal() {
	e.mu.Lock()
	if e.manualReset {
		e.signaled = true
		waiters := e.waiters
		e.waiters = nil
		e.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		return
	}
	// Auto-reset: wake exactly one waiter if any are blocked; otherwise
	// latch a single pending signal for the next Wait call.
	if len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()
		close(w)
		return
	}
	e.signaled = true
	e.mu.Unlock()
}

// Reset clears the signaled state. A no-op for an already-unsignaled event.
func (e *WaitableEvent) Reset() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// IsSignaled reports the current state without blocking or consuming an
// auto-reset signal.
func (e *WaitableEvent) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Wait blocks until the event is signaled.
func (e *WaitableEvent) Wait() {
	e.TimedWait(-1)
}

// TimedWait blocks until the event is signaled or timeout elapses (timeout
// < 0 means wait indefinitely), returning true if the event was observed
// signaled.
func (e *WaitableEvent) TimedWait(timeout time.Duration) bool {
	e.mu.Lock()
	if e.signaled {
		if !e.manualReset {
			e.signaled = false
		}
		e.mu.Unlock()
		return true
	}
	w := make(chan struct{})
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()

	if timeout < 0 {
		<-w
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w:
		return true
	case <-timer.C:
		e.removeWaiter(w)
		return false
	}
}

// removeWaiter cancels a pending wait registration. If w is still in the
// waiter list, it is removed and closed here (unblocking whatever was
// selecting on it, with no signal consumed). If a concurrent Signal already
// claimed and closed it, this is a no-op -- the caller lost the race, which
// its own select loop already accounts for.
func (e *WaitableEvent) removeWaiter(w chan struct{}) {
	e.mu.Lock()
	for i, ww := range e.waiters {
		if ww == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			e.mu.Unlock()
			close(w)
			return
		}
	}
	e.mu.Unlock()
}

// WaitMany blocks until at least one of events is signaled, and returns its
// index, consuming only that one event's signal (an auto-reset event not
// chosen is left signaled for a later Wait). If several are already
// signaled, one is chosen arbitrarily, matching
// base::WaitableEvent::WaitMany's documented behavior.
func WaitMany(events []*WaitableEvent) int {
	if len(events) == 0 {
		panic("msgloop: WaitMany called with no events")
	}

	// Check-and-register must happen under the same lock per event: a
	// two-pass version (check every event, then register waiters on every
	// event) leaves a window between a given event's own check and its
	// registration where a Signal can land and close an empty waiter list,
	// never waking the waiter appended moments later. Registering inline
	// with the check for each event closes that window.
	chans := make([]chan struct{}, len(events))
	registered := make([]bool, len(events))
	winner := -1
	for i, e := range events {
		e.mu.Lock()
		if e.signaled {
			if !e.manualReset {
				e.signaled = false
			}
			e.mu.Unlock()
			winner = i
			break
		}
		w := make(chan struct{})
		e.waiters = append(e.waiters, w)
		e.mu.Unlock()
		chans[i] = w
		registered[i] = true
	}

	if winner < 0 {
		selectCh := make(chan int, len(chans))
		for i, w := range chans {
			if !registered[i] {
				continue
			}
			i, w := i, w
			go func() {
				<-w
				selectCh <- i
			}()
		}
		winner = <-selectCh
	}

	for i, e := range events {
		if i == winner || !registered[i] {
			continue
		}
		e.removeWaiter(chans[i])
	}
	return winner
}

// waitChan registers (or immediately satisfies) a one-shot wait on e,
// returning a channel that closes once e is signaled. If e is already
// signaled, the returned channel is pre-closed and, for an auto-reset
// event, the signal is consumed. Otherwise the channel is appended to e's
// waiter list exactly as TimedWait would, so an abandoned wait can be
// cancelled cleanly via removeWaiter without leaking the registration.
func (e *WaitableEvent) waitChan() chan struct{} {
	e.mu.Lock()
	if e.signaled {
		if !e.manualReset {
			e.signaled = false
		}
		e.mu.Unlock()
		w := make(chan struct{})
		close(w)
		return w
	}
	w := make(chan struct{})
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()
	return w
}
