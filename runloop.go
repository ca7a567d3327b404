package msgloop

import "sync/atomic"

// RunLoop drives a bound MessageLoop for the duration of one Run or
// RunUntilIdle call. RunLoops nest: calling Run from within a task that is
// itself running under an outer RunLoop links back to it via previous, so
// that a Quit only stops the innermost level. QuitNow likewise never drains
// pending delayed work belonging to an outer level.
//
// Grounded on eventloop's parent-chain linking idiom (abort.go's signal
// hierarchy), generalized to a loop-nesting stack, and on
// original_source/win/src/crbase/run_loop.h's Run/RunUntilIdle/Quit/
// QuitWhenIdle/QuitClosure shape.
type RunLoop struct {
	loop     *MessageLoop
	previous *RunLoop

	quitCalled        atomic.Bool
	quitWhenIdle      atomic.Bool
	quitWhenIdleFired atomic.Bool

	weakFactory *WeakPtrFactory[RunLoop]
}

// NewRunLoop creates a RunLoop bound to loop. loop must already be bound to
// the calling goroutine (or about to be run on it).
func NewRunLoop(loop *MessageLoop) *RunLoop {
	rl := &RunLoop{loop: loop}
	rl.weakFactory = NewWeakPtrFactory(rl)
	return rl
}

// Run drives the loop until Quit is called, or (if QuitWhenIdle was called)
// until no immediate work remains.
func (rl *RunLoop) Run() error {
	return rl.loop.Run(rl)
}

// RunUntilIdle drives the loop until no immediate work remains, then
// returns, without requiring an explicit Quit call.
func (rl *RunLoop) RunUntilIdle() error {
	rl.quitWhenIdle.Store(true)
	return rl.loop.Run(rl)
}

// Quit stops this RunLoop (and only this one) as soon as the current task,
// if any, returns. It does not drain any further pending work.
func (rl *RunLoop) Quit() {
	rl.quitCalled.Store(true)
	rl.loop.pump.ScheduleWork()
}

// QuitWhenIdle arranges for this RunLoop to Quit the next time the loop has
// no immediate work left to do, rather than stopping immediately.
func (rl *RunLoop) QuitWhenIdle() {
	rl.quitWhenIdle.Store(true)
}

// QuitClosure returns a function that calls Quit, safe to post to any
// TaskRunner even after this RunLoop has gone out of scope: it captures rl
// by weak pointer, and is a no-op if rl no longer exists.
func (rl *RunLoop) QuitClosure() func() {
	wp := rl.weakFactory.GetWeakPtr()
	return func() {
		if r, ok := wp.Get(); ok {
			r.Quit()
		}
	}
}

// QuitWhenIdleClosure returns a function that calls QuitWhenIdle, with the
// same weak-pointer safety as QuitClosure. Posting this (rather than
// QuitClosure) is how a caller asks a loop to finish draining whatever is
// already queued ahead of it before stopping, instead of stopping the
// instant this task itself returns.
func (rl *RunLoop) QuitWhenIdleClosure() func() {
	wp := rl.weakFactory.GetWeakPtr()
	return func() {
		if r, ok := wp.Get(); ok {
			r.QuitWhenIdle()
		}
	}
}

func (rl *RunLoop) shouldQuit() bool {
	return rl.quitCalled.Load()
}

func (rl *RunLoop) quitWhenIdleRequested() bool {
	return rl.quitWhenIdle.Load()
}

func (rl *RunLoop) forceQuit() {
	rl.quitCalled.Store(true)
}
