package msgloop

import "time"

// Delegate is implemented by MessageLoop and called back by a MessagePump
// to give the loop a chance to run work between iterations of the pump's
// own OS-level wait. The three methods are tried in order each iteration;
// a pump is free to skip DoDelayedWork/DoIdleWork if DoWork did something,
// matching Chromium's message_pump_default.cc loop shape.
type Delegate interface {
	// DoWork runs at most one immediately-runnable task and reports
	// whether it did so.
	DoWork() bool

	// DoDelayedWork runs at most one delayed task whose time has come, and
	// reports whether it did so. If it returns false and there is a
	// pending delayed task, it sets *nextDelayedWorkTime to that task's
	// run time so the pump knows how long it may safely sleep.
	DoDelayedWork(nextDelayedWorkTime *time.Time) bool

	// DoIdleWork runs when neither DoWork nor DoDelayedWork found
	// anything to do, and reports whether it did something that means the
	// pump should not go to sleep yet.
	DoIdleWork() bool
}

// MessagePump drives a Delegate: it calls DoWork/DoDelayedWork/DoIdleWork
// in a loop, sleeping (via an OS-specific wait primitive) when there is
// nothing to do, and waking promptly when ScheduleWork or
// ScheduleDelayedWork is called from any goroutine.
//
// Grounded on eventloop's tick()/poll() decomposed back into the three
// named Delegate callbacks; MessagePumpIO additionally grounds its FD wait
// on eventloop's platform pollers (poller_linux.go, poller_darwin.go).
type MessagePump interface {
	// Run repeatedly invokes delegate's callbacks until Quit is called.
	// Run must only be called from the pump's own goroutine.
	Run(delegate Delegate)

	// Quit asks Run to return once the current iteration completes.
	Quit()

	// ScheduleWork wakes the pump if it is sleeping, so it re-checks
	// DoWork promptly. Safe to call from any goroutine.
	ScheduleWork()

	// ScheduleDelayedWork informs the pump of the next delayed task's run
	// time, so it does not oversleep past it. Safe to call from any
	// goroutine.
	ScheduleDelayedWork(t time.Time)
}

// defaultPump is a MessagePump with no I/O waiting capability: it sleeps on
// a channel wakeup or a timer for the next delayed task, whichever comes
// first. This is the pump a MessageLoop uses unless it needs IOEvents.
type defaultPump struct {
	wake    chan struct{}
	quit    chan struct{}
	quitted bool
}

func newDefaultPump() *defaultPump {
	return &defaultPump{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (p *defaultPump) Run(delegate Delegate) {
	p.quit = make(chan struct{})
	p.quitted = false
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		if delegate.DoWork() {
			continue
		}

		var next time.Time
		if delegate.DoDelayedWork(&next) {
			continue
		}

		if delegate.DoIdleWork() {
			continue
		}

		p.sleep(next)
	}
}

func (p *defaultPump) sleep(next time.Time) {
	if next.IsZero() {
		select {
		case <-p.wake:
		case <-p.quit:
		}
		return
	}
	d := time.Until(next)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.wake:
	case <-timer.C:
	case <-p.quit:
	}
}

func (p *defaultPump) Quit() {
	if p.quitted {
		return
	}
	p.quitted = true
	close(p.quit)
}

func (p *defaultPump) ScheduleWork() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *defaultPump) ScheduleDelayedWork(time.Time) {
	// The next wake time is recomputed from the delegate each iteration via
	// DoDelayedWork's out-parameter; nothing to store here. A plain wake is
	// enough to make the pump reconsider its sleep deadline immediately,
	// which matters when a shorter delay was posted while already asleep.
	p.ScheduleWork()
}

// NewMessagePump constructs the default (non-IO) pump. Use NewMessagePumpIO
// for a pump that also waits on file descriptors.
func NewMessagePump() MessagePump {
	return newDefaultPump()
}

// IOEvents identifies the kind of readiness a MessagePumpIO watches for on
// a registered file descriptor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// IOCallback is invoked, on the pump's own goroutine, when a registered
// file descriptor becomes ready.
type IOCallback func(IOEvents)

// MessagePumpIO extends MessagePump with file-descriptor watching, for
// MessageLoop.TYPE_IO loops (the "IO" variant from spec section 2's
// dependency table).
type MessagePumpIO interface {
	MessagePump

	// RegisterFD starts watching fd for the given events.
	RegisterFD(fd int, events IOEvents, cb IOCallback) error

	// ModifyFD changes the watched events for an already-registered fd.
	ModifyFD(fd int, events IOEvents) error

	// UnregisterFD stops watching fd.
	UnregisterFD(fd int) error
}
