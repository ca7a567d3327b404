package msgloop

import (
	"runtime"
	"sync"
)

// Thread owns a dedicated goroutine locked to its own OS thread, running a
// MessageLoop for its entire lifetime. It exists for the cases where an
// ad-hoc goroutine isn't enough: a TYPE_IO loop's file-descriptor watching
// needs a stable OS thread to poll on, and callers on other goroutines
// need a stable TaskRunner handle to reach it with.
//
// Grounded on original_source/win/src/crbase/threading/thread.h/.cc for the
// Start/Stop/StopSoon contract, and on eventloop's run() for the
// Go-specific mechanics of locking the goroutine to its OS thread. Start
// always locks the OS thread, whatever the loop's pump type.
type Thread struct {
	name string

	mu      sync.Mutex
	started bool
	stopped bool

	loop     *MessageLoop
	runLoop  *RunLoop
	loopDone chan struct{}
}

// NewThread creates a Thread; call Start to spin up its goroutine and
// MessageLoop.
func NewThread(name string) *Thread {
	return &Thread{name: name}
}

// Start constructs the thread's MessageLoop and launches its goroutine,
// blocking until the loop is bound and ready to accept tasks.
func (t *Thread) Start(opts ...ThreadOption) error {
	cfg := resolveThreadOptions(opts)

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrLoopAlreadyRunning
	}
	t.started = true
	t.loopDone = make(chan struct{})
	t.mu.Unlock()

	loop, err := NewMessageLoop(cfg.loopOpts...)
	if err != nil {
		return err
	}

	ready := make(chan error, 1)

	go func() {
		// Locking the OS thread matters for TYPE_IO loops, whose pump polls
		// a platform FD set (epoll/kqueue) that's only valid to touch from
		// the thread that registered it; a default-pump loop pays this cost
		// too, since a Thread always expects a stable native thread under
		// it even when nothing currently needs that affinity.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		setTimerSlack(cfg.timerSlack)

		if err := loop.BindToCurrentThread(); err != nil {
			ready <- err
			close(t.loopDone)
			return
		}

		t.mu.Lock()
		t.loop = loop
		rl := NewRunLoop(loop)
		t.runLoop = rl
		t.mu.Unlock()

		ready <- nil

		defer close(t.loopDone)
		defer loop.Destroy()

		_ = loop.Run(rl)
	}()

	return <-ready
}

// TaskRunner returns a handle usable from any goroutine to post work onto
// this thread. It is only valid after Start returns successfully.
func (t *Thread) TaskRunner() TaskRunner {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop.TaskRunner()
}

// MessageLoop returns the thread's bound loop, mainly for tests and for
// constructing MessageLoop-scoped objects (SyncChannel, watchers) that must
// be created on the thread they'll run on.
func (t *Thread) MessageLoop() *MessageLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop asks the thread's loop to quit once its task queue drains, then
// blocks until the goroutine has fully exited. Calling Stop more than once
// is safe; the second call simply waits on the same completion signal.
func (t *Thread) Stop() {
	t.mu.Lock()
	if t.stopped {
		done := t.loopDone
		t.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	t.stopped = true
	rl := t.runLoop
	runner := t.loop.TaskRunner()
	done := t.loopDone
	t.mu.Unlock()

	runner.PostTask("msgloop.Thread.Stop", rl.QuitWhenIdleClosure())
	<-done
}

// StopSoon behaves like Stop but does not block; use the returned channel
// to observe completion if needed.
func (t *Thread) StopSoon() <-chan struct{} {
	t.mu.Lock()
	if t.stopped {
		done := t.loopDone
		t.mu.Unlock()
		return done
	}
	t.stopped = true
	rl := t.runLoop
	runner := t.loop.TaskRunner()
	done := t.loopDone
	t.mu.Unlock()

	runner.PostTask("msgloop.Thread.StopSoon", rl.QuitWhenIdleClosure())
	return done
}
