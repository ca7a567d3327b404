package msgloop

import (
	"errors"
	"fmt"
)

var (
	// ErrLoopAlreadyRunning is returned by MessageLoop.BindToCurrentThread
	// when the loop has already been bound, and by Thread.Start when the
	// thread has already been started.
	ErrLoopAlreadyRunning = errors.New("msgloop: loop is already running")

	// ErrLoopNotBound is returned when an operation requires a bound loop
	// (BindToCurrentThread has not been called).
	ErrLoopNotBound = errors.New("msgloop: loop is not bound to a thread")

	// ErrReentrantRun is returned when Run is called from a goroutine other
	// than the one the loop is bound to. Nested Run calls from the loop's own
	// goroutine are supported.
	ErrReentrantRun = errors.New("msgloop: cannot call Run from outside the loop's own goroutine")

	// ErrPostFailed is the cause logged through the ambient Logger when a
	// TaskRunner's post is rejected because the target loop has already shut
	// down (PostTask and friends still just return false to the caller,
	// matching the spec's bool-only TaskRunner contract; this is the
	// diagnostic counterpart for whoever is watching the logs).
	ErrPostFailed = errors.New("msgloop: failed to post task: loop has shut down")

	// ErrSendAborted is the cause logged through the ambient Logger when a
	// SendSync blocked on a reply is unblocked by channel shutdown instead of
	// an actual reply (SendSync itself still just returns false, matching
	// SyncChannel::Send's bool-only contract in original_source).
	ErrSendAborted = errors.New("msgloop: sync send aborted by channel shutdown")

	// ErrFDAlreadyRegistered is returned by MessagePumpIO.RegisterFD when
	// the file descriptor is already being watched.
	ErrFDAlreadyRegistered = errors.New("msgloop: fd already registered")

	// ErrFDNotRegistered is returned by MessagePumpIO.ModifyFD/UnregisterFD
	// when the file descriptor is not currently watched.
	ErrFDNotRegistered = errors.New("msgloop: fd not registered")

	// ErrIOPumpUnsupported is returned by NewMessagePumpIO on platforms
	// without a native IO pump implementation.
	ErrIOPumpUnsupported = errors.New("msgloop: IO message pump not supported on this platform")
)

// PanicError wraps a value recovered from a panicking task, so it can be
// reported through the ambient Logger without crashing the loop.
type PanicError struct {
	Value any
	Task  string // PendingTask.PostedFrom, for diagnostics
}

func (e *PanicError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("msgloop: task from %s panicked: %v", e.Task, e.Value)
	}
	return fmt.Sprintf("msgloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value was itself an
// error, enabling errors.Is/errors.As through the cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

