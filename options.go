package msgloop

import "time"

// loopOptions holds configuration resolved from LoopOption values passed to
// NewMessageLoop.
type loopOptions struct {
	pumpType           PumpType
	maxDestructionSpin int
}

// PumpType selects which MessagePump a MessageLoop constructs for itself.
type PumpType int

const (
	// PumpTypeDefault has no file-descriptor watching capability.
	PumpTypeDefault PumpType = iota
	// PumpTypeIO watches file descriptors in addition to tasks/timers.
	PumpTypeIO
)

// LoopOption configures a MessageLoop at construction time.
//
// Grounded on eventloop's LoopOption/loopOptionImpl/resolveLoopOptions
// functional-options pattern.
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithPumpType selects the MessagePump implementation the loop constructs.
func WithPumpType(t PumpType) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.pumpType = t })
}

// WithMaxDestructionSpin overrides the number of drain rounds MessageLoop's
// destructor performs before giving up on tasks that keep reposting work
// during shutdown. The default is 100, matching the bound named in this
// package's design notes.
func WithMaxDestructionSpin(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.maxDestructionSpin = n })
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{
		pumpType:           PumpTypeDefault,
		maxDestructionSpin: 100,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}

// threadOptions holds configuration resolved from ThreadOption values.
type threadOptions struct {
	timerSlack time.Duration
	loopOpts   []LoopOption
}

// WithThreadTimerSlack requests the underlying OS thread coalesce timer
// wakeups within d of each other, trading wakeup precision for power
// efficiency (Linux PR_SET_TIMERSLACK; a no-op where the platform offers
// no portable equivalent).
func WithThreadTimerSlack(d time.Duration) ThreadOption {
	return threadOptionFunc(func(o *threadOptions) { o.timerSlack = d })
}

// ThreadOption configures a Thread at Start time.
type ThreadOption interface {
	applyThread(*threadOptions)
}

type threadOptionFunc func(*threadOptions)

func (f threadOptionFunc) applyThread(o *threadOptions) { f(o) }

// WithThreadMessageLoopOptions forwards LoopOption values to the Thread's
// internally constructed MessageLoop.
func WithThreadMessageLoopOptions(opts ...LoopOption) ThreadOption {
	return threadOptionFunc(func(o *threadOptions) { o.loopOpts = append(o.loopOpts, opts...) })
}

func resolveThreadOptions(opts []ThreadOption) *threadOptions {
	cfg := &threadOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyThread(cfg)
	}
	return cfg
}
