package msgloop

import "sync/atomic"

// LoopState is the lifecycle state of a MessageLoop.
//
// Unbound -> Bound          [BindToCurrentThread]
// Bound -> Running          [outermost Run]
// Running -> Bound          [outermost Run returns]
// any -> Terminating        [Destroy begins]
// Terminating -> Terminated [Destroy completes]
//
// Grounded on eventloop's state.go FastState, trimmed from its five
// perf-tuned states (which distinguish "awake" from "sleeping" for a
// fast-path optimization this package does not need) down to the four
// lifecycle states this package actually names, plus Unbound for a
// MessageLoop that has been constructed but not yet attached to a
// goroutine.
type LoopState uint32

const (
	LoopUnbound LoopState = iota
	LoopBound
	LoopRunning
	LoopTerminating
	LoopTerminated
)

func (s LoopState) String() string {
	switch s {
	case LoopUnbound:
		return "Unbound"
	case LoopBound:
		return "Bound"
	case LoopRunning:
		return "Running"
	case LoopTerminating:
		return "Terminating"
	case LoopTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state cell: transitions that depend on the
// current state go through TryTransition (CAS); unconditional ones use
// Store.
type loopState struct {
	v atomic.Uint32
}

func newLoopState(initial LoopState) *loopState {
	s := &loopState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *loopState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *loopState) Store(state LoopState) { s.v.Store(uint32(state)) }

func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *loopState) IsTerminal() bool { return s.Load() == LoopTerminated }
