package msgloop

import "sync/atomic"

var nextSyncRequestID atomic.Int64

// SyncMessage is an outgoing message that expects a reply, carrying the
// Deserializer that will later turn the reply payload into the caller's
// output values.
//
// Grounded on original_source/win/src/cripc/ipc_sync_message.h.
type SyncMessage struct {
	Message
	Deserializer Deserializer

	// PumpMessages requests that the sending goroutine, while blocked
	// waiting for this message's reply, run a full nested RunLoop rather
	// than only dispatching reentrant inbound sync requests -- the
	// generalization of the original's "pump messages" Windows-UI-pump
	// flag to an arbitrary posted-task queue.
	PumpMessages bool
}

// NewSyncMessage allocates a fresh, process-wide-unique RequestID and
// marks the message synchronous (and, if shouldUnblock is set, eligible
// for reentrant dispatch while the receiving thread is itself blocked in
// a Send).
func NewSyncMessage(routingID, msgType int32, payload []byte, shouldUnblock bool, d Deserializer) *SyncMessage {
	flags := MessageSync
	if shouldUnblock {
		flags |= MessageShouldUnblock
	}
	return &SyncMessage{
		Message: Message{
			RoutingID: routingID,
			Type:      msgType,
			Flags:     flags,
			RequestID: nextSyncRequestID.Add(1),
			Payload:   payload,
		},
		Deserializer: d,
	}
}

// WithPumpMessages sets PumpMessages and returns sm for chaining at the
// call site, e.g. NewSyncMessage(...).WithPumpMessages().
func (sm *SyncMessage) WithPumpMessages() *SyncMessage {
	sm.PumpMessages = true
	return sm
}

// PendingSyncMsg tracks one in-flight synchronous send. Exactly one exists
// per outstanding Send call; SyncContext keeps them in a LIFO stack
// matching the call-stack of nested sends.
//
// DoneEvent is manual-reset, never auto-reset: between signaling done and
// the waiting Send observing it, a new Send on the same goroutine may start
// and re-enter the wait, and an auto-reset event could be consumed by the
// wrong iteration.
type PendingSyncMsg struct {
	RequestID    int64
	Deserializer Deserializer
	DoneEvent    *WaitableEvent
	SendResult   bool
}

func newPendingSyncMsg(requestID int64, d Deserializer) *PendingSyncMsg {
	return &PendingSyncMsg{
		RequestID:    requestID,
		Deserializer: d,
		DoneEvent:    NewWaitableEvent(true, false),
	}
}
