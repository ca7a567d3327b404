package msgloop

import "sync"

// SyncMessageFilter lets any goroutine send a synchronous message on a
// channel without running on the channel's own listener goroutine, by
// handing the send straight to the underlying Sender and blocking the
// caller on the reply's done event directly (no dispatch-loop involvement,
// since the calling goroutine generally isn't driving a MessageLoop at
// all).
//
// Grounded on the IPC_SYNC_MESSAGE_FILTER half of
// original_source/win/src/cripc/ipc_sync_channel.h/.cc; the filter owns no
// ReceivedSyncMsgQueue of its own, since it never dispatches reentrant
// inbound messages -- it only ever waits.
type SyncMessageFilter struct {
	shutdownEvent *WaitableEvent

	mu      sync.Mutex
	sender  Sender
	pending []*PendingSyncMsg
}

func newSyncMessageFilter(shutdownEvent *WaitableEvent) *SyncMessageFilter {
	return &SyncMessageFilter{shutdownEvent: shutdownEvent}
}

func (f *SyncMessageFilter) setSender(sender Sender) {
	f.mu.Lock()
	f.sender = sender
	f.mu.Unlock()
}

// Send blocks the calling goroutine until sm's reply arrives, or until the
// channel shuts down (including before the filter has ever been handed a
// sender, if the channel died or never finished initializing).
func (f *SyncMessageFilter) Send(sm *SyncMessage) bool {
	pending := newPendingSyncMsg(sm.RequestID, sm.Deserializer)

	f.mu.Lock()
	sender := f.sender
	f.pending = append(f.pending, pending)
	f.mu.Unlock()

	if sender != nil {
		sender.Send(&sm.Message)
	}

	if WaitMany([]*WaitableEvent{pending.DoneEvent, f.shutdownEvent}) == 1 {
		f.mu.Lock()
		for i, p := range f.pending {
			if p == pending {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		return false
	}
	return pending.SendResult
}

// OnMessageReceived matches an inbound reply against this filter's pending
// sends, deserializing and signaling the one it completes.
func (f *SyncMessageFilter) OnMessageReceived(msg *Message) bool {
	f.mu.Lock()
	var pending *PendingSyncMsg
	for i, p := range f.pending {
		if p.RequestID == msg.RequestID {
			pending = p
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	if pending == nil {
		return false
	}
	if !msg.IsReplyError() {
		pending.SendResult = pending.Deserializer.Deserialize(msg)
	}
	pending.DoneEvent.Signal()
	return true
}

// SignalAllEvents unblocks every Send currently waiting on this filter
// without a successful result, for use when the owning channel shuts down
// or fails to ever initialize.
func (f *SyncMessageFilter) SignalAllEvents() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, p := range pending {
		p.DoneEvent.Signal()
	}
}
