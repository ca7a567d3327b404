package msgloop

import (
	"sync"
	"sync/atomic"
)

// DispatchGroupNone is the default restrict-dispatch group: channels in
// this group have their incoming sync messages dispatched during any
// other channel's blocking Send. Assigning a channel a non-zero group
// restricts reentrant dispatch of its messages to sends happening on
// channels in the same group.
const DispatchGroupNone = 0

// SyncContext is the per-SyncChannel state object: thread-safe and
// refcounted so it can outlive the channel itself while a reply is still
// in flight on another goroutine.
//
// Grounded on original_source/win/src/cripc/ipc_sync_channel.h's nested
// SyncContext class.
type SyncContext struct {
	RefCountedThreadSafe

	listener       Listener
	listenerRunner TaskRunner
	sender         Sender

	shutdownEvent   *WaitableEvent
	shutdownWatcher WaitableEventWatcher

	receivedSyncMsgs *ReceivedSyncMsgQueue

	restrictGroup atomic.Int64

	mu                     sync.Mutex
	deserializers          []*PendingSyncMsg
	rejectNewDeserializers bool
}

func newSyncContext(listener Listener, runner TaskRunner, shutdownEvent *WaitableEvent) *SyncContext {
	return &SyncContext{
		listener:         listener,
		listenerRunner:   runner,
		shutdownEvent:    shutdownEvent,
		receivedSyncMsgs: lookupOrCreateReceivedSyncMsgQueue(runner),
	}
}

func (c *SyncContext) Destroy() {}

// Push records an outgoing sync message's tracking info so its reply can
// later be deserialized and its sender unblocked. Reports false if the
// context has already been cleared (channel shutting down).
func (c *SyncContext) Push(sm *SyncMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectNewDeserializers {
		return false
	}
	c.deserializers = append(c.deserializers, newPendingSyncMsg(sm.RequestID, sm.Deserializer))
	return true
}

// Pop removes the top tracking entry (the reply for it has arrived, or
// the send was cancelled) and returns its recorded result. It also kicks
// off a check for any previously-unmatched reply that can now unblock a
// send further down the stack.
func (c *SyncContext) Pop() bool {
	c.mu.Lock()
	n := len(c.deserializers)
	pending := c.deserializers[n-1]
	c.deserializers = c.deserializers[:n-1]
	c.mu.Unlock()

	c.listenerRunner.PostTask("msgloop.SyncContext.Pop", c.receivedSyncMsgs.dispatchReplies)
	return pending.SendResult
}

// GetSendDoneEvent returns the done event for the currently innermost
// pending send on this context.
func (c *SyncContext) GetSendDoneEvent() *WaitableEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deserializers[len(c.deserializers)-1].DoneEvent
}

// GetDispatchEvent returns the thread-shared event signaled whenever an
// inbound sync message needs dispatching.
func (c *SyncContext) GetDispatchEvent() *WaitableEvent {
	return c.receivedSyncMsgs.dispatchEvent
}

// DispatchMessages drains whatever inbound sync requests are currently
// eligible given this context's dispatch group.
func (c *SyncContext) DispatchMessages() {
	c.receivedSyncMsgs.dispatchMessages(c)
}

// TryToUnblockListener checks whether msg is the reply matching the top
// of the deserializer stack; if so, it deserializes it, records the
// result, signals the done event, and reports true.
func (c *SyncContext) TryToUnblockListener(msg *Message) bool {
	c.mu.Lock()
	n := len(c.deserializers)
	if n == 0 || c.deserializers[n-1].RequestID != msg.RequestID {
		c.mu.Unlock()
		return false
	}
	pending := c.deserializers[n-1]
	if !msg.IsReplyError() {
		pending.SendResult = pending.Deserializer.Deserialize(msg)
	}
	c.mu.Unlock()

	pending.DoneEvent.Signal()
	return true
}

func (c *SyncContext) restrictDispatchGroup() int { return int(c.restrictGroup.Load()) }

func (c *SyncContext) setRestrictDispatchGroup(group int) { c.restrictGroup.Store(int64(group)) }

// OnMessageReceived is the inbound entry point, called for every message
// addressed to this channel.
func (c *SyncContext) OnMessageReceived(msg *Message) bool {
	if c.TryToUnblockListener(msg) {
		return true
	}
	if msg.IsReply() {
		c.receivedSyncMsgs.queueReply(msg, c)
		return true
	}
	if msg.ShouldUnblock() {
		c.receivedSyncMsgs.queueMessage(msg, c)
		return true
	}
	if c.listener != nil {
		return c.listener.OnMessageReceived(msg)
	}
	return false
}

// onDispatchMessage runs a queued inbound sync message through the
// listener. It does not send a reply itself.
func (c *SyncContext) onDispatchMessage(msg *Message) {
	if c.listener == nil {
		return
	}
	c.listener.OnMessageReceived(msg)
}

// CancelPendingSends signals every outstanding done event without setting
// a successful result, unblocking every Send currently waiting on this
// context.
func (c *SyncContext) CancelPendingSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.deserializers {
		p.DoneEvent.Signal()
	}
}

// OnChannelOpened starts watching shutdownEvent so a process-wide shutdown
// cancels any send blocked on this context.
func (c *SyncContext) OnChannelOpened() {
	c.shutdownWatcher.StartWatching(c.shutdownEvent, func(e *WaitableEvent) {
		c.CancelPendingSends()
	}, c.listenerRunner)
}

// OnChannelError and OnChannelClosed both cancel pending sends and stop
// watching for shutdown, matching the channel's two failure exits.
func (c *SyncContext) OnChannelError() {
	c.CancelPendingSends()
	c.shutdownWatcher.StopWatching()
}

func (c *SyncContext) OnChannelClosed() {
	c.CancelPendingSends()
	c.shutdownWatcher.StopWatching()
}

// clear is SyncContext::Clear: cancel everything still pending and drop
// this context's share of the thread-wide received-message queue.
func (c *SyncContext) clear() {
	c.CancelPendingSends()
	c.receivedSyncMsgs.removeContext(c)
	c.mu.Lock()
	c.rejectNewDeserializers = true
	c.mu.Unlock()
}

// onSendDoneSignaled is the nested send-done watcher's callback during
// waitForReplyWithNestedMessageLoop: a signaled shutdown event cancels the
// pending sends, while the context's own send-done event quits the nested
// RunLoop it is currently driving. The shutdown watcher started by
// OnChannelOpened uses its own callback, not this one.
func (c *SyncContext) onSendDoneSignaled(nested *RunLoop, e *WaitableEvent) {
	if e == c.shutdownEvent {
		c.CancelPendingSends()
		return
	}
	nested.Quit()
}
