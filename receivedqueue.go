package msgloop

import "sync"

// queuedSyncMsg pairs an inbound message with the SyncContext that owns
// it, for later dispatch or reply matching.
type queuedSyncMsg struct {
	msg *Message
	ctx *SyncContext
}

// ReceivedSyncMsgQueue is shared by every SyncChannel running on one
// listener goroutine -- not one per channel. While that thread is blocked
// in a Send, an inbound sync request arriving on a *different* SyncChannel
// on the same thread still needs to be dispatched reentrantly, so all
// channels on a thread park their queued requests and replies here.
//
// Grounded on original_source/win/src/cripc/ipc_sync_channel.cc's nested
// ReceivedSyncMsgQueue class (lazy thread-local instance, refcounted by
// listener_count_); the lazy-TLS-singleton idiom is replaced with an
// explicit registry keyed by goroutine id, since Go has no native TLS.
type ReceivedSyncMsgQueue struct {
	RefCountedThreadSafe

	listenerRunner TaskRunner
	dispatchEvent  *WaitableEvent

	mu              sync.Mutex
	messageQueue    []queuedSyncMsg
	receivedReplies []queuedSyncMsg
	taskPending     bool
	listenerCount   int

	stackMu            sync.Mutex
	topSendDoneWatcher *sendDoneWatch
}

// sendDoneWatch is one entry in the per-thread stack of active
// nested-message-loop send-done watches, kept so an outer nested Send's
// watch can be torn down while an inner one runs and precisely restored
// once the inner one completes.
type sendDoneWatch struct {
	watcher *WaitableEventWatcher
	event   *WaitableEvent
	cb      EventCallback
}

func (s *sendDoneWatch) start(runner TaskRunner) {
	s.watcher.StartWatching(s.event, s.cb, runner)
}

func (s *sendDoneWatch) stop() {
	s.watcher.StopWatching()
}

func (q *ReceivedSyncMsgQueue) Destroy() {}

var (
	recvQueueMu       sync.Mutex
	recvQueueByThread = map[uint64]*ReceivedSyncMsgQueue{}
)

// lookupOrCreateReceivedSyncMsgQueue returns the calling goroutine's
// ReceivedSyncMsgQueue, creating it on first use. Every SyncContext
// constructed on a given goroutine shares the same queue; each caller must
// eventually call removeContext (via SyncContext.clear) to drop its share.
func lookupOrCreateReceivedSyncMsgQueue(runner TaskRunner) *ReceivedSyncMsgQueue {
	id := currentGoroutineID()
	recvQueueMu.Lock()
	defer recvQueueMu.Unlock()
	q, ok := recvQueueByThread[id]
	if !ok {
		q = &ReceivedSyncMsgQueue{
			listenerRunner: runner,
			dispatchEvent:  NewWaitableEvent(true, false),
		}
		recvQueueByThread[id] = q
	}
	q.listenerCount++
	return q
}

func (q *ReceivedSyncMsgQueue) dropListener() {
	id := currentGoroutineID()
	recvQueueMu.Lock()
	q.listenerCount--
	if q.listenerCount == 0 {
		delete(recvQueueByThread, id)
	}
	recvQueueMu.Unlock()
}

// queueMessage records an inbound sync request that must be dispatched
// reentrantly, signals the dispatch event so a thread currently blocked in
// WaitMany notices it, and -- the first time since the last drain -- posts
// a task to the listener thread so it dispatches even if it isn't
// currently blocked in a Send.
func (q *ReceivedSyncMsgQueue) queueMessage(msg *Message, ctx *SyncContext) {
	q.mu.Lock()
	wasPending := q.taskPending
	q.taskPending = true
	q.messageQueue = append(q.messageQueue, queuedSyncMsg{msg: msg, ctx: ctx})
	q.mu.Unlock()

	q.dispatchEvent.Signal()
	if !wasPending {
		q.listenerRunner.PostTask("msgloop.ReceivedSyncMsgQueue.dispatch", func() {
			q.mu.Lock()
			q.taskPending = false
			q.mu.Unlock()
			ctx.DispatchMessages()
		})
	}
}

// queueReply parks a reply that arrived while it did not match the top of
// its context's deserializer stack (a nested Send further up the stack
// produced a different top in the meantime).
func (q *ReceivedSyncMsgQueue) queueReply(msg *Message, ctx *SyncContext) {
	q.mu.Lock()
	q.receivedReplies = append(q.receivedReplies, queuedSyncMsg{msg: msg, ctx: ctx})
	q.mu.Unlock()
}

// dispatchMessages drains messageQueue in order, skipping entries whose
// owning context's restrict-dispatch group does not match dispatching's,
// until none remain that are eligible right now.
func (q *ReceivedSyncMsgQueue) dispatchMessages(dispatching *SyncContext) {
	dispatchingGroup := dispatching.restrictDispatchGroup()
	for {
		var (
			next  queuedSyncMsg
			found bool
		)
		q.mu.Lock()
		for i, qm := range q.messageQueue {
			group := qm.ctx.restrictDispatchGroup()
			if group == DispatchGroupNone || group == dispatchingGroup {
				next = qm
				found = true
				q.messageQueue = append(q.messageQueue[:i], q.messageQueue[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		if !found {
			return
		}
		next.ctx.onDispatchMessage(next.msg)
	}
}

// dispatchReplies re-checks every parked reply against its context's
// current deserializer stack top, delivering (and removing) the first one
// that now unblocks its sender.
func (q *ReceivedSyncMsgQueue) dispatchReplies() {
	q.mu.Lock()
	replies := q.receivedReplies
	q.mu.Unlock()
	for i, qm := range replies {
		if qm.ctx.TryToUnblockListener(qm.msg) {
			q.mu.Lock()
			for j, cur := range q.receivedReplies {
				if cur == replies[i] {
					q.receivedReplies = append(q.receivedReplies[:j], q.receivedReplies[j+1:]...)
					break
				}
			}
			q.mu.Unlock()
			return
		}
	}
}

// removeContext drops ctx's queued entries and this caller's share of the
// queue, matching the channel-close / SyncContext.clear path.
func (q *ReceivedSyncMsgQueue) removeContext(ctx *SyncContext) {
	q.mu.Lock()
	filtered := q.messageQueue[:0]
	for _, qm := range q.messageQueue {
		if qm.ctx != ctx {
			filtered = append(filtered, qm)
		}
	}
	q.messageQueue = filtered
	q.mu.Unlock()
	q.dropListener()
}

// topSendDone returns the currently active nested-send watch for this
// thread, for the re-arm dance in SyncChannel.waitForReplyWithNestedMessageLoop.
func (q *ReceivedSyncMsgQueue) topSendDone() *sendDoneWatch {
	q.stackMu.Lock()
	defer q.stackMu.Unlock()
	return q.topSendDoneWatcher
}

func (q *ReceivedSyncMsgQueue) setTopSendDone(w *sendDoneWatch) {
	q.stackMu.Lock()
	q.topSendDoneWatcher = w
	q.stackMu.Unlock()
}
