package msgloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceivedSyncMsgQueue_LookupSharesAcrossListenersOnSameGoroutine(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	q1 := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q1.dropListener()
	q2 := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q2.dropListener()

	assert.Same(t, q1, q2)
}

func TestReceivedSyncMsgQueue_DispatchMessagesRespectsRestrictGroup(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	q := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q.dropListener()

	listenerA := &recordingListener{}
	ctxA := newSyncContext(listenerA, l.TaskRunner(), NewWaitableEvent(true, false))
	ctxA.receivedSyncMsgs = q
	defer ctxA.clear()
	ctxA.setRestrictDispatchGroup(1)

	listenerB := &recordingListener{}
	ctxB := newSyncContext(listenerB, l.TaskRunner(), NewWaitableEvent(true, false))
	ctxB.receivedSyncMsgs = q
	defer ctxB.clear()
	ctxB.setRestrictDispatchGroup(2)

	msgA := &Message{RequestID: 1}
	msgB := &Message{RequestID: 2}
	q.queueMessage(msgA, ctxA)
	q.queueMessage(msgB, ctxB)

	// Dispatching from group 1 should only run ctxA's queued message.
	q.dispatchMessages(ctxA)
	require.Len(t, listenerA.received, 1)
	assert.Same(t, msgA, listenerA.received[0])
	assert.Empty(t, listenerB.received)

	// Dispatching from group 2 now finds ctxB's message.
	q.dispatchMessages(ctxB)
	require.Len(t, listenerB.received, 1)
	assert.Same(t, msgB, listenerB.received[0])
}

func TestReceivedSyncMsgQueue_DispatchMessagesNoneGroupAlwaysEligible(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	q := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q.dropListener()

	listener := &recordingListener{}
	ctx := newSyncContext(listener, l.TaskRunner(), NewWaitableEvent(true, false))
	ctx.receivedSyncMsgs = q
	defer ctx.clear()

	other := &recordingListener{}
	otherCtx := newSyncContext(other, l.TaskRunner(), NewWaitableEvent(true, false))
	otherCtx.receivedSyncMsgs = q
	defer otherCtx.clear()
	otherCtx.setRestrictDispatchGroup(5)

	msg := &Message{RequestID: 1}
	q.queueMessage(msg, ctx)

	// DispatchGroupNone (default) is eligible regardless of the dispatching
	// context's own group.
	otherCtx.setRestrictDispatchGroup(5)
	q.dispatchMessages(otherCtx)
	require.Len(t, listener.received, 1)
}

func TestReceivedSyncMsgQueue_DispatchRepliesUnblocksMatchingSend(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	q := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q.dropListener()

	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	ctx.receivedSyncMsgs = q
	defer ctx.clear()

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	require.True(t, ctx.Push(sm))

	reply := &Message{RequestID: sm.RequestID, Flags: MessageReply}
	q.queueReply(reply, ctx)

	q.dispatchReplies()
	assert.True(t, ctx.GetSendDoneEvent().IsSignaled())
}

func TestReceivedSyncMsgQueue_RemoveContextDropsQueuedMessages(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	listener := &recordingListener{}
	ctx := newSyncContext(listener, l.TaskRunner(), NewWaitableEvent(true, false))
	q := ctx.receivedSyncMsgs

	q.queueMessage(&Message{RequestID: 1}, ctx)
	q.removeContext(ctx)
	assert.Empty(t, q.messageQueue)

	// removeContext drops this caller's sole listenerCount share; a fresh
	// lookup on the same goroutine now gets a brand new queue.
	q2 := lookupOrCreateReceivedSyncMsgQueue(l.TaskRunner())
	defer q2.dropListener()
	assert.NotSame(t, q, q2)
}
