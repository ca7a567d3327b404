package msgloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	received []*Message
	reply    func(msg *Message) bool
}

func (l *recordingListener) OnMessageReceived(msg *Message) bool {
	l.received = append(l.received, msg)
	if l.reply != nil {
		return l.reply(msg)
	}
	return true
}

func TestSyncContext_PushPopTracksDeserializerStack(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	shutdown := NewWaitableEvent(true, false)
	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), shutdown)
	defer ctx.clear()

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	require.True(t, ctx.Push(sm))

	done := ctx.GetSendDoneEvent()
	require.NotNil(t, done)

	reply := &Message{RequestID: sm.RequestID}
	assert.True(t, ctx.TryToUnblockListener(reply))
	assert.True(t, done.IsSignaled())

	assert.True(t, ctx.Pop())
}

func TestSyncContext_TryToUnblockListenerRejectsMismatchedRequestID(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	defer ctx.clear()

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	require.True(t, ctx.Push(sm))

	assert.False(t, ctx.TryToUnblockListener(&Message{RequestID: sm.RequestID + 1}))
}

func TestSyncContext_OnMessageReceived_ReplyMatchesTop(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	listener := &recordingListener{}
	ctx := newSyncContext(listener, l.TaskRunner(), NewWaitableEvent(true, false))
	defer ctx.clear()

	var deserialized bool
	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool {
		deserialized = true
		return true
	}))
	require.True(t, ctx.Push(sm))

	reply := &Message{RequestID: sm.RequestID, Flags: MessageReply}
	assert.True(t, ctx.OnMessageReceived(reply))
	assert.True(t, deserialized)
	assert.True(t, ctx.GetSendDoneEvent().IsSignaled())
	assert.Empty(t, listener.received)
}

func TestSyncContext_OnMessageReceived_FallsThroughToListener(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	listener := &recordingListener{}
	ctx := newSyncContext(listener, l.TaskRunner(), NewWaitableEvent(true, false))
	defer ctx.clear()

	msg := &Message{RequestID: 99}
	assert.True(t, ctx.OnMessageReceived(msg))
	require.Len(t, listener.received, 1)
	assert.Same(t, msg, listener.received[0])
}

func TestSyncContext_CancelPendingSendsUnblocksAllLevels(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	defer ctx.clear()

	outer := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	inner := NewSyncMessage(1, 2, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	require.True(t, ctx.Push(outer))
	require.True(t, ctx.Push(inner))

	ctx.CancelPendingSends()

	assert.True(t, ctx.GetSendDoneEvent().IsSignaled())
	assert.True(t, ctx.deserializers[0].DoneEvent.IsSignaled())
}

func TestSyncContext_RestrictDispatchGroup(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	defer ctx.clear()

	assert.Equal(t, DispatchGroupNone, ctx.restrictDispatchGroup())
	ctx.setRestrictDispatchGroup(7)
	assert.Equal(t, 7, ctx.restrictDispatchGroup())
}

func TestSyncContext_ClearRejectsFurtherPushes(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	ctx.clear()

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	assert.False(t, ctx.Push(sm))
}

func TestSyncContext_ShutdownEventCancelsPendingSends(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	shutdown := NewWaitableEvent(true, false)
	ctx := newSyncContext(&recordingListener{}, l.TaskRunner(), shutdown)
	defer ctx.clear()

	ctx.OnChannelOpened()

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	require.True(t, ctx.Push(sm))
	done := ctx.GetSendDoneEvent()

	shutdown.Signal()

	// The shutdown watcher's callback runs asynchronously on the loop
	// thread once its background waiter goroutine observes the signal;
	// poll with bounded RunUntilIdle passes until it has.
	for i := 0; i < 100 && !done.IsSignaled(); i++ {
		rl := NewRunLoop(l)
		require.NoError(t, rl.RunUntilIdle())
		if !done.IsSignaled() {
			time.Sleep(time.Millisecond)
		}
	}

	assert.True(t, done.IsSignaled())
}
