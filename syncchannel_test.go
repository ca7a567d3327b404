package msgloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoSender answers every synchronous send synchronously and in-place,
// letting tests exercise the full SyncChannel round trip on a single
// goroutine without any real transport. deliver stands in for the
// external ChannelProxy's job of routing an inbound reply to whichever
// recipient (the channel's SyncContext, or a SyncMessageFilter) is
// waiting for it.
type echoSender struct {
	deliver func(reply *Message)
	reply   func(msg *Message) *Message

	asyncSent []*Message
}

func (s *echoSender) Send(msg *Message) bool {
	if !msg.IsSync() {
		s.asyncSent = append(s.asyncSent, msg)
		return true
	}
	if s.reply != nil {
		s.deliver(s.reply(msg))
	}
	return true
}

func TestSyncChannel_SendSyncRoundTrip(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	listener := &recordingListener{}
	sender := &echoSender{
		reply: func(msg *Message) *Message {
			return &Message{RequestID: msg.RequestID, Flags: MessageReply, Payload: append([]byte("echo:"), msg.Payload...)}
		},
	}

	channel := NewSyncChannelDeferred(listener, l.TaskRunner(), NewWaitableEvent(true, false))
	sender.deliver = channel.context.Get().OnMessageReceived
	channel.Init(sender)

	var got string
	d := DeserializerFunc(func(reply *Message) bool {
		got = string(reply.Payload)
		return true
	})
	sm := NewSyncMessage(1, 1, []byte("hi"), false, d)

	require.True(t, channel.SendSync(sm))
	assert.Equal(t, "echo:hi", got)
}

func TestSyncChannel_SendSyncReplyErrorFailsDeserialize(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	sender := &echoSender{
		reply: func(msg *Message) *Message {
			r := &Message{RequestID: msg.RequestID}
			r.SetReplyError()
			return r
		},
	}
	channel := NewSyncChannelDeferred(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	sender.deliver = channel.context.Get().OnMessageReceived
	channel.Init(sender)

	var deserializeCalled bool
	d := DeserializerFunc(func(*Message) bool { deserializeCalled = true; return true })
	sm := NewSyncMessage(1, 1, nil, false, d)

	assert.False(t, channel.SendSync(sm))
	assert.False(t, deserializeCalled)
}

func TestSyncChannel_SendSyncFailsAfterShutdown(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	shutdown := NewWaitableEvent(true, false)
	sender := &echoSender{}
	channel := NewSyncChannelDeferred(&recordingListener{}, l.TaskRunner(), shutdown)
	sender.deliver = channel.context.Get().OnMessageReceived
	channel.Init(sender)

	shutdown.Signal()
	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	assert.False(t, channel.SendSync(sm))
}

func TestSyncChannel_SendSyncUnblocksWhenShutdownSignaledWhileBlocked(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	shutdown := NewWaitableEvent(true, false)
	sender := &echoSender{} // never replies: SendSync would hang forever without the shutdown fix
	channel := NewSyncChannelDeferred(&recordingListener{}, l.TaskRunner(), shutdown)
	sender.deliver = channel.context.Get().OnMessageReceived
	channel.Init(sender)

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))

	done := make(chan bool, 1)
	go func() {
		done <- channel.SendSync(sm)
	}()

	// Give SendSync a chance to actually block in WaitMany before signaling
	// shutdown, so this exercises the race (not the already-signaled check
	// at SendSync's entry, already covered by
	// TestSyncChannel_SendSyncFailsAfterShutdown).
	time.Sleep(20 * time.Millisecond)
	shutdown.Signal()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("SendSync did not unblock after shutdown was signaled while it was blocked")
	}
}

func TestSyncChannel_AsyncSendDelegatesDirectly(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	sender := &echoSender{}
	channel := NewSyncChannel(&recordingListener{}, l.TaskRunner(), sender, NewWaitableEvent(true, false))
	sender.deliver = channel.context.Get().OnMessageReceived

	msg := &Message{RoutingID: 7}
	assert.True(t, channel.Send(msg))
	require.Len(t, sender.asyncSent, 1)
	assert.Same(t, msg, sender.asyncSent[0])
}

func TestSyncChannel_PreInitFiltersFlushOnInit(t *testing.T) {
	l := newBoundLoop(t)
	defer l.Destroy()

	channel := NewSyncChannelDeferred(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
	filter := channel.CreateSyncMessageFilter()

	sender := &echoSender{
		reply: func(msg *Message) *Message {
			return &Message{RequestID: msg.RequestID, Flags: MessageReply}
		},
	}
	// A filter's replies are routed to it directly by the (external)
	// ChannelProxy's filter chain, not through the channel's own
	// SyncContext -- simulate that delivery path here.
	sender.deliver = func(reply *Message) { filter.OnMessageReceived(reply) }
	channel.Init(sender)

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	assert.True(t, filter.Send(sm))
}

func TestSyncChannel_SendSyncWithNestedMessageLoop(t *testing.T) {
	// waitForReplyWithNestedMessageLoop needs CurrentMessageLoop() to
	// recover the loop bound to the calling goroutine, so both the bind
	// and the blocking SendSync call must happen on the same goroutine;
	// run the whole thing on its own goroutine with a safety timeout
	// rather than risk wedging the test runner's goroutine.
	done := make(chan bool, 1)
	go func() {
		l, err := NewMessageLoop()
		require.NoError(t, err)
		require.NoError(t, l.BindToCurrentThread())
		defer l.Destroy()

		sender := &echoSender{
			reply: func(msg *Message) *Message {
				return &Message{RequestID: msg.RequestID, Flags: MessageReply, Payload: []byte("pumped")}
			},
		}
		channel := NewSyncChannelDeferred(&recordingListener{}, l.TaskRunner(), NewWaitableEvent(true, false))
		sender.deliver = channel.context.Get().OnMessageReceived
		channel.Init(sender)

		var got string
		d := DeserializerFunc(func(reply *Message) bool {
			got = string(reply.Payload)
			return true
		})
		sm := NewSyncMessage(1, 1, nil, false, d).WithPumpMessages()

		ok := channel.SendSync(sm)
		assert.Equal(t, "pumped", got)
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("SendSync with PumpMessages did not complete")
	}
}
