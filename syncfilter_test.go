package msgloop

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMessageFilter_SendBeforeSenderSetBlocksThenUnblocks(t *testing.T) {
	filter := newSyncMessageFilter(NewWaitableEvent(true, false))

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(reply *Message) bool { return true }))

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- filter.Send(sm)
	}()

	// Give the Send call a chance to park its pending entry before a
	// sender ever arrives, then deliver the reply directly (standing in
	// for the channel's deferred Init + ChannelProxy's filter dispatch).
	var pending *PendingSyncMsg
	for pending == nil {
		filter.mu.Lock()
		if len(filter.pending) > 0 {
			pending = filter.pending[0]
		}
		filter.mu.Unlock()
		runtime.Gosched()
	}

	reply := &Message{RequestID: sm.RequestID, Flags: MessageReply}
	assert.True(t, filter.OnMessageReceived(reply))
	assert.True(t, <-resultCh)
}

func TestSyncMessageFilter_SignalAllEventsUnblocksWithoutResult(t *testing.T) {
	filter := newSyncMessageFilter(NewWaitableEvent(true, false))

	sm := NewSyncMessage(1, 1, nil, false, DeserializerFunc(func(*Message) bool { return true }))
	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- filter.Send(sm)
	}()

	for {
		filter.mu.Lock()
		n := len(filter.pending)
		filter.mu.Unlock()
		if n > 0 {
			break
		}
		runtime.Gosched()
	}

	filter.SignalAllEvents()
	assert.False(t, <-resultCh)
}

func TestSyncMessageFilter_OnMessageReceivedIgnoresUnknownRequestID(t *testing.T) {
	filter := newSyncMessageFilter(NewWaitableEvent(true, false))
	assert.False(t, filter.OnMessageReceived(&Message{RequestID: 12345}))
}
