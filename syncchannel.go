package msgloop

import "sync"

// SyncChannel is a bidirectional message channel layered on top of a
// MessageLoop that lets a thread send a request and block for its reply
// while still dispatching nested incoming synchronous requests -- a
// deadlock-avoidance pattern that motivates the rest of this package's
// machinery.
//
// Grounded on original_source/win/src/cripc/ipc_sync_channel.h/.cc, with
// the transport (ChannelProxy/Channel) left as the external Sender
// interface this package assumes.
type SyncChannel struct {
	context Ref[*SyncContext]

	listenerRunner TaskRunner

	dispatchWatcher WaitableEventWatcher

	mu             sync.Mutex
	initialized    bool
	preInitFilters []*SyncMessageFilter
}

// NewSyncChannel creates and fully initializes a sync channel bound to
// sender, matching the single-step SyncChannel::Create/Init pair used
// when the underlying transport is already available.
func NewSyncChannel(listener Listener, runner TaskRunner, sender Sender, shutdownEvent *WaitableEvent) *SyncChannel {
	c := NewSyncChannelDeferred(listener, runner, shutdownEvent)
	c.Init(sender)
	return c
}

// NewSyncChannelDeferred creates an uninitialized sync channel. Call Init
// once the transport is ready; this two-step setup allows message filters
// to be added via CreateSyncMessageFilter before any message is sent or
// received.
func NewSyncChannelDeferred(listener Listener, runner TaskRunner, shutdownEvent *WaitableEvent) *SyncChannel {
	ctx := newSyncContext(listener, runner, shutdownEvent)
	return &SyncChannel{
		context:        NewRef[*SyncContext](ctx),
		listenerRunner: runner,
	}
}

// Init binds the channel to its transport, starts watching for shutdown
// and inbound-dispatch signals, and flushes any filters created before
// Init was called.
func (c *SyncChannel) Init(sender Sender) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	filters := c.preInitFilters
	c.preInitFilters = nil
	c.mu.Unlock()

	ctx := c.context.Get()
	ctx.sender = sender
	ctx.OnChannelOpened()
	c.startWatching()

	for _, f := range filters {
		f.setSender(sender)
	}
}

func (c *SyncChannel) startWatching() {
	ctx := c.context.Get()
	var cb EventCallback
	cb = func(e *WaitableEvent) {
		// The dispatch might end up closing this channel, so re-register
		// the watch before running any listener code (mirrors the original
		// comment in SyncChannel::OnWaitableEventSignaled).
		e.Reset()
		c.dispatchWatcher.StartWatching(e, cb, c.listenerRunner)
		ctx.DispatchMessages()
	}
	c.dispatchWatcher.StartWatching(ctx.GetDispatchEvent(), cb, c.listenerRunner)
}

// SetRestrictDispatchChannelGroup restricts reentrant dispatch of this
// channel's incoming messages to sends happening on channels in the same
// group (DispatchGroupNone, the default, allows dispatch during any
// channel's blocking send).
func (c *SyncChannel) SetRestrictDispatchChannelGroup(group int) {
	c.context.Get().setRestrictDispatchGroup(group)
}

// CreateSyncMessageFilter creates a filter usable from any goroutine to
// send sync messages on this channel, queuing it until Init if the
// channel is not yet initialized.
func (c *SyncChannel) CreateSyncMessageFilter() *SyncMessageFilter {
	ctx := c.context.Get()
	filter := newSyncMessageFilter(ctx.shutdownEvent)

	c.mu.Lock()
	if c.initialized {
		filter.setSender(ctx.sender)
	} else {
		c.preInitFilters = append(c.preInitFilters, filter)
	}
	c.mu.Unlock()

	return filter
}

// Send delivers an asynchronous (fire-and-forget) message.
func (c *SyncChannel) Send(msg *Message) bool {
	return c.context.Get().sender.Send(msg)
}

// SendSync sends sm and blocks the calling goroutine until a matching
// reply arrives, the channel shuts down, or the channel errors -- all the
// while still dispatching reentrant inbound sync requests so the remote
// side can answer them.
func (c *SyncChannel) SendSync(sm *SyncMessage) bool {
	ctx := c.context.Get()
	if ctx.shutdownEvent.IsSignaled() {
		return false
	}
	if !ctx.Push(sm) {
		return false
	}

	ctx.sender.Send(&sm.Message)
	c.waitForReply(ctx, sm.PumpMessages)

	return ctx.Pop()
}

// waitForReply blocks until ctx's innermost send completes, dispatching
// any reentrant inbound sync requests in the meantime. If pumpMessages is
// set, it instead runs an actual nested RunLoop so arbitrary posted tasks
// (not just reentrant sync dispatch) continue to run while blocked -- this
// package's generalization of Chromium's Windows UI-message-pump request,
// since there is no native UI message queue to pump here.
func (c *SyncChannel) waitForReply(ctx *SyncContext, pumpMessages bool) {
	ctx.DispatchMessages()
	if pumpMessages {
		c.waitForReplyWithNestedMessageLoop(ctx)
		return
	}
	c.waitForReplyDirect(ctx)
}

// waitForReplyDirect blocks on ctx's dispatch/done/shutdown events directly,
// with no nested MessageLoop driving it. The shutdown event is included in
// the wait set itself (rather than relying on a watcher's callback being
// posted to the listener thread, which is exactly the thread parked here
// and so could never run it): that is the only way a SendSync blocked on
// this path actually unblocks when the channel shuts down out from under
// it, matching the three-event wait described in
// original_source/win/src/cripc/ipc_sync_channel.cc's WaitForReply.
func (c *SyncChannel) waitForReplyDirect(ctx *SyncContext) {
	for {
		idx := WaitMany([]*WaitableEvent{ctx.GetDispatchEvent(), ctx.GetSendDoneEvent(), ctx.shutdownEvent})
		switch idx {
		case 0:
			ctx.GetDispatchEvent().Reset()
			ctx.DispatchMessages()
		case 2:
			logf(LevelWarn, "sync", "send aborted by shutdown", ErrSendAborted, nil)
			ctx.CancelPendingSends()
			return
		default:
			return
		}
	}
}

// waitForReplyWithNestedMessageLoop runs a nested RunLoop on the current
// goroutine's MessageLoop until ctx's send-done event fires, maintaining
// the per-thread send-done-watcher stack so that an outer nested send
// (if any) resumes watching its own done event once this inner one
// completes, in the same order their calls nested in.
func (c *SyncChannel) waitForReplyWithNestedMessageLoop(ctx *SyncContext) {
	loop, ok := CurrentMessageLoop()
	if !ok {
		// No bound loop on this goroutine to nest into; fall back to the
		// direct wait, which still makes progress via reentrant dispatch
		// and still unblocks on shutdown.
		c.waitForReplyDirect(ctx)
		return
	}

	queue := ctx.receivedSyncMsgs

	old := queue.topSendDone()
	if old != nil {
		old.stop()
	}

	nested := NewRunLoop(loop)
	entry := &sendDoneWatch{
		watcher: new(WaitableEventWatcher),
		event:   ctx.GetSendDoneEvent(),
		cb: func(e *WaitableEvent) {
			ctx.onSendDoneSignaled(nested, e)
		},
	}
	queue.setTopSendDone(entry)
	entry.start(c.listenerRunner)

	nested.Run()

	queue.setTopSendDone(old)
	if old != nil {
		old.start(c.listenerRunner)
	}
}
