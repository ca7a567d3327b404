// Package msgloop implements a single-threaded, cooperatively scheduled
// message loop, task runner, and synchronous IPC channel stack, modeled on
// Chromium's base/message_loop and ipc/ipc_sync_channel machinery.
//
// # Core pieces
//
// A [MessageLoop] is bound to exactly one goroutine (its "loop thread") and
// drains an [IncomingTaskQueue] of posted work, a delayed-task heap, and a
// deferred (non-nestable) queue, in the order DoWork / DoDelayedWork /
// DoIdleWork, via a [MessagePump]. Work is posted through a [TaskRunner],
// which is safe to use from any goroutine. A [RunLoop] nests on top of a
// running MessageLoop to implement Run/RunUntilIdle/Quit/QuitWhenIdle
// semantics, including quitting from a posted closure captured by weak
// pointer ([RunLoop.QuitClosure]).
//
// [WaitableEvent] and [WaitableEventWatcher] provide cross-thread signaling:
// a manual- or auto-reset event any thread can Wait/TimedWait on, and an
// asynchronous watcher that invokes a callback on a target TaskRunner when
// the event becomes signaled, without blocking that thread.
//
// [SyncChannel] layers synchronous (blocking) IPC semantics onto an
// underlying channel proxy: Send blocks the caller until a reply arrives,
// while still allowing re-entrant dispatch of other sync messages so that
// two threads sending to each other don't deadlock. This is the subtlest
// part of the package; see [SyncChannel.SendSync] for the nested dispatch
// path.
//
// [RefCounted]/[Ref] and [WeakPtr] provide the ownership primitives the rest
// of the package is built on: intrusive reference counting for objects that
// must outlive a single stack frame across threads (such as a watcher's
// internal core), and weak back-references for objects that observe but do
// not own another object's lifetime (such as a RunLoop's quit closure).
//
// # Thread safety
//
// TaskRunner.PostTask and friends, WaitableEvent.Signal/Wait, and
// SyncChannel.Send are all safe to call from any goroutine. MessageLoop.Run,
// RunLoop.Run, and the body of posted tasks are expected to execute only on
// the loop's own goroutine; calling Run on it from any other goroutine
// returns [ErrReentrantRun] rather than silently corrupting state.
//
// # What this package does not do
//
// It does not implement a wire format, a transport, or process/handle
// management: [Sender] is an interface the caller supplies. It does
// not implement string/path/file/logging/random utilities, network address
// types, or CRC/digest/base64 codecs; those are assumed to be supplied by
// the caller or the standard library. See the package's design notes for
// the full list.
package msgloop
