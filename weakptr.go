package msgloop

import (
	"sync"
	"weak"
)

// WeakPtrFactory produces WeakPtr values that observe, but do not own, an
// object's lifetime. All weak pointers from one factory are invalidated
// together by InvalidateWeakPtrs (typically from the owning object's
// destructor), making lifetime violations fail fast instead of racing with
// the garbage collector.
//
// A WeakPtrFactory must be created and invalidated from one goroutine, the
// "owner sequence" (usually the loop thread) -- the same constraint
// Chromium's base::WeakPtrFactory documents. WeakPtr.Get is safe to call
// from any goroutine; it only ever observes the flag and the weak.Pointer,
// never mutates factory state.
//
// Grounded on the eventloop package's registry, which pairs Go's weak
// package with explicit liveness bookkeeping (there, a ring buffer of
// promise IDs; here, a single shared flag per factory) rather than relying
// on weak.Pointer's GC-driven nil-ing alone -- a factory's pointers need to
// go invalid the instant the owner decides to tear down, not whenever the
// GC next runs.
type WeakPtrFactory[T any] struct {
	flag *weakFlag
	self weak.Pointer[T]
}

type weakFlag struct {
	mu    sync.Mutex
	valid bool
}

// NewWeakPtrFactory binds a factory to obj. obj must outlive the factory
// call to InvalidateWeakPtrs.
func NewWeakPtrFactory[T any](obj *T) *WeakPtrFactory[T] {
	return &WeakPtrFactory[T]{
		flag: &weakFlag{valid: true},
		self: weak.Make(obj),
	}
}

// GetWeakPtr returns a new weak pointer to the factory's object.
func (f *WeakPtrFactory[T]) GetWeakPtr() WeakPtr[T] {
	return WeakPtr[T]{flag: f.flag, ptr: f.self}
}

// InvalidateWeakPtrs immediately invalidates every WeakPtr issued by this
// factory; subsequent calls to Get on any of them return (nil, false) even
// if the underlying object is still reachable. Idempotent.
func (f *WeakPtrFactory[T]) InvalidateWeakPtrs() {
	f.flag.mu.Lock()
	f.flag.valid = false
	f.flag.mu.Unlock()
}

// HasWeakPtrs reports whether this factory's pointers are still valid.
func (f *WeakPtrFactory[T]) HasWeakPtrs() bool {
	f.flag.mu.Lock()
	defer f.flag.mu.Unlock()
	return f.flag.valid
}

// WeakPtr is a non-owning reference produced by WeakPtrFactory. The zero
// WeakPtr is always invalid.
type WeakPtr[T any] struct {
	flag *weakFlag
	ptr  weak.Pointer[T]
}

// Get dereferences the weak pointer. It returns (nil, false) if the
// factory invalidated its pointers, or if the object has since been
// collected.
func (w WeakPtr[T]) Get() (*T, bool) {
	if w.flag == nil {
		return nil, false
	}
	w.flag.mu.Lock()
	valid := w.flag.valid
	w.flag.mu.Unlock()
	if !valid {
		return nil, false
	}
	v := w.ptr.Value()
	if v == nil {
		return nil, false
	}
	return v, true
}
