package msgloop

import (
	"sync/atomic"
)

// RefCounted is a non-thread-safe intrusive reference count, for objects
// that are always AddRef'd/Release'd from a single goroutine (typically the
// loop thread). Embed it by value and call AddRef/Release directly, or use
// Ref[T] to manage it automatically.
type RefCounted struct {
	count int32
}

// AddRef increments the reference count.
func (r *RefCounted) AddRef() { r.count++ }

// Release decrements the reference count and reports whether it reached
// zero (the caller should destroy the object in that case).
func (r *RefCounted) Release() bool {
	r.count--
	return r.count == 0
}

// HasOneRef reports whether this is the only outstanding reference.
func (r *RefCounted) HasOneRef() bool { return r.count == 1 }

// RefCountedThreadSafe is the atomic counterpart of RefCounted, for objects
// shared across the loop thread and the IO thread (for example a
// WaitableEventWatcher's core, or a SyncContext).
type RefCountedThreadSafe struct {
	count atomic.Int32
}

// AddRef atomically increments the reference count.
func (r *RefCountedThreadSafe) AddRef() { r.count.Add(1) }

// Release atomically decrements the reference count and reports whether it
// reached zero.
func (r *RefCountedThreadSafe) Release() bool {
	return r.count.Add(-1) == 0
}

// HasOneRef reports whether this is the only outstanding reference.
func (r *RefCountedThreadSafe) HasOneRef() bool { return r.count.Load() == 1 }

// refCountable is implemented by both RefCounted and RefCountedThreadSafe.
type refCountable interface {
	AddRef()
	Release() bool
}

// Ref is a generic smart handle over a refcounted object. T must embed
// RefCounted or RefCountedThreadSafe and implement refCountable via that
// embedding, plus an Destroy method invoked when the last Ref is released.
//
// Ref is itself NOT safe for concurrent use: copy or assign it from only
// one goroutine at a time, the same discipline C++'s scoped_refptr assumes.
// Use RefCountedThreadSafe when the underlying object's lifetime is driven
// from multiple goroutines, and only ever construct/destroy each Ref value
// from a single goroutine.
type Ref[T interface {
	refCountable
	Destroyable
}] struct {
	ptr T
}

// Destroyable is implemented by objects manageable via Ref[T]; Destroy is
// invoked exactly once, when the last outstanding Ref releases the object.
type Destroyable interface {
	Destroy()
}

// AdoptRef wraps an object whose refcount the caller has already brought
// to 1, without an extra AddRef. A zero-value RefCounted starts at 0, so a
// freshly constructed object needs one AddRef before it is adopted.
func AdoptRef[T interface {
	refCountable
	Destroyable
}](obj T) Ref[T] {
	return Ref[T]{ptr: obj}
}

// NewRef wraps an existing object, incrementing its reference count.
func NewRef[T interface {
	refCountable
	Destroyable
}](obj T) Ref[T] {
	obj.AddRef()
	return Ref[T]{ptr: obj}
}

// Get returns the underlying pointer. The zero Ref returns the zero value
// of T.
func (r Ref[T]) Get() T { return r.ptr }

// Valid reports whether this Ref holds a non-nil pointer. Callers that use
// a pointer type for T should prefer this over comparing Get() to nil
// directly, since T is not statically known to be comparable to nil here.
func (r Ref[T]) Valid() bool {
	var zero T
	return any(r.ptr) != any(zero)
}

// Assign replaces the held pointer with other, releasing (and possibly
// destroying) the previously held object and AddRef'ing other. Safe for
// self-assignment.
func (r *Ref[T]) Assign(other T) {
	if any(other) != any(r.ptr) {
		other.AddRef()
	}
	prev := r.ptr
	r.ptr = other
	if any(prev) != any(other) && any(prev) != any(*new(T)) {
		if prev.Release() {
			prev.Destroy()
		}
	}
}

// Release drops this Ref's ownership, destroying the underlying object if
// this was the last reference. After Release, the Ref is the zero value.
func (r *Ref[T]) Release() {
	if !r.Valid() {
		return
	}
	obj := r.ptr
	var zero T
	r.ptr = zero
	if obj.Release() {
		obj.Destroy()
	}
}
