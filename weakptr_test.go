package msgloop

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weakPtrTarget struct{ n int }

func TestWeakPtrFactory_GetReturnsLiveObject(t *testing.T) {
	obj := &weakPtrTarget{n: 42}
	f := NewWeakPtrFactory(obj)

	wp := f.GetWeakPtr()
	got, ok := wp.Get()
	require.True(t, ok)
	assert.Equal(t, 42, got.n)

	runtime.KeepAlive(obj)
}

func TestWeakPtrFactory_InvalidateWeakPtrsBlocksFurtherGets(t *testing.T) {
	obj := &weakPtrTarget{n: 1}
	f := NewWeakPtrFactory(obj)
	wp := f.GetWeakPtr()

	assert.True(t, f.HasWeakPtrs())
	f.InvalidateWeakPtrs()
	assert.False(t, f.HasWeakPtrs())

	_, ok := wp.Get()
	assert.False(t, ok)

	runtime.KeepAlive(obj)
}

func TestWeakPtrFactory_InvalidateIsIdempotent(t *testing.T) {
	obj := &weakPtrTarget{}
	f := NewWeakPtrFactory(obj)
	f.InvalidateWeakPtrs()
	f.InvalidateWeakPtrs()
	assert.False(t, f.HasWeakPtrs())
	runtime.KeepAlive(obj)
}

func TestWeakPtr_ZeroValueIsAlwaysInvalid(t *testing.T) {
	var wp WeakPtr[weakPtrTarget]
	_, ok := wp.Get()
	assert.False(t, ok)
}

func TestWeakPtrFactory_SharesInvalidationAcrossIssuedPointers(t *testing.T) {
	obj := &weakPtrTarget{n: 7}
	f := NewWeakPtrFactory(obj)
	wp1 := f.GetWeakPtr()
	wp2 := f.GetWeakPtr()

	f.InvalidateWeakPtrs()

	_, ok1 := wp1.Get()
	_, ok2 := wp2.Get()
	assert.False(t, ok1)
	assert.False(t, ok2)

	runtime.KeepAlive(obj)
}
