//go:build linux

package msgloop

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePumpIO_RegisterFDDeliversReadEvent(t *testing.T) {
	pump, err := NewMessagePumpIO()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	gotEvents := make(chan IOEvents, 1)
	require.NoError(t, pump.RegisterFD(int(r.Fd()), EventRead, func(e IOEvents) {
		gotEvents <- e
		pump.Quit()
	}))

	done := make(chan struct{})
	go func() {
		pump.Run(alwaysIdleDelegate{})
		close(done)
	}()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case e := <-gotEvents:
		assert.NotZero(t, e&EventRead)
	case <-time.After(2 * time.Second):
		t.Fatal("RegisterFD callback never fired")
	}
	<-done
}

func TestMessagePumpIO_RegisterFDRejectsDuplicate(t *testing.T) {
	pump, err := NewMessagePumpIO()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, pump.RegisterFD(int(r.Fd()), EventRead, func(IOEvents) {}))
	assert.ErrorIs(t, pump.RegisterFD(int(r.Fd()), EventRead, func(IOEvents) {}), ErrFDAlreadyRegistered)
}

func TestMessagePumpIO_ModifyAndUnregisterUnknownFDFail(t *testing.T) {
	pump, err := NewMessagePumpIO()
	require.NoError(t, err)

	assert.ErrorIs(t, pump.ModifyFD(99999, EventRead), ErrFDNotRegistered)
	assert.ErrorIs(t, pump.UnregisterFD(99999), ErrFDNotRegistered)
}

func TestMessagePumpIO_ScheduleWorkWakesPollWithoutRegisteredFD(t *testing.T) {
	pump, err := NewMessagePumpIO()
	require.NoError(t, err)

	var mu sync.Mutex
	var workCalls int
	del := &ioWorkCountingDelegate{onWork: func() {
		mu.Lock()
		workCalls++
		mu.Unlock()
	}}

	done := make(chan struct{})
	go func() {
		pump.Run(del)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	before := workCalls
	mu.Unlock()

	pump.ScheduleWork()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return workCalls > before
	}, time.Second, time.Millisecond)

	pump.Quit()
	<-done
}

type alwaysIdleDelegate struct{}

func (alwaysIdleDelegate) DoWork() bool                      { return false }
func (alwaysIdleDelegate) DoDelayedWork(next *time.Time) bool { return false }
func (alwaysIdleDelegate) DoIdleWork() bool                   { return false }

type ioWorkCountingDelegate struct {
	onWork func()
}

func (d *ioWorkCountingDelegate) DoWork() bool {
	d.onWork()
	return false
}
func (*ioWorkCountingDelegate) DoDelayedWork(next *time.Time) bool { return false }
func (*ioWorkCountingDelegate) DoIdleWork() bool                   { return false }
