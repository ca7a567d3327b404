package msgloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThread_StartRunsPostedTasksAndStop(t *testing.T) {
	th := NewThread("worker")
	require.NoError(t, th.Start())

	done := make(chan struct{})
	ok := th.TaskRunner().PostTask("test", func() {
		close(done)
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task posted to Thread never ran")
	}

	th.Stop()
	assert.False(t, th.TaskRunner().PostTask("late", func() {}))
}

func TestThread_StartTwiceFails(t *testing.T) {
	th := NewThread("worker")
	require.NoError(t, th.Start())
	defer th.Stop()

	assert.ErrorIs(t, th.Start(), ErrLoopAlreadyRunning)
}

func TestThread_StopIsIdempotent(t *testing.T) {
	th := NewThread("worker")
	require.NoError(t, th.Start())

	th.Stop()
	th.Stop()
}

func TestThread_StopSoonReturnsBeforeBlockingCaller(t *testing.T) {
	th := NewThread("worker")
	require.NoError(t, th.Start())

	select {
	case <-th.StopSoon():
	case <-time.After(time.Second):
		t.Fatal("thread did not stop")
	}
}

func TestThread_MessageLoopIsUsableForChannelConstruction(t *testing.T) {
	th := NewThread("worker")
	require.NoError(t, th.Start())
	defer th.Stop()

	assert.NotNil(t, th.MessageLoop())
}

func TestThread_WithPumpTypeIO(t *testing.T) {
	th := NewThread("io-worker")
	err := th.Start(WithThreadMessageLoopOptions(WithPumpType(PumpTypeIO)))
	if err != nil {
		// IO pump construction can fail on platforms without epoll/kqueue
		// support; anything else is an unexpected failure.
		assert.ErrorIs(t, err, ErrIOPumpUnsupported)
		return
	}
	defer th.Stop()
	assert.NotNil(t, th.MessageLoop().PumpIO())
}
