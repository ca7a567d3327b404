//go:build linux

package msgloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// setTimerSlack applies the thread's requested timer coalescing slack via
// prctl(PR_SET_TIMERSLACK), matching Thread::SetTimerSlack's Linux
// implementation. It must be called from the goroutine locked to the OS
// thread it should affect.
func setTimerSlack(d time.Duration) {
	if d <= 0 {
		return
	}
	_ = unix.Prctl(unix.PR_SET_TIMERSLACK, uintptr(d.Nanoseconds()), 0, 0, 0)
}
