//go:build !linux

package msgloop

import "time"

// setTimerSlack is a no-op on platforms without a portable equivalent of
// Linux's PR_SET_TIMERSLACK; exact OS timer-coalescing behavior is treated
// as inherently non-portable.
func setTimerSlack(time.Duration) {}
