package core

import (
	"runtime"
	"time"
)

// SpinDuration is the tail of a SleepUntil interval that is busy-waited
// instead of handed to the OS scheduler. OS sleeps routinely overshoot by
// a scheduler quantum, which is far too coarse for frame pacing.
const SpinDuration = 500 * time.Microsecond

// SleepUntil blocks the calling goroutine until deadline. Most of the
// interval is spent in a regular OS sleep, the final SpinDuration is
// spun so the wakeup lands close to the deadline.
func SleepUntil(deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}

	if remaining > SpinDuration {
		time.Sleep(remaining - SpinDuration)
	}

	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// SleepFor is a convenience wrapper around SleepUntil.
func SleepFor(d time.Duration) {
	SleepUntil(time.Now().Add(d))
}
