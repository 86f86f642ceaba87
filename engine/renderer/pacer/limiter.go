package pacer

import (
	gosync "sync"
	"time"

	"github.com/spaghettifunk/prisma/engine/core"
)

// FpsLimiter stalls an application thread in order to maintain a given
// frame rate. It is typically used to keep a game's frame rate below the
// monitor's refresh rate when the pacing mode alone does not.
type FpsLimiter struct {
	mu gosync.Mutex

	targetInterval time.Duration
	nextFrame      time.Time
}

func NewFpsLimiter() *FpsLimiter {
	return &FpsLimiter{}
}

// SetTargetFrameRate installs the target frame rate. A rate of zero or
// below disables the limiter.
func (l *FpsLimiter) SetTargetFrameRate(frameRate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.targetInterval = 0
	if frameRate > 0.0 {
		l.targetInterval = time.Duration(float64(time.Second) / frameRate)
	}
	l.nextFrame = time.Time{}
}

// TargetInterval returns the configured minimum frame interval, zero
// when the limiter is disabled.
func (l *FpsLimiter) TargetInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetInterval
}

// Delay stalls the calling thread if the time since the last call is
// shorter than the target interval.
func (l *FpsLimiter) Delay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.targetInterval <= 0 {
		return
	}

	now := time.Now()

	if !l.nextFrame.IsZero() && now.Before(l.nextFrame) {
		core.SleepUntil(l.nextFrame)
		now = time.Now()
	}

	l.nextFrame = now.Add(l.targetInterval)
}
