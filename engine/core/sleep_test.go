package core

import (
	"testing"
	"time"
)

func TestSleepUntilPastDeadlineReturnsImmediately(t *testing.T) {
	begin := time.Now()
	SleepUntil(begin.Add(-time.Second))
	if elapsed := time.Since(begin); elapsed > 2*time.Millisecond {
		t.Errorf("SleepUntil on a past deadline took %v", elapsed)
	}
}

func TestSleepUntilHitsDeadline(t *testing.T) {
	deadline := time.Now().Add(5 * time.Millisecond)
	SleepUntil(deadline)

	now := time.Now()
	if now.Before(deadline) {
		t.Errorf("woke up %v before the deadline", deadline.Sub(now))
	}
	if late := now.Sub(deadline); late > 3*time.Millisecond {
		t.Errorf("overshot the deadline by %v", late)
	}
}

func TestSleepFor(t *testing.T) {
	begin := time.Now()
	SleepFor(3 * time.Millisecond)
	if elapsed := time.Since(begin); elapsed < 3*time.Millisecond {
		t.Errorf("SleepFor(3ms) returned after %v", elapsed)
	}
}
