// Package clock is the time port used by the refresh scheduler and the idle
// monitor. Production code uses the wall clock; tests drive a fake clock.
package clock

import (
	"time"

	k8sclock "k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"
)

// Timer is a one-shot timer returned by AfterFunc.
type Timer = k8sclock.Timer

// Clock provides the current time and one-shot callbacks.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Real returns the wall clock.
func Real() Clock {
	return k8sclock.RealClock{}
}

// Fake is a manually stepped clock. AfterFunc callbacks run on their own
// goroutine, as with the real clock, so they may re-arm timers or read the
// time without blocking Step.
type Fake struct {
	*testingclock.FakeClock
}

// NewFake returns a Fake set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{FakeClock: testingclock.NewFakeClock(t)}
}

// AfterFunc schedules f to run on a new goroutine once the clock has been
// stepped past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.FakeClock.AfterFunc(d, func() { go fn() })
}

// Stop stops t if it is non-nil. It is safe to call on an already-fired timer.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
