package ordering

import "time"

// StopFunc cancels a scheduled callback. It returns false if the callback
// already fired or was already stopped.
type StopFunc = func() bool

// Scheduler schedules callbacks after a delay.
//
// Implemented by SystemScheduler (production) and testutil.ManualClock
// (tests), which fires callbacks only when the test advances its clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) StopFunc
}

// SystemScheduler schedules callbacks on the runtime timer wheel.
//
// Thread-safety: SystemScheduler is stateless and safe for concurrent use.
// Callbacks run on their own goroutine.
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) StopFunc {
	return time.AfterFunc(d, f).Stop
}
