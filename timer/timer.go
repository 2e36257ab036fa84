// Package timer provides one-shot timers that can be replaced in tests.
package timer

import "time"

// Scheduler schedules one-shot callbacks.
type Scheduler interface {
	// AfterFunc arranges for fn to be called in its own goroutine after d has
	// elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending callback created by a Scheduler.
type Timer interface {
	// Stop prevents the callback from being called.
	//
	// It returns true if the call stops the timer, or false if the callback
	// has already been called or the timer has already been stopped.
	Stop() bool
}

// System is a Scheduler that uses the standard library's timers.
var System Scheduler = systemScheduler{}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
