package fixtures

import (
	"sync"
	"time"

	"github.com/dogmatiq/harbor/timer"
)

// ManualScheduler is an implementation of timer.Scheduler whose timers only
// fire when instructed by the test.
type ManualScheduler struct {
	m      sync.Mutex
	timers []*ManualTimer
}

// AfterFunc returns a timer that calls fn when it is fired.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) timer.Timer {
	s.m.Lock()
	defer s.m.Unlock()

	t := &ManualTimer{
		Duration: d,
		fn:       fn,
	}

	s.timers = append(s.timers, t)

	return t
}

// Timers returns all of the timers created by the scheduler, in order.
func (s *ManualScheduler) Timers() []*ManualTimer {
	s.m.Lock()
	defer s.m.Unlock()

	return append([]*ManualTimer(nil), s.timers...)
}

// Last returns the most recently created timer, or nil if there is none.
func (s *ManualScheduler) Last() *ManualTimer {
	s.m.Lock()
	defer s.m.Unlock()

	if len(s.timers) == 0 {
		return nil
	}

	return s.timers[len(s.timers)-1]
}

// ManualTimer is a timer created by a ManualScheduler.
type ManualTimer struct {
	// Duration is the duration that was passed to AfterFunc().
	Duration time.Duration

	m       sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

// Stop prevents the timer from firing.
func (t *ManualTimer) Stop() bool {
	t.m.Lock()
	defer t.m.Unlock()

	if t.stopped || t.fired {
		return false
	}

	t.stopped = true

	return true
}

// Fire fires the timer, calling its callback synchronously.
//
// It returns false if the timer has already been stopped or fired.
func (t *ManualTimer) Fire() bool {
	if run := t.Trigger(); run != nil {
		run()
		return true
	}

	return false
}

// Trigger marks the timer as fired without calling its callback, and returns
// the callback so the test can run it later.
//
// It returns nil if the timer has already been stopped or fired.
func (t *ManualTimer) Trigger() func() {
	t.m.Lock()
	defer t.m.Unlock()

	if t.stopped || t.fired {
		return nil
	}

	t.fired = true

	return t.fn
}

// IsStopped returns true if the timer has been stopped.
func (t *ManualTimer) IsStopped() bool {
	t.m.Lock()
	defer t.m.Unlock()

	return t.stopped
}
