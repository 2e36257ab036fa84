// Package semaphore bounds the fan-out used when many buffered requests are
// abandoned at once.
package semaphore

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore limits the number of acknowledgment handles that are abandoned
// concurrently when buffered requests are abandoned in bulk, such as when a
// host shuts down.
//
// The zero-value imposes no limit.
type Semaphore struct {
	n   int
	sem *semaphore.Weighted
}

// New returns a semaphore that allows n handles to be abandoned concurrently.
//
// It panics if n is not positive.
func New(n int) Semaphore {
	if n <= 0 {
		panic("semaphore limit must be positive")
	}

	return Semaphore{
		n,
		semaphore.NewWeighted(int64(n)),
	}
}

// Limit returns the number of handles that can be abandoned concurrently.
//
// It returns 0 if there is no limit.
func (s *Semaphore) Limit() int {
	if s.sem == nil {
		return 0
	}

	return s.n
}

// Acquire blocks until the caller may start abandoning another handle, or
// until ctx is canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}

	return s.sem.Acquire(ctx, 1)
}

// Release signals that a handle has finished being abandoned.
func (s *Semaphore) Release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
