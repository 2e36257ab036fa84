package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/harbor/internal/mlog"
	"github.com/dogmatiq/harbor/timer"
)

// Waiter is a request for a persistence context's commit lock.
//
// It is resolved exactly once, either when the lock is granted or when the
// request fails.
type Waiter struct {
	context *PersistenceContext
	tx      Transaction
	clone   Dependent
	timeout time.Duration

	m         sync.Mutex
	claimed   bool
	timer     timer.Timer
	err       error
	done      chan struct{}
	callbacks []func(error)
}

// Done returns a channel that is closed when the waiter is resolved.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that caused the waiter to fail.
//
// It returns nil if the lock was granted or the waiter is still pending.
func (w *Waiter) Err() error {
	w.m.Lock()
	defer w.m.Unlock()

	return w.err
}

// Wait blocks until the waiter is resolved or ctx is canceled.
//
// It returns nil if the lock was granted.
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers fn to be called when the waiter is resolved.
//
// err is nil if the lock was granted. If the waiter is already resolved, fn is
// called immediately.
func (w *Waiter) OnComplete(fn func(err error)) {
	w.m.Lock()

	select {
	case <-w.done:
		err := w.err
		w.m.Unlock()
		fn(err)
	default:
		w.callbacks = append(w.callbacks, fn)
		w.m.Unlock()
	}
}

// admit resolves a waiter that was admitted without queuing.
func (w *Waiter) admit(joined bool) {
	w.m.Lock()
	w.claimed = true
	w.m.Unlock()

	err := w.context.enlist(w.tx, joined)
	w.completeClone()
	w.resolve(err)

	if err != nil && !joined {
		w.context.release()
	}
}

// arm starts the waiter's timeout timer, unless it has already been resolved.
func (w *Waiter) arm() {
	w.m.Lock()
	defer w.m.Unlock()

	if !w.claimed {
		w.timer = w.context.timers().AfterFunc(w.timeout, w.expire)
	}
}

// grant hands the lock to the waiter.
//
// It returns false if the waiter has already timed-out or could not be
// enlisted in its transaction, in which case the lock must be offered to the
// next waiter.
func (w *Waiter) grant(joined bool) bool {
	w.m.Lock()

	if w.claimed {
		w.m.Unlock()
		return false
	}

	if w.timer != nil && !w.timer.Stop() {
		// The timer has already fired; expire() resolves the waiter.
		w.m.Unlock()
		return false
	}

	w.claimed = true
	w.m.Unlock()

	err := w.context.enlist(w.tx, joined)
	w.completeClone()
	w.resolve(err)

	return err == nil
}

// expire fails the waiter because its timeout elapsed.
func (w *Waiter) expire() {
	w.m.Lock()

	if w.claimed {
		w.m.Unlock()
		return
	}

	w.claimed = true
	w.m.Unlock()

	w.completeClone()

	pc := w.context
	if pc.remove(w) {
		pc.Metrics.WaiterDequeued(true)
	} else {
		pc.Metrics.WaiterTimedOut()
	}

	var id ID
	if w.tx != nil {
		id = w.tx.ID()
	}

	mlog.LogWaitTimeout(pc.logger(), string(id), w.timeout)

	w.resolve(&Error{
		Transaction: id,
		Kind:        ErrWaitTimeout,
	})
}

// completeClone releases the waiter's hold on its transaction.
func (w *Waiter) completeClone() {
	if w.clone != nil {
		w.clone.Complete()
	}
}

// resolve records the waiter's outcome and invokes its callbacks.
func (w *Waiter) resolve(err error) {
	w.m.Lock()
	w.err = err
	callbacks := w.callbacks
	w.callbacks = nil
	close(w.done)
	w.m.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}
