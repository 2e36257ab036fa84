package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/metrics"
	"github.com/dogmatiq/harbor/timer"
)

// PersistenceContext serializes the transactions that persist a single
// process instance.
//
// At most one transaction holds the context's commit lock at a time. Other
// transactions queue, in order, until the holder completes or they time out.
type PersistenceContext struct {
	// Timers schedules wait timeouts. If it is nil, timer.System is used.
	Timers timer.Scheduler

	// Logger is the target for log messages about wait timeouts. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger

	// Metrics records the depth of the wait queue. It may be nil.
	Metrics *metrics.Metrics

	m           sync.Mutex
	locked      bool
	holder      ID
	holderIsTx  bool
	queue       []*Waiter
	enlistments map[ID]*contextEnlistment
}

// Wait requests the context's commit lock on behalf of tx.
//
// tx may be nil, in which case the caller must call Release() once it no
// longer needs the lock.
//
// If the lock is not available the request is queued. If timeout is
// non-negative the request fails with ErrWaitTimeout if the lock is not
// granted within that duration. A negative timeout waits indefinitely.
//
// A transaction that already holds the lock is admitted immediately.
func (pc *PersistenceContext) Wait(tx Transaction, timeout time.Duration) *Waiter {
	w := &Waiter{
		context: pc,
		tx:      tx,
		timeout: timeout,
		done:    make(chan struct{}),
	}

	if tx != nil {
		w.clone = tx.DependentClone()
	}

	pc.m.Lock()

	if joined, ok := pc.tryAcquire(tx); ok {
		pc.m.Unlock()
		w.admit(joined)
		return w
	}

	pc.queue = append(pc.queue, w)
	pc.m.Unlock()

	pc.Metrics.WaiterQueued()

	if timeout >= 0 {
		w.arm()
	}

	return w
}

// Release releases a lock held without a transaction.
//
// It panics if the lock is not held, or is held by a transaction.
func (pc *PersistenceContext) Release() {
	pc.m.Lock()
	if !pc.locked || pc.holderIsTx {
		pc.m.Unlock()
		panic("persistence context is not held by a non-transactional waiter")
	}
	pc.m.Unlock()

	pc.release()
}

// IsLocked returns true if the commit lock is currently held.
func (pc *PersistenceContext) IsLocked() bool {
	pc.m.Lock()
	defer pc.m.Unlock()

	return pc.locked
}

// Holder returns the ID of the transaction holding the commit lock.
//
// ok is false if the lock is not held by a transaction.
func (pc *PersistenceContext) Holder() (id ID, ok bool) {
	pc.m.Lock()
	defer pc.m.Unlock()

	return pc.holder, pc.locked && pc.holderIsTx
}

// QueueLen returns the number of waiters queued for the lock.
func (pc *PersistenceContext) QueueLen() int {
	pc.m.Lock()
	defer pc.m.Unlock()

	return len(pc.queue)
}

// tryAcquire acquires the lock for tx if it is available.
//
// joined is true if tx already held the lock. pc.m must be held.
func (pc *PersistenceContext) tryAcquire(tx Transaction) (joined, ok bool) {
	if !pc.locked {
		pc.take(tx)
		return false, true
	}

	if tx != nil && pc.holderIsTx && pc.holder == tx.ID() {
		return true, true
	}

	return false, false
}

// take marks the lock as held by tx. pc.m must be held.
func (pc *PersistenceContext) take(tx Transaction) {
	pc.locked = true
	pc.holder = ""
	pc.holderIsTx = tx != nil

	if tx != nil {
		pc.holder = tx.ID()
	}
}

// release hands the lock to the next queued waiter that accepts it, or
// unlocks the context if there is none.
func (pc *PersistenceContext) release() {
	for {
		pc.m.Lock()

		if len(pc.queue) == 0 {
			pc.locked = false
			pc.holder = ""
			pc.holderIsTx = false
			pc.m.Unlock()
			return
		}

		w := pc.queue[0]
		pc.queue[0] = nil
		pc.queue = pc.queue[1:]
		pc.take(w.tx)

		pc.m.Unlock()

		pc.Metrics.WaiterDequeued(false)

		if w.grant(false) {
			pc.grantSiblings(w.tx)
			return
		}
	}
}

// grantSiblings grants the lock to any other queued waiters for the
// transaction that now holds it.
func (pc *PersistenceContext) grantSiblings(tx Transaction) {
	if tx == nil {
		return
	}

	pc.m.Lock()

	var siblings []*Waiter
	queue := pc.queue[:0]

	for _, w := range pc.queue {
		if w.tx != nil && w.tx.ID() == tx.ID() {
			siblings = append(siblings, w)
		} else {
			queue = append(queue, w)
		}
	}

	pc.queue = queue
	pc.m.Unlock()

	for _, w := range siblings {
		pc.Metrics.WaiterDequeued(false)
		w.grant(true)
	}
}

// remove removes w from the queue. It returns false if w was not queued.
func (pc *PersistenceContext) remove(w *Waiter) bool {
	pc.m.Lock()
	defer pc.m.Unlock()

	for i, x := range pc.queue {
		if x == w {
			pc.queue = append(pc.queue[:i], pc.queue[i+1:]...)
			return true
		}
	}

	return false
}

// enlist creates the context's enlistment in tx, or joins the existing one.
//
// joined must be true if the enlistment is expected to exist already.
func (pc *PersistenceContext) enlist(tx Transaction, joined bool) error {
	if tx == nil {
		return nil
	}

	pc.m.Lock()
	defer pc.m.Unlock()

	id := tx.ID()

	if e, ok := pc.enlistments[id]; ok {
		e.waiters++
		return nil
	}

	if joined {
		// The holder's enlistment has already completed, which means the
		// transaction is no longer active.
		return &Error{Transaction: id, Kind: ErrAborted}
	}

	e := &contextEnlistment{
		context: pc,
		id:      id,
		waiters: 1,
	}

	if err := tx.EnlistVolatile(e); err != nil {
		return err
	}

	if pc.enlistments == nil {
		pc.enlistments = map[ID]*contextEnlistment{}
	}
	pc.enlistments[id] = e

	return nil
}

// completed is called when the transaction with the given ID completes.
func (pc *PersistenceContext) completed(id ID) {
	pc.m.Lock()
	delete(pc.enlistments, id)
	isHolder := pc.locked && pc.holderIsTx && pc.holder == id
	pc.m.Unlock()

	if isHolder {
		pc.release()
	}
}

// EnlistedWaiters returns the number of waiters that have been admitted under
// the context's enlistment in the transaction with the given ID.
func (pc *PersistenceContext) EnlistedWaiters(id ID) int {
	pc.m.Lock()
	defer pc.m.Unlock()

	if e, ok := pc.enlistments[id]; ok {
		return e.waiters
	}

	return 0
}

// contextEnlistment is the context's volatile enlistment in a transaction
// that holds the lock. All of the transaction's waiters share one enlistment.
type contextEnlistment struct {
	context *PersistenceContext
	id      ID
	waiters int
}

func (e *contextEnlistment) Prepare(_ context.Context, pe PreparingEnlistment) error {
	pe.Prepared()
	return nil
}

func (e *contextEnlistment) Commit(en Enlistment) {
	en.Done()
	e.context.completed(e.id)
}

func (e *contextEnlistment) Rollback(en Enlistment) {
	en.Done()
	e.context.completed(e.id)
}

func (e *contextEnlistment) InDoubt(en Enlistment) {
	en.Done()
	e.context.completed(e.id)
}

func (pc *PersistenceContext) timers() timer.Scheduler {
	if pc.Timers != nil {
		return pc.Timers
	}

	return timer.System
}

func (pc *PersistenceContext) logger() logging.Logger {
	if pc.Logger != nil {
		return pc.Logger
	}

	return logging.DefaultLogger
}
