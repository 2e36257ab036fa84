package fixtures

import (
	"context"
	"sync"

	"github.com/dogmatiq/harbor/transaction"
)

// TransactionStub is a test implementation of the transaction.Transaction
// interface.
type TransactionStub struct {
	transaction.Transaction

	IDFunc             func() transaction.ID
	StatusFunc         func() transaction.Status
	CauseFunc          func() error
	DependentCloneFunc func() transaction.Dependent
	EnlistVolatileFunc func(transaction.Participant) error
}

// ID returns the transaction's unique identifier.
func (t *TransactionStub) ID() transaction.ID {
	if t.IDFunc != nil {
		return t.IDFunc()
	}

	if t.Transaction != nil {
		return t.Transaction.ID()
	}

	return "<tx>"
}

// Status returns the transaction's current status.
func (t *TransactionStub) Status() transaction.Status {
	if t.StatusFunc != nil {
		return t.StatusFunc()
	}

	if t.Transaction != nil {
		return t.Transaction.Status()
	}

	return transaction.Active
}

// Cause returns the error that caused the transaction to abort.
func (t *TransactionStub) Cause() error {
	if t.CauseFunc != nil {
		return t.CauseFunc()
	}

	if t.Transaction != nil {
		return t.Transaction.Cause()
	}

	return nil
}

// DependentClone returns a blocking clone of the transaction.
func (t *TransactionStub) DependentClone() transaction.Dependent {
	if t.DependentCloneFunc != nil {
		return t.DependentCloneFunc()
	}

	if t.Transaction != nil {
		return t.Transaction.DependentClone()
	}

	return &DependentStub{}
}

// EnlistVolatile enlists p as a participant in the transaction.
func (t *TransactionStub) EnlistVolatile(p transaction.Participant) error {
	if t.EnlistVolatileFunc != nil {
		return t.EnlistVolatileFunc(p)
	}

	if t.Transaction != nil {
		return t.Transaction.EnlistVolatile(p)
	}

	return nil
}

// DependentStub is a test implementation of the transaction.Dependent
// interface.
type DependentStub struct {
	m         sync.Mutex
	completed int
}

// Complete records that the clone was completed.
func (d *DependentStub) Complete() {
	d.m.Lock()
	defer d.m.Unlock()

	d.completed++
}

// Completed returns the number of times Complete() was called.
func (d *DependentStub) Completed() int {
	d.m.Lock()
	defer d.m.Unlock()

	return d.completed
}

// EnlistmentStub is a test implementation of the transaction.Enlistment and
// transaction.PreparingEnlistment interfaces that records the calls made to it.
type EnlistmentStub struct {
	m        sync.Mutex
	done     bool
	prepared bool
	rollback bool
	cause    error
}

// Done records that the participant finished responding.
func (e *EnlistmentStub) Done() {
	e.m.Lock()
	defer e.m.Unlock()

	e.done = true
}

// Prepared records a vote to commit.
func (e *EnlistmentStub) Prepared() {
	e.m.Lock()
	defer e.m.Unlock()

	e.prepared = true
}

// ForceRollback records a vote to roll back.
func (e *EnlistmentStub) ForceRollback(err error) {
	e.m.Lock()
	defer e.m.Unlock()

	e.rollback = true
	e.cause = err
}

// IsDone returns true if Done() was called.
func (e *EnlistmentStub) IsDone() bool {
	e.m.Lock()
	defer e.m.Unlock()

	return e.done
}

// IsPrepared returns true if Prepared() was called.
func (e *EnlistmentStub) IsPrepared() bool {
	e.m.Lock()
	defer e.m.Unlock()

	return e.prepared
}

// RollbackCause returns the error passed to ForceRollback(). ok is false if
// ForceRollback() was not called.
func (e *EnlistmentStub) RollbackCause() (err error, ok bool) {
	e.m.Lock()
	defer e.m.Unlock()

	return e.cause, e.rollback
}

// InstanceStub is a test implementation of the transaction.Instance interface.
type InstanceStub struct {
	transaction.Instance

	PersistFunc                     func(context.Context) error
	OnTransactionPreparedFunc       func()
	TransactionCommittedFunc        func()
	OnTransactionAbortOrInDoubtFunc func(error)
}

// Persist writes the instance's state to durable storage.
func (i *InstanceStub) Persist(ctx context.Context) error {
	if i.PersistFunc != nil {
		return i.PersistFunc(ctx)
	}

	if i.Instance != nil {
		return i.Instance.Persist(ctx)
	}

	return nil
}

// OnTransactionPrepared is called when the instance's state is persisted.
func (i *InstanceStub) OnTransactionPrepared() {
	if i.OnTransactionPreparedFunc != nil {
		i.OnTransactionPreparedFunc()
	} else if i.Instance != nil {
		i.Instance.OnTransactionPrepared()
	}
}

// TransactionCommitted is called when the transaction commits.
func (i *InstanceStub) TransactionCommitted() {
	if i.TransactionCommittedFunc != nil {
		i.TransactionCommittedFunc()
	} else if i.Instance != nil {
		i.Instance.TransactionCommitted()
	}
}

// OnTransactionAbortOrInDoubt is called when the transaction aborts or its
// outcome is unknown.
func (i *InstanceStub) OnTransactionAbortOrInDoubt(err error) {
	if i.OnTransactionAbortOrInDoubtFunc != nil {
		i.OnTransactionAbortOrInDoubtFunc(err)
	} else if i.Instance != nil {
		i.Instance.OnTransactionAbortOrInDoubt(err)
	}
}

// ParticipantStub is a test implementation of the transaction.Participant
// interface.
//
// Unless PrepareFunc is set, it votes to commit.
type ParticipantStub struct {
	PrepareFunc  func(context.Context, transaction.PreparingEnlistment) error
	CommitFunc   func(transaction.Enlistment)
	RollbackFunc func(transaction.Enlistment)
	InDoubtFunc  func(transaction.Enlistment)
}

// Prepare votes on the outcome of the transaction.
func (p *ParticipantStub) Prepare(ctx context.Context, e transaction.PreparingEnlistment) error {
	if p.PrepareFunc != nil {
		return p.PrepareFunc(ctx, e)
	}

	e.Prepared()
	return nil
}

// Commit is called when the transaction has committed.
func (p *ParticipantStub) Commit(e transaction.Enlistment) {
	if p.CommitFunc != nil {
		p.CommitFunc(e)
	} else {
		e.Done()
	}
}

// Rollback is called when the transaction has aborted.
func (p *ParticipantStub) Rollback(e transaction.Enlistment) {
	if p.RollbackFunc != nil {
		p.RollbackFunc(e)
	} else {
		e.Done()
	}
}

// InDoubt is called when the outcome of the transaction is unknown.
func (p *ParticipantStub) InDoubt(e transaction.Enlistment) {
	if p.InDoubtFunc != nil {
		p.InDoubtFunc(e)
	} else {
		e.Done()
	}
}
