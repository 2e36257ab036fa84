// Package localtx is an in-process implementation of transaction.Transaction.
//
// It runs a two-phase commit over its volatile participants without an
// external transaction manager.
package localtx

import (
	"context"
	"errors"
	"sync"

	"github.com/dogmatiq/harbor/transaction"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// errNoVote is the cause of an abort when a participant returns from Prepare()
// without voting.
var errNoVote = errors.New("participant did not vote")

// Transaction is an in-process two-phase-commit transaction.
type Transaction struct {
	id transaction.ID

	m            sync.Mutex
	status       transaction.Status
	cause        error
	completing   bool
	participants []transaction.Participant
	dependents   int
	changed      chan struct{}
}

var _ transaction.Transaction = (*Transaction)(nil)

// New returns a new active transaction with a random ID.
func New() *Transaction {
	return &Transaction{
		id:      transaction.ID(uuid.NewString()),
		changed: make(chan struct{}),
	}
}

// ID returns the transaction's unique identifier.
func (tx *Transaction) ID() transaction.ID {
	return tx.id
}

// Status returns the transaction's current status.
func (tx *Transaction) Status() transaction.Status {
	tx.m.Lock()
	defer tx.m.Unlock()

	return tx.status
}

// Cause returns the error that caused the transaction to abort.
func (tx *Transaction) Cause() error {
	tx.m.Lock()
	defer tx.m.Unlock()

	return tx.cause
}

// DependentClone returns a handle that prevents the transaction from
// committing until it is completed.
func (tx *Transaction) DependentClone() transaction.Dependent {
	tx.m.Lock()
	defer tx.m.Unlock()

	tx.dependents++

	return &dependent{tx: tx}
}

// Dependents returns the number of outstanding dependent clones.
func (tx *Transaction) Dependents() int {
	tx.m.Lock()
	defer tx.m.Unlock()

	return tx.dependents
}

// EnlistVolatile enlists p as a participant in the transaction.
func (tx *Transaction) EnlistVolatile(p transaction.Participant) error {
	tx.m.Lock()
	defer tx.m.Unlock()

	if err := tx.checkActive(); err != nil {
		return err
	}

	tx.participants = append(tx.participants, p)

	return nil
}

// Commit commits the transaction.
//
// It blocks until all dependent clones are completed, then prepares every
// participant concurrently. If any participant votes to roll back, or fails
// to prepare, the transaction is aborted and the cause is returned.
//
// If ctx is canceled before the dependent clones are completed, the
// transaction is aborted.
func (tx *Transaction) Commit(ctx context.Context) error {
	participants, err := tx.waitForDependents(ctx)
	if err != nil {
		return err
	}

	if err := prepare(ctx, participants); err != nil {
		tx.finish(transaction.Aborted, err, participants)
		return &transaction.Error{
			Transaction: tx.id,
			Kind:        transaction.ErrAborted,
			Cause:       err,
		}
	}

	tx.finish(transaction.Committed, nil, participants)

	return nil
}

// Rollback aborts the transaction.
//
// cause is the reason the transaction was aborted. It may be nil.
func (tx *Transaction) Rollback(cause error) error {
	tx.m.Lock()

	if err := tx.checkActive(); err != nil {
		tx.m.Unlock()
		return err
	}

	tx.completing = true
	participants := tx.participants
	tx.m.Unlock()

	tx.finish(transaction.Aborted, cause, participants)

	return nil
}

// waitForDependents blocks until there are no outstanding dependent clones,
// then marks the transaction as completing.
func (tx *Transaction) waitForDependents(ctx context.Context) ([]transaction.Participant, error) {
	for {
		tx.m.Lock()

		if err := tx.checkActive(); err != nil {
			tx.m.Unlock()
			return nil, err
		}

		if tx.dependents == 0 {
			tx.completing = true
			participants := tx.participants
			tx.m.Unlock()
			return participants, nil
		}

		changed := tx.changed
		tx.m.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			tx.Rollback(ctx.Err()) // nolint:errcheck
			return nil, ctx.Err()
		}
	}
}

// checkActive returns an error if the transaction can no longer be modified.
// tx.m must be held.
func (tx *Transaction) checkActive() error {
	switch tx.status {
	case transaction.Aborted:
		return &transaction.Error{
			Transaction: tx.id,
			Kind:        transaction.ErrAborted,
			Cause:       tx.cause,
		}
	case transaction.InDoubt:
		return &transaction.Error{
			Transaction: tx.id,
			Kind:        transaction.ErrInDoubt,
			Cause:       tx.cause,
		}
	}

	if tx.status != transaction.Active || tx.completing {
		return &transaction.Error{
			Transaction: tx.id,
			Kind:        transaction.ErrNotActive,
		}
	}

	return nil
}

// finish records the outcome of the transaction and notifies participants.
//
// Participants are notified one at a time in the reverse of the order in which
// they were enlisted, so a participant is always notified before any
// participant that was enlisted ahead of it.
func (tx *Transaction) finish(
	status transaction.Status,
	cause error,
	participants []transaction.Participant,
) {
	tx.m.Lock()
	tx.status = status
	tx.cause = cause
	tx.notifyChanged()
	tx.m.Unlock()

	for i := len(participants) - 1; i >= 0; i-- {
		p := participants[i]
		e := &enlistment{}

		switch status {
		case transaction.Committed:
			p.Commit(e)
		case transaction.Aborted:
			p.Rollback(e)
		default:
			p.InDoubt(e)
		}
	}
}

// notifyChanged wakes any goroutines waiting for the transaction's state to
// change. tx.m must be held.
func (tx *Transaction) notifyChanged() {
	close(tx.changed)
	tx.changed = make(chan struct{})
}

// prepare runs the first phase of the commit across all participants.
func prepare(ctx context.Context, participants []transaction.Participant) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range participants {
		p := p // capture loop variable

		g.Go(func() error {
			e := &preparingEnlistment{}

			if err := p.Prepare(ctx, e); err != nil {
				return err
			}

			return e.outcome()
		})
	}

	return g.Wait()
}

// dependent is a blocking clone of a Transaction.
type dependent struct {
	tx   *Transaction
	once sync.Once
}

func (d *dependent) Complete() {
	d.once.Do(func() {
		d.tx.m.Lock()
		defer d.tx.m.Unlock()

		d.tx.dependents--
		d.tx.notifyChanged()
	})
}

// enlistment is the handle passed to participants in the second phase.
type enlistment struct {
	m    sync.Mutex
	done bool
}

func (e *enlistment) Done() {
	e.m.Lock()
	e.done = true
	e.m.Unlock()
}

// preparingEnlistment is the handle passed to participants in the first phase.
type preparingEnlistment struct {
	enlistment

	voted    bool
	prepared bool
	cause    error
}

func (e *preparingEnlistment) Prepared() {
	e.m.Lock()
	defer e.m.Unlock()

	e.voted = true
	e.prepared = true
}

func (e *preparingEnlistment) ForceRollback(err error) {
	e.m.Lock()
	defer e.m.Unlock()

	e.voted = true
	e.prepared = false
	e.cause = err
}

// outcome returns the error implied by the participant's vote.
func (e *preparingEnlistment) outcome() error {
	e.m.Lock()
	defer e.m.Unlock()

	if !e.voted {
		return errNoVote
	}

	if !e.prepared {
		if e.cause == nil {
			return transaction.ErrAborted
		}
		return e.cause
	}

	return nil
}
