// Package transaction coordinates the persistence of process instances with
// an ambient two-phase-commit transaction.
package transaction

import (
	"context"
	"fmt"
)

// ID uniquely identifies a transaction.
type ID string

// Status is the state of a transaction.
type Status int

const (
	// Active is the status of a transaction that has not yet completed.
	Active Status = iota

	// Committed is the status of a transaction that committed successfully.
	Committed

	// Aborted is the status of a transaction that was rolled back.
	Aborted

	// InDoubt is the status of a transaction whose outcome is unknown.
	InDoubt
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case InDoubt:
		return "in-doubt"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Transaction is an ambient two-phase-commit transaction.
type Transaction interface {
	// ID returns the transaction's unique identifier.
	ID() ID

	// Status returns the transaction's current status.
	Status() Status

	// Cause returns the error that caused the transaction to abort or become
	// in-doubt, if known.
	Cause() error

	// DependentClone returns a handle that prevents the transaction from
	// committing until it is completed.
	DependentClone() Dependent

	// EnlistVolatile enlists p as a participant in the transaction.
	//
	// Participants must be notified of the outcome in the reverse of the
	// order in which they were enlisted.
	EnlistVolatile(p Participant) error
}

// Dependent is a blocking clone of a transaction.
type Dependent interface {
	// Complete signals that the holder of the clone no longer needs to
	// prevent the transaction from committing.
	//
	// It is safe to call Complete() more than once.
	Complete()
}

// Participant is a volatile participant in a two-phase-commit transaction.
type Participant interface {
	// Prepare is called during the first phase of the commit. The participant
	// must vote by calling e.Prepared() or e.ForceRollback().
	//
	// A non-nil error aborts the transaction and is reported to the party
	// committing it.
	Prepare(ctx context.Context, e PreparingEnlistment) error

	// Commit is called when the transaction has committed.
	Commit(e Enlistment)

	// Rollback is called when the transaction has aborted.
	Rollback(e Enlistment)

	// InDoubt is called when the outcome of the transaction is unknown.
	InDoubt(e Enlistment)
}

// Enlistment is a participant's handle on its enlistment in a transaction.
type Enlistment interface {
	// Done signals that the participant has finished responding to the
	// current phase.
	Done()
}

// PreparingEnlistment is the enlistment handle passed to Participant.Prepare().
type PreparingEnlistment interface {
	Enlistment

	// Prepared votes for the transaction to commit.
	Prepared()

	// ForceRollback votes for the transaction to abort.
	ForceRollback(err error)
}
