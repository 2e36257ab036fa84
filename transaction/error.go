package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted indicates that a transaction was rolled back.
	ErrAborted = errors.New("transaction aborted")

	// ErrInDoubt indicates that the outcome of a transaction is unknown.
	ErrInDoubt = errors.New("transaction in doubt")

	// ErrNotActive indicates that a transaction has already committed, or is
	// in the process of completing.
	ErrNotActive = errors.New("transaction is not active")

	// ErrWaitTimeout indicates that a transaction timed-out while waiting for
	// a persistence context.
	ErrWaitTimeout = errors.New("timed-out waiting for the persistence context")
)

// Error is an error that relates to the state of a specific transaction.
//
// Errors of this kind are expected while the transaction manager drives a
// transaction to its outcome, and are distinguished from other failures by
// IsTransactionError().
type Error struct {
	// Transaction is the ID of the transaction, if known.
	Transaction ID

	// Kind is one of the sentinel errors in this package.
	Kind error

	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()

	if e.Transaction != "" {
		msg = fmt.Sprintf("%s: %s", e.Transaction, msg)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the kind and the cause of the error.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

// IsTransactionError returns true if err is a transaction-specific error.
func IsTransactionError(err error) bool {
	var e *Error

	return errors.As(err, &e) ||
		errors.Is(err, ErrAborted) ||
		errors.Is(err, ErrInDoubt) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrWaitTimeout)
}

// ErrorFromStatus returns the error that describes the outcome of tx.
//
// It returns nil if tx has not been aborted and is not in doubt.
func ErrorFromStatus(tx Transaction) error {
	var kind error

	switch tx.Status() {
	case Aborted:
		kind = ErrAborted
	case InDoubt:
		kind = ErrInDoubt
	default:
		return nil
	}

	return &Error{
		Transaction: tx.ID(),
		Kind:        kind,
		Cause:       tx.Cause(),
	}
}
