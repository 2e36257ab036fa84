package persistence

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is returned when performing any persistence operation on a
// closed store.
var ErrStoreClosed = errors.New("store is closed")

// ConflictError is an error indicating that an instance could not be saved
// because its revision is not current.
type ConflictError struct {
	// Key is the canonical key of the instance.
	Key string

	// Revision is the revision that was supplied.
	Revision uint64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"optimistic concurrency conflict saving instance %s at revision %d",
		e.Key,
		e.Revision,
	)
}
