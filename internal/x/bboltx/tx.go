package bboltx

import "go.etcd.io/bbolt"

// View executes fn within a read-only transaction.
//
// Errors raised by Must() within fn are propagated as panics, to be handled
// by the caller's Recover().
func View(db *bbolt.DB, fn func(tx *bbolt.Tx)) {
	Must(db.View(func(tx *bbolt.Tx) error {
		fn(tx)
		return nil
	}))
}

// Update executes fn within a read-write transaction.
//
// The transaction is rolled back if fn returns an error or raises one via
// Must(), in which case that error is returned.
func Update(db *bbolt.DB, fn func(tx *bbolt.Tx) error) error {
	return db.Update(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)
		return fn(tx)
	})
}
