// Package sqlx contains database/sql helpers used by the SQL persistence
// dialects.
//
// Functions that can fail panic with an error that is converted back into a
// regular return value by a deferred call to Recover().
package sqlx

import (
	"context"
	"database/sql"
)

// DB is the subset of *sql.DB, *sql.Conn and *sql.Tx used by the dialects.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var (
	_ DB = (*sql.DB)(nil)
	_ DB = (*sql.Tx)(nil)
	_ DB = (*sql.Conn)(nil)
)

// failure wraps errors raised by Must().
type failure struct {
	err error
}

// Must panics if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(failure{err})
	}
}

// Recover assigns the error raised by Must() to *err.
//
// It must be called directly by a defer statement. Panics not raised by
// Must() are propagated.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	switch v := recover().(type) {
	case nil:
	case failure:
		*err = v.err
	default:
		panic(v)
	}
}
