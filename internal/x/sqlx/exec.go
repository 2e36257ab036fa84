package sqlx

import (
	"context"
	"database/sql"
)

// Begin starts a transaction on db.
func Begin(ctx context.Context, db *sql.DB) *sql.Tx {
	tx, err := db.BeginTx(ctx, nil)
	Must(err)
	return tx
}

// Exec executes a statement on db.
func Exec(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) sql.Result {
	res, err := db.ExecContext(ctx, query, args...)
	Must(err)
	return res
}

// TryExecRow executes a statement on db. It returns true if exactly one row
// was affected.
//
// It is used for revision-guarded writes, where zero affected rows indicates
// that another writer got there first.
func TryExecRow(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) bool {
	n, err := Exec(ctx, db, query, args...).RowsAffected()
	Must(err)
	return n == 1
}

// Query executes a query on db.
func Query(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) *sql.Rows {
	rows, err := db.QueryContext(ctx, query, args...)
	Must(err)
	return rows
}

// CheckRow executes a query on db and returns nil if it produces at least one
// row.
//
// The result set is always closed, so the connection is returned to the pool
// before CheckRow returns.
func CheckRow(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}

	return rows.Close()
}
