// Package mysql is the MySQL dialect of the SQL persistence store.
package mysql

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/harbor/internal/x/sqlx"
)

// DriverName is the name of the database/sql driver conventionally used
// with this dialect. This package does not register it.
const DriverName = "mysql"

// Driver is an implementation of sqlpersistence.Driver for MySQL.
var Driver = driver{}

type driver struct{}

// IsCompatibleWith returns nil if this driver can be used with db.
func (driver) IsCompatibleWith(ctx context.Context, db *sql.DB) error {
	// Verify that ?-style placeholders are supported.
	err := sqlx.CheckRow(
		ctx,
		db,
		`SELECT ?`,
		1,
	)

	if err != nil {
		return err
	}

	// Verify that we're using something compatible with MySQL (because the SHOW
	// VARIABLES syntax is supported) and that InnoDB is available.
	return sqlx.CheckRow(
		ctx,
		db,
		`SHOW VARIABLES LIKE "innodb_page_size"`,
	)
}

// Begin starts a transaction.
func (driver) Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

// CreateSchema creates any SQL schema elements required by the driver.
func (driver) CreateSchema(ctx context.Context, db *sql.DB) (err error) {
	defer sqlx.Recover(&err)

	createInstanceSchema(ctx, db)

	return nil
}

// DropSchema removes any SQL schema elements created by CreateSchema().
func (driver) DropSchema(ctx context.Context, db *sql.DB) (err error) {
	defer sqlx.Recover(&err)

	dropInstanceSchema(ctx, db)

	return nil
}
