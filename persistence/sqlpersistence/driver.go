package sqlpersistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/harbor/internal/x/sqlx"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/mysql"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/postgres"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/sqlite"
	"go.uber.org/multierr"
)

// Drivers is the list of built-in drivers, in the order DriverFor() tries
// them.
var Drivers = []Driver{
	mysql.Driver,
	postgres.Driver,
	sqlite.Driver,
}

// Driver is used to interface with the underlying SQL database.
type Driver interface {
	// IsCompatibleWith returns nil if this driver can be used with db.
	IsCompatibleWith(ctx context.Context, db *sql.DB) error

	// Begin starts a transaction used to save an instance.
	Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error)

	// CreateSchema creates any SQL schema elements required by the driver.
	CreateSchema(ctx context.Context, db *sql.DB) error

	// DropSchema removes any SQL schema elements created by CreateSchema().
	DropSchema(ctx context.Context, db *sql.DB) error

	// InsertInstance inserts an instance at revision 1.
	//
	// It returns false if the row already exists.
	InsertInstance(
		ctx context.Context,
		tx *sql.Tx,
		inst persistence.Instance,
	) (bool, error)

	// UpdateInstance updates an instance and increments its revision.
	//
	// It returns false if the row does not exist or inst.Revision is not
	// current.
	UpdateInstance(
		ctx context.Context,
		tx *sql.Tx,
		inst persistence.Instance,
	) (bool, error)

	// SelectInstance selects an instance's revision and data.
	//
	// It returns an instance with a revision of zero if the row does not
	// exist.
	SelectInstance(
		ctx context.Context,
		db sqlx.DB,
		key string,
	) (persistence.Instance, error)

	// DeleteContinuations deletes all continuations of an instance.
	DeleteContinuations(
		ctx context.Context,
		tx *sql.Tx,
		key string,
	) error

	// InsertContinuation inserts a single continuation of an instance.
	InsertContinuation(
		ctx context.Context,
		tx *sql.Tx,
		key, name string,
	) error

	// SelectContinuations selects the continuations of an instance.
	SelectContinuations(
		ctx context.Context,
		db sqlx.DB,
		key string,
	) ([]persistence.Continuation, error)

	// InsertStagedInstance stages a write to an instance on behalf of the
	// transaction identified by id.
	//
	// It returns false if a write to the instance is already staged.
	InsertStagedInstance(
		ctx context.Context,
		tx *sql.Tx,
		id string,
		inst persistence.Instance,
	) (bool, error)

	// SelectStagedInstance selects the write staged to an instance, and the ID
	// of the transaction that staged it.
	//
	// It returns false if no write is staged.
	SelectStagedInstance(
		ctx context.Context,
		db sqlx.DB,
		key string,
	) (string, persistence.Instance, bool, error)

	// DeleteStagedInstance deletes the write staged to an instance, including
	// its continuations.
	DeleteStagedInstance(
		ctx context.Context,
		tx *sql.Tx,
		key string,
	) error

	// InsertStagedContinuation inserts a single continuation of a staged
	// write.
	InsertStagedContinuation(
		ctx context.Context,
		tx *sql.Tx,
		key, name string,
	) error

	// SelectStagedContinuations selects the continuations of a staged write.
	SelectStagedContinuations(
		ctx context.Context,
		db sqlx.DB,
		key string,
	) ([]persistence.Continuation, error)
}

// DriverFor returns the first of the built-in drivers that is compatible with
// db.
//
// If none are compatible, the returned error describes why each was rejected.
func DriverFor(ctx context.Context, db *sql.DB) (Driver, error) {
	var errs []error

	for _, d := range Drivers {
		err := d.IsCompatibleWith(ctx, db)
		if err == nil {
			return d, nil
		}

		errs = append(errs, fmt.Errorf("%T: %w", d, err))
	}

	return nil, fmt.Errorf(
		"no built-in driver is compatible with %T: %w",
		db.Driver(),
		multierr.Combine(errs...),
	)
}

// CreateSchema creates the tables used by the store in db, if they do not
// already exist.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	d, err := DriverFor(ctx, db)
	if err != nil {
		return err
	}

	return d.CreateSchema(ctx, db)
}

// DropSchema removes the tables used by the store from db, if they exist.
func DropSchema(ctx context.Context, db *sql.DB) error {
	d, err := DriverFor(ctx, db)
	if err != nil {
		return err
	}

	return d.DropSchema(ctx, db)
}
