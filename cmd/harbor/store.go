package main

import (
	"context"

	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/boltpersistence"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence"
	_ "github.com/go-sql-driver/mysql" // register the "mysql" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib" // register the "pgx" database/sql driver
	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // register the "sqlite" database/sql driver
)

// openStore opens the store selected by the root flags.
//
// If an SQL DSN is given the schema is created if necessary, otherwise the
// BoltDB database is used.
func (o *rootOptions) openStore(ctx context.Context) (persistence.Store, error) {
	if o.SQLDSN == "" {
		s, err := boltpersistence.Open(ctx, o.Database, 0, nil)
		if err != nil {
			return nil, err
		}

		return s, nil
	}

	s, err := sqlpersistence.OpenDSN(
		ctx,
		o.SQLDriver,
		o.SQLDSN,
		sqlpersistence.DSNOptions{},
	)
	if err != nil {
		return nil, err
	}

	if err := sqlpersistence.CreateSchema(ctx, s.DB); err != nil {
		return nil, multierr.Append(err, s.Close())
	}

	return s, nil
}

// withStore opens the store selected by the root flags and calls fn.
func (o *rootOptions) withStore(
	ctx context.Context,
	fn func(persistence.Store) error,
) (err error) {
	s, err := o.openStore(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, s.Close())
	}()

	return fn(s)
}
