package sqlite

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/harbor/internal/x/sqlx"
	"github.com/dogmatiq/harbor/persistence"
)

// InsertInstance inserts an instance at revision 1.
//
// It returns false if the row already exists.
func (driver) InsertInstance(
	ctx context.Context,
	tx *sql.Tx,
	inst persistence.Instance,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`INSERT INTO instance (
			instance_key,
			data
		) VALUES (
			$1, $2
		) ON CONFLICT (instance_key) DO NOTHING`,
		inst.Key,
		inst.Data,
	), nil
}

// UpdateInstance updates an instance and increments its revision.
//
// It returns false if the row does not exist or inst.Revision is not current.
func (driver) UpdateInstance(
	ctx context.Context,
	tx *sql.Tx,
	inst persistence.Instance,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`UPDATE instance SET
			revision = revision + 1,
			data = $1
		WHERE instance_key = $2
		AND revision = $3`,
		inst.Data,
		inst.Key,
		inst.Revision,
	), nil
}

// SelectInstance selects an instance's revision and data.
func (driver) SelectInstance(
	ctx context.Context,
	db sqlx.DB,
	key string,
) (persistence.Instance, error) {
	row := db.QueryRowContext(
		ctx,
		`SELECT
			revision,
			data
		FROM instance
		WHERE instance_key = $1`,
		key,
	)

	inst := persistence.Instance{
		Key: key,
	}

	err := row.Scan(
		&inst.Revision,
		&inst.Data,
	)
	if err == sql.ErrNoRows {
		err = nil
	}

	return inst, err
}

// DeleteContinuations deletes all continuations of an instance.
func (driver) DeleteContinuations(
	ctx context.Context,
	tx *sql.Tx,
	key string,
) (err error) {
	defer sqlx.Recover(&err)

	sqlx.Exec(
		ctx,
		tx,
		`DELETE FROM instance_continuation
		WHERE instance_key = $1`,
		key,
	)

	return nil
}

// InsertContinuation inserts a single continuation of an instance.
func (driver) InsertContinuation(
	ctx context.Context,
	tx *sql.Tx,
	key, name string,
) (err error) {
	defer sqlx.Recover(&err)

	sqlx.Exec(
		ctx,
		tx,
		`INSERT INTO instance_continuation (
			instance_key,
			name
		) VALUES (
			$1, $2
		) ON CONFLICT (instance_key, name) DO NOTHING`,
		key,
		name,
	)

	return nil
}

// SelectContinuations selects the continuations of an instance.
func (driver) SelectContinuations(
	ctx context.Context,
	db sqlx.DB,
	key string,
) (_ []persistence.Continuation, err error) {
	defer sqlx.Recover(&err)

	rows := sqlx.Query(
		ctx,
		db,
		`SELECT
			name
		FROM instance_continuation
		WHERE instance_key = $1
		ORDER BY name`,
		key,
	)
	defer rows.Close()

	cs := []persistence.Continuation{}

	for rows.Next() {
		var c persistence.Continuation
		sqlx.Must(rows.Scan(&c.Name))
		cs = append(cs, c)
	}

	return cs, rows.Err()
}

// createInstanceSchema creates the schema elements for instances.
func createInstanceSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS instance (
			instance_key TEXT NOT NULL PRIMARY KEY,
			revision     INTEGER NOT NULL DEFAULT 1,
			data         BLOB
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS instance_continuation (
			instance_key TEXT NOT NULL,
			name         TEXT NOT NULL,

			PRIMARY KEY (instance_key, name)
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS instance_staged (
			instance_key   TEXT NOT NULL PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			revision       INTEGER NOT NULL,
			data           BLOB
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS instance_staged_continuation (
			instance_key TEXT NOT NULL,
			name         TEXT NOT NULL,

			PRIMARY KEY (instance_key, name)
		)`,
	)
}

// dropInstanceSchema drops the schema elements for instances.
func dropInstanceSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS instance_staged_continuation`)
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS instance_staged`)
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS instance_continuation`)
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS instance`)
}
