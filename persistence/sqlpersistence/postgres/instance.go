package postgres

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
		`INSERT INTO harbor.instance (
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
		`UPDATE harbor.instance SET
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
		FROM harbor.instance
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
		`DELETE FROM harbor.instance_continuation
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
		`INSERT INTO harbor.instance_continuation (
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
		FROM harbor.instance_continuation
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
		`CREATE TABLE IF NOT EXISTS harbor.instance (
			instance_key TEXT NOT NULL PRIMARY KEY,
			revision     BIGINT NOT NULL DEFAULT 1,
			data         BYTEA
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS harbor.instance_continuation (
			instance_key TEXT NOT NULL,
			name         TEXT NOT NULL,

			PRIMARY KEY (instance_key, name)
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS harbor.instance_staged (
			instance_key   TEXT NOT NULL PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			revision       BIGINT NOT NULL,
			data           BYTEA
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS harbor.instance_staged_continuation (
			instance_key TEXT NOT NULL,
			name         TEXT NOT NULL,

			PRIMARY KEY (instance_key, name)
		)`,
	)
}
