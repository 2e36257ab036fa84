package mysql

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/harbor/internal/x/sqlx"
	"github.com/dogmatiq/harbor/persistence"
)

// InsertStagedInstance stages a write to an instance on behalf of the
// transaction identified by id.
//
// It returns false if a write to the instance is already staged.
func (driver) InsertStagedInstance(
	ctx context.Context,
	tx *sql.Tx,
	id string,
	inst persistence.Instance,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`INSERT INTO instance_staged SET
			instance_key = ?,
			transaction_id = ?,
			revision = ?,
			data = ?
		ON DUPLICATE KEY UPDATE
			instance_key = instance_key`, // do nothing
		inst.Key,
		id,
		inst.Revision,
		inst.Data,
	), nil
}

// SelectStagedInstance selects the write staged to an instance, and the ID of
// the transaction that staged it.
//
// It returns false if no write is staged.
func (driver) SelectStagedInstance(
	ctx context.Context,
	db sqlx.DB,
	key string,
) (string, persistence.Instance, bool, error) {
	row := db.QueryRowContext(
		ctx,
		`SELECT
			transaction_id,
			revision,
			data
		FROM instance_staged
		WHERE instance_key = ?`,
		key,
	)

	var id string
	inst := persistence.Instance{
		Key: key,
	}

	err := row.Scan(
		&id,
		&inst.Revision,
		&inst.Data,
	)
	if err == sql.ErrNoRows {
		return "", persistence.Instance{}, false, nil
	}
	if err != nil {
		return "", persistence.Instance{}, false, err
	}

	return id, inst, true, nil
}

// DeleteStagedInstance deletes the write staged to an instance, including its
// continuations.
func (driver) DeleteStagedInstance(
	ctx context.Context,
	tx *sql.Tx,
	key string,
) (err error) {
	defer sqlx.Recover(&err)

	sqlx.Exec(
		ctx,
		tx,
		`DELETE FROM instance_staged_continuation
		WHERE instance_key = ?`,
		key,
	)

	sqlx.Exec(
		ctx,
		tx,
		`DELETE FROM instance_staged
		WHERE instance_key = ?`,
		key,
	)

	return nil
}

// InsertStagedContinuation inserts a single continuation of a staged write.
func (driver) InsertStagedContinuation(
	ctx context.Context,
	tx *sql.Tx,
	key, name string,
) (err error) {
	defer sqlx.Recover(&err)

	sqlx.Exec(
		ctx,
		tx,
		`INSERT IGNORE INTO instance_staged_continuation SET
			instance_key = ?,
			name = ?`,
		key,
		name,
	)

	return nil
}

// SelectStagedContinuations selects the continuations of a staged write.
func (driver) SelectStagedContinuations(
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
		FROM instance_staged_continuation
		WHERE instance_key = ?
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
