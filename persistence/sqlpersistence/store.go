// Package sqlpersistence is an implementation of persistence.Store that uses
// an SQL database.
package sqlpersistence

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/persistence"
)

var (
	// DefaultMaxIdleConns is the default maximum number of idle connections
	// allowed in the database pool.
	DefaultMaxIdleConns = runtime.GOMAXPROCS(0)

	// DefaultMaxOpenConns is the default maximum number of open connections
	// allowed in the database pool.
	DefaultMaxOpenConns = DefaultMaxIdleConns * 10

	// DefaultMaxConnLifetime is the default maximum lifetime of database
	// connections.
	DefaultMaxConnLifetime = 10 * time.Minute
)

// Store is an implementation of persistence.Store for SQL that uses an
// existing open database pool.
type Store struct {
	// DB is the SQL database to use.
	DB *sql.DB

	// Driver is the SQL driver to use with this database. If it is nil, it is
	// chosen automatically from one of the built-in drivers.
	Driver Driver

	m      sync.RWMutex
	closed bool
	close  func() error
}

// DSNOptions is the configuration used by OpenDSN() to open a database pool.
type DSNOptions struct {
	// MaxIdleConns is the maximum number of idle connections allowed in the
	// database pool. If it is zero, DefaultMaxIdleConns is used.
	MaxIdleConns int

	// MaxOpenConns is the maximum number of open connections allowed in the
	// database pool. If it is zero, DefaultMaxOpenConns is used.
	MaxOpenConns int

	// MaxConnLifetime is the maximum lifetime of database connections. If it
	// is zero, DefaultMaxConnLifetime is used.
	MaxConnLifetime time.Duration
}

// OpenDSN returns a store that opens a database pool using a DSN. The pool is
// closed when the store is closed.
//
// driverName and dsn are passed to sql.Open().
func OpenDSN(
	ctx context.Context,
	driverName, dsn string,
	opts DSNOptions,
) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	idle := opts.MaxIdleConns
	if idle == 0 {
		idle = DefaultMaxIdleConns
	}
	db.SetMaxIdleConns(idle)

	open := opts.MaxOpenConns
	if open == 0 {
		open = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(open)

	ttl := opts.MaxConnLifetime
	if ttl == 0 {
		ttl = DefaultMaxConnLifetime
	}
	db.SetConnMaxLifetime(ttl)

	if err := db.PingContext(ctx); err != nil {
		// Ignore error from Close() and instead report the causal error.
		db.Close() // nolint:errcheck
		return nil, err
	}

	return &Store{
		DB:    db,
		close: db.Close,
	}, nil
}

// Continuations returns the continuation points available on the instance
// identified by k.
func (s *Store) Continuations(
	ctx context.Context,
	k *correlation.Key,
) ([]persistence.Continuation, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}
	defer s.m.RUnlock()

	return d.SelectContinuations(ctx, s.DB, k.Canonical())
}

// LoadInstance loads the instance with the given key.
func (s *Store) LoadInstance(
	ctx context.Context,
	key string,
) (persistence.Instance, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return persistence.Instance{}, err
	}
	defer s.m.RUnlock()

	inst, err := d.SelectInstance(ctx, s.DB, key)
	if err != nil {
		return persistence.Instance{}, err
	}

	inst.Continuations, err = d.SelectContinuations(ctx, s.DB, key)
	if err != nil {
		return persistence.Instance{}, err
	}

	return inst, nil
}

// SaveInstance persists the state of an instance.
func (s *Store) SaveInstance(
	ctx context.Context,
	inst persistence.Instance,
) error {
	d, err := s.driver(ctx)
	if err != nil {
		return err
	}
	defer s.m.RUnlock()

	tx, err := d.Begin(ctx, s.DB)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	_, _, staged, err := d.SelectStagedInstance(ctx, tx, inst.Key)
	if err != nil {
		return err
	}

	if staged {
		return conflict(inst)
	}

	if err := save(ctx, d, tx, inst); err != nil {
		return err
	}

	return tx.Commit()
}

// StageInstance records a write of the state of an instance on behalf of the
// transaction identified by id, without applying it.
func (s *Store) StageInstance(
	ctx context.Context,
	id string,
	inst persistence.Instance,
) error {
	d, err := s.driver(ctx)
	if err != nil {
		return err
	}
	defer s.m.RUnlock()

	tx, err := d.Begin(ctx, s.DB)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	owner, _, staged, err := d.SelectStagedInstance(ctx, tx, inst.Key)
	if err != nil {
		return err
	}

	if staged {
		if owner != id {
			return conflict(inst)
		}

		if err := d.DeleteStagedInstance(ctx, tx, inst.Key); err != nil {
			return err
		}
	}

	current, err := d.SelectInstance(ctx, tx, inst.Key)
	if err != nil {
		return err
	}

	if current.Revision != inst.Revision {
		return conflict(inst)
	}

	ok, err := d.InsertStagedInstance(ctx, tx, id, inst)
	if err != nil {
		return err
	}

	if !ok {
		return conflict(inst)
	}

	for _, c := range inst.Continuations {
		if err := d.InsertStagedContinuation(ctx, tx, inst.Key, c.Name); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CommitInstance applies the write staged by the transaction identified by
// id.
func (s *Store) CommitInstance(ctx context.Context, id, key string) error {
	d, err := s.driver(ctx)
	if err != nil {
		return err
	}
	defer s.m.RUnlock()

	tx, err := d.Begin(ctx, s.DB)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	owner, inst, staged, err := d.SelectStagedInstance(ctx, tx, key)
	if err != nil {
		return err
	}

	if !staged || owner != id {
		return nil
	}

	inst.Continuations, err = d.SelectStagedContinuations(ctx, tx, key)
	if err != nil {
		return err
	}

	if err := d.DeleteStagedInstance(ctx, tx, key); err != nil {
		return err
	}

	if err := save(ctx, d, tx, inst); err != nil {
		return err
	}

	return tx.Commit()
}

// DiscardInstance discards the write staged by the transaction identified by
// id.
func (s *Store) DiscardInstance(ctx context.Context, id, key string) error {
	d, err := s.driver(ctx)
	if err != nil {
		return err
	}
	defer s.m.RUnlock()

	tx, err := d.Begin(ctx, s.DB)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	owner, _, staged, err := d.SelectStagedInstance(ctx, tx, key)
	if err != nil {
		return err
	}

	if !staged || owner != id {
		return nil
	}

	if err := d.DeleteStagedInstance(ctx, tx, key); err != nil {
		return err
	}

	return tx.Commit()
}

// Close closes the store.
//
// The underlying database pool is only closed if it was opened by OpenDSN().
func (s *Store) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	s.closed = true

	if s.close != nil {
		return s.close()
	}

	return nil
}

// driver returns the driver to use, selecting one if necessary.
//
// If it returns a nil error, s.m is read-locked and the caller must unlock it.
func (s *Store) driver(ctx context.Context) (Driver, error) {
	s.m.RLock()

	if s.closed {
		s.m.RUnlock()
		return nil, persistence.ErrStoreClosed
	}

	if d := s.Driver; d != nil {
		return d, nil
	}

	s.m.RUnlock()
	s.m.Lock()

	if s.Driver == nil && !s.closed {
		d, err := DriverFor(ctx, s.DB)
		if err != nil {
			s.m.Unlock()
			return nil, err
		}

		s.Driver = d
	}

	s.m.Unlock()

	return s.driver(ctx)
}

// save writes inst at the next revision within tx.
func save(
	ctx context.Context,
	d Driver,
	tx *sql.Tx,
	inst persistence.Instance,
) error {
	fn := d.InsertInstance
	if inst.Revision > 0 {
		fn = d.UpdateInstance
	}

	ok, err := fn(ctx, tx, inst)
	if err != nil {
		return err
	}

	if !ok {
		return conflict(inst)
	}

	if err := d.DeleteContinuations(ctx, tx, inst.Key); err != nil {
		return err
	}

	for _, c := range inst.Continuations {
		if err := d.InsertContinuation(ctx, tx, inst.Key, c.Name); err != nil {
			return err
		}
	}

	return nil
}

func conflict(inst persistence.Instance) error {
	return persistence.ConflictError{
		Key:      inst.Key,
		Revision: inst.Revision,
	}
}
