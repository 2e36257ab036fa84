package persistence

import (
	"context"
)

// Instance is the persisted state of a process instance.
type Instance struct {
	// Key is the canonical form of the instance's correlation key.
	Key string

	// Revision is the instance's current revision. It is zero if the instance
	// has never been persisted.
	Revision uint64

	// Data is the instance's application-defined state.
	Data []byte

	// Continuations is the set of continuation points at which the instance is
	// waiting for a request.
	Continuations []Continuation
}

// Store is a repository of persisted process instances.
//
// Instance state and continuation points are written atomically, so the
// Directory view of a Store is always consistent with the instance's data.
type Store interface {
	Directory

	// LoadInstance loads the instance with the given key.
	//
	// If the instance does not exist, it returns an instance with a revision
	// of zero.
	LoadInstance(ctx context.Context, key string) (Instance, error)

	// SaveInstance persists the state of an instance.
	//
	// inst.Revision must be the instance's current revision, otherwise a
	// ConflictError is returned. The persisted revision is inst.Revision + 1.
	//
	// A ConflictError is also returned if a write to the instance is staged.
	SaveInstance(ctx context.Context, inst Instance) error

	// StageInstance records a write of the state of an instance on behalf of
	// the transaction identified by id, without applying it.
	//
	// inst.Revision must be the instance's current revision, otherwise a
	// ConflictError is returned. A ConflictError is also returned if a write
	// to the instance is already staged by a different transaction. A write
	// staged by the same transaction is replaced.
	//
	// A staged write is not visible to LoadInstance() or Continuations().
	StageInstance(ctx context.Context, id string, inst Instance) error

	// CommitInstance applies the write staged by the transaction identified by
	// id to the instance with the given key. The persisted revision is the
	// staged revision + 1.
	//
	// It does nothing if the transaction has no write staged for the instance.
	CommitInstance(ctx context.Context, id, key string) error

	// DiscardInstance discards the write staged by the transaction identified
	// by id to the instance with the given key.
	//
	// It does nothing if the transaction has no write staged for the instance.
	DiscardInstance(ctx context.Context, id, key string) error

	// Close closes the store.
	Close() error
}
