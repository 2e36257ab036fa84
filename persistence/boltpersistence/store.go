// Package boltpersistence is an implementation of persistence.Store that uses
// a BoltDB database.
package boltpersistence

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/internal/x/bboltx"
	"github.com/dogmatiq/harbor/persistence"
	"go.etcd.io/bbolt"
)

var (
	// instanceBucketKey is the key for the root bucket for instance data.
	//
	// The keys are canonical instance keys. The values are buckets containing
	// the revision, data and continuations of each instance.
	instanceBucketKey = []byte("instance")

	// revisionKey is the key within an instance bucket that contains the
	// instance's revision, encoded as a big-endian uint64.
	revisionKey = []byte("revision")

	// dataKey is the key within an instance bucket that contains the
	// instance's data.
	dataKey = []byte("data")

	// continuationBucketKey is the key of the bucket within an instance bucket
	// that contains the instance's continuations. The keys are continuation
	// names, the values are empty.
	continuationBucketKey = []byte("continuation")

	// stagedBucketKey is the key for the root bucket for staged writes.
	//
	// The keys are canonical instance keys. The values are buckets with the
	// same layout as an instance bucket, plus the ID of the transaction that
	// staged the write. The revision is the revision the write is based on.
	stagedBucketKey = []byte("staged")

	// transactionKey is the key within a staged bucket that contains the ID
	// of the transaction that staged the write.
	transactionKey = []byte("transaction")
)

// Store is an implementation of persistence.Store that uses an existing open
// BoltDB database.
type Store struct {
	// DB is the BoltDB database to use.
	DB *bbolt.DB

	m      sync.RWMutex
	closed bool
	close  func() error
}

// Open returns a store that opens or creates the BoltDB database at the given
// path. The database is closed when the store is closed.
//
// If mode is zero, 0600 (owner read/write only) is used. If opts is nil,
// bbolt.DefaultOptions is used.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	opts *bbolt.Options,
) (*Store, error) {
	db, err := bboltx.Open(ctx, path, mode, opts, instanceBucketKey, stagedBucketKey)
	if err != nil {
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
	_ context.Context,
	k *correlation.Key,
) (_ []persistence.Continuation, err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return nil, persistence.ErrStoreClosed
	}

	cs := []persistence.Continuation{}

	bboltx.View(
		s.DB,
		func(tx *bbolt.Tx) {
			if b := bboltx.Bucket(tx, instanceBucketKey, []byte(k.Canonical())); b != nil {
				cs = loadContinuations(b)
			}
		},
	)

	return cs, nil
}

// LoadInstance loads the instance with the given key.
func (s *Store) LoadInstance(
	_ context.Context,
	key string,
) (_ persistence.Instance, err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.Instance{}, persistence.ErrStoreClosed
	}

	inst := persistence.Instance{
		Key:           key,
		Continuations: []persistence.Continuation{},
	}

	bboltx.View(
		s.DB,
		func(tx *bbolt.Tx) {
			if b := bboltx.Bucket(tx, instanceBucketKey, []byte(key)); b != nil {
				inst.Revision = loadRevision(b)
				inst.Data = append([]byte(nil), b.Get(dataKey)...)
				inst.Continuations = loadContinuations(b)
			}
		},
	)

	return inst, nil
}

// SaveInstance persists the state of an instance.
func (s *Store) SaveInstance(
	_ context.Context,
	inst persistence.Instance,
) (err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return bboltx.Update(
		s.DB,
		func(tx *bbolt.Tx) error {
			if bboltx.Bucket(tx, stagedBucketKey, []byte(inst.Key)) != nil {
				return conflict(inst)
			}

			b := bboltx.CreateBucketIfNotExists(tx, instanceBucketKey, []byte(inst.Key))
			if loadRevision(b) != inst.Revision {
				return conflict(inst)
			}

			inst.Revision++
			writeInstance(b, inst)

			return nil
		},
	)
}

// StageInstance records a write of the state of an instance on behalf of the
// transaction identified by id, without applying it.
func (s *Store) StageInstance(
	_ context.Context,
	id string,
	inst persistence.Instance,
) (err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return bboltx.Update(
		s.DB,
		func(tx *bbolt.Tx) error {
			root := bboltx.CreateBucketIfNotExists(tx, stagedBucketKey)

			if sb := root.Bucket([]byte(inst.Key)); sb != nil {
				if string(sb.Get(transactionKey)) != id {
					return conflict(inst)
				}

				bboltx.DeleteBucket(root, []byte(inst.Key))
			}

			var rev uint64
			if b := bboltx.Bucket(tx, instanceBucketKey, []byte(inst.Key)); b != nil {
				rev = loadRevision(b)
			}

			if rev != inst.Revision {
				return conflict(inst)
			}

			sb := bboltx.CreateBucketIfNotExists(root, []byte(inst.Key))
			bboltx.Put(sb, transactionKey, []byte(id))
			writeInstance(sb, inst)

			return nil
		},
	)
}

// CommitInstance applies the write staged by the transaction identified by
// id.
func (s *Store) CommitInstance(
	_ context.Context,
	id, key string,
) (err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return bboltx.Update(
		s.DB,
		func(tx *bbolt.Tx) error {
			root := bboltx.CreateBucketIfNotExists(tx, stagedBucketKey)

			sb := root.Bucket([]byte(key))
			if sb == nil || string(sb.Get(transactionKey)) != id {
				return nil
			}

			inst := persistence.Instance{
				Key:           key,
				Revision:      loadRevision(sb) + 1,
				Data:          append([]byte(nil), sb.Get(dataKey)...),
				Continuations: loadContinuations(sb),
			}

			bboltx.DeleteBucket(root, []byte(key))

			b := bboltx.CreateBucketIfNotExists(tx, instanceBucketKey, []byte(key))
			writeInstance(b, inst)

			return nil
		},
	)
}

// DiscardInstance discards the write staged by the transaction identified by
// id.
func (s *Store) DiscardInstance(
	_ context.Context,
	id, key string,
) (err error) {
	defer bboltx.Recover(&err)

	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return bboltx.Update(
		s.DB,
		func(tx *bbolt.Tx) error {
			root := bboltx.CreateBucketIfNotExists(tx, stagedBucketKey)

			if sb := root.Bucket([]byte(key)); sb != nil && string(sb.Get(transactionKey)) == id {
				bboltx.DeleteBucket(root, []byte(key))
			}

			return nil
		},
	)
}

// Close closes the store.
//
// The underlying database is only closed if it was opened by Open().
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

// writeInstance replaces the revision, data and continuations in b with those
// of inst.
func writeInstance(b *bbolt.Bucket, inst persistence.Instance) {
	var rev [8]byte
	binary.BigEndian.PutUint64(rev[:], inst.Revision)
	bboltx.Put(b, revisionKey, rev[:])
	bboltx.Put(b, dataKey, inst.Data)

	bboltx.DeleteBucket(b, continuationBucketKey)
	cb := bboltx.CreateBucketIfNotExists(b, continuationBucketKey)

	for _, c := range inst.Continuations {
		bboltx.Put(cb, []byte(c.Name), []byte{})
	}
}

func conflict(inst persistence.Instance) error {
	return persistence.ConflictError{
		Key:      inst.Key,
		Revision: inst.Revision,
	}
}

// loadRevision returns the revision stored in an instance bucket.
func loadRevision(b *bbolt.Bucket) uint64 {
	data := b.Get(revisionKey)
	if len(data) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(data)
}

// loadContinuations returns the continuations stored in an instance bucket.
func loadContinuations(b *bbolt.Bucket) []persistence.Continuation {
	cs := []persistence.Continuation{}

	if cb := b.Bucket(continuationBucketKey); cb != nil {
		for _, k := range bboltx.Keys(cb) {
			cs = append(cs, persistence.Continuation{Name: string(k)})
		}
	}

	return cs
}
