// Package memorypersistence is an in-memory implementation of
// persistence.Store.
package memorypersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/persistence"
)

// Store is an implementation of persistence.Store that keeps instances in
// memory.
//
// The zero-value is ready to use.
type Store struct {
	m         sync.RWMutex
	closed    bool
	instances map[string]persistence.Instance
	staged    map[string]stagedWrite
}

// stagedWrite is a write to an instance that has been staged but not applied.
type stagedWrite struct {
	id   string
	inst persistence.Instance
}

// Continuations returns the continuation points available on the instance
// identified by k.
func (s *Store) Continuations(
	_ context.Context,
	k *correlation.Key,
) ([]persistence.Continuation, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return nil, persistence.ErrStoreClosed
	}

	inst := s.instances[k.Canonical()]
	return clone(inst.Continuations), nil
}

// LoadInstance loads the instance with the given key.
func (s *Store) LoadInstance(
	_ context.Context,
	key string,
) (persistence.Instance, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	if s.closed {
		return persistence.Instance{}, persistence.ErrStoreClosed
	}

	inst, ok := s.instances[key]
	if !ok {
		return persistence.Instance{Key: key}, nil
	}

	inst.Data = append([]byte(nil), inst.Data...)
	inst.Continuations = clone(inst.Continuations)

	return inst, nil
}

// SaveInstance persists the state of an instance.
func (s *Store) SaveInstance(
	_ context.Context,
	inst persistence.Instance,
) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	if _, ok := s.staged[inst.Key]; ok {
		return conflict(inst)
	}

	if s.instances[inst.Key].Revision != inst.Revision {
		return conflict(inst)
	}

	s.apply(inst)

	return nil
}

// StageInstance records a write of the state of an instance on behalf of the
// transaction identified by id, without applying it.
func (s *Store) StageInstance(
	_ context.Context,
	id string,
	inst persistence.Instance,
) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	if w, ok := s.staged[inst.Key]; ok && w.id != id {
		return conflict(inst)
	}

	if s.instances[inst.Key].Revision != inst.Revision {
		return conflict(inst)
	}

	if s.staged == nil {
		s.staged = map[string]stagedWrite{}
	}

	inst.Data = append([]byte(nil), inst.Data...)
	inst.Continuations = clone(inst.Continuations)
	s.staged[inst.Key] = stagedWrite{id, inst}

	return nil
}

// CommitInstance applies the write staged by the transaction identified by
// id.
func (s *Store) CommitInstance(_ context.Context, id, key string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	w, ok := s.staged[key]
	if !ok || w.id != id {
		return nil
	}

	delete(s.staged, key)
	s.apply(w.inst)

	return nil
}

// DiscardInstance discards the write staged by the transaction identified by
// id.
func (s *Store) DiscardInstance(_ context.Context, id, key string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	if w, ok := s.staged[key]; ok && w.id == id {
		delete(s.staged, key)
	}

	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	s.closed = true

	return nil
}

// apply stores inst at the next revision. s.m must be held.
func (s *Store) apply(inst persistence.Instance) {
	if s.instances == nil {
		s.instances = map[string]persistence.Instance{}
	}

	inst.Revision++
	inst.Data = append([]byte(nil), inst.Data...)
	inst.Continuations = clone(inst.Continuations)
	s.instances[inst.Key] = inst
}

func conflict(inst persistence.Instance) error {
	return persistence.ConflictError{
		Key:      inst.Key,
		Revision: inst.Revision,
	}
}

func clone(cs []persistence.Continuation) []persistence.Continuation {
	return append([]persistence.Continuation{}, cs...)
}
