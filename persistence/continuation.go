package persistence

import (
	"context"

	"github.com/dogmatiq/harbor/correlation"
)

// Continuation is a named point at which a process instance can resume when it
// receives a matching buffered request.
type Continuation struct {
	Name string
}

// Directory is an interface for querying the continuation points that are
// currently available on persisted instances.
type Directory interface {
	// Continuations returns the continuation points available on the instance
	// identified by k.
	//
	// It returns an empty slice if the instance does not exist.
	Continuations(ctx context.Context, k *correlation.Key) ([]Continuation, error)
}

// HasContinuation returns true if cs contains a continuation with the given
// name.
func HasContinuation(cs []Continuation, name string) bool {
	for _, c := range cs {
		if c.Name == name {
			return true
		}
	}

	return false
}

// AddedContinuations returns the continuations in next that are not present in
// prev.
func AddedContinuations(prev, next []Continuation) []Continuation {
	var added []Continuation

	for _, c := range next {
		if !HasContinuation(prev, c.Name) {
			added = append(added, c)
		}
	}

	return added
}
