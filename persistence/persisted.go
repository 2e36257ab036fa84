package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/transaction"
	"go.uber.org/multierr"
)

// DefaultCompletionTimeout is the default duration allowed for a staged
// write to be applied or discarded once the outcome of its transaction is
// known.
var DefaultCompletionTimeout = 10 * time.Second

// PersistedInstance is a transaction.Instance that stages a snapshot of a
// process instance in a Store when the transaction is prepared, and applies it
// when the transaction commits.
type PersistedInstance struct {
	// Store is the store that the instance is persisted to.
	Store Store

	// Key is the instance's correlation key.
	Key *correlation.Key

	// Transaction is the ID of the transaction that the instance is persisted
	// within. It is not required by Save().
	Transaction transaction.ID

	// Snapshot returns the instance's current state and the continuation
	// points at which it is waiting.
	Snapshot func() ([]byte, []Continuation, error)

	// OnCommitted, if non-nil, is called after the snapshot is applied with
	// the continuation points that became available as a result.
	OnCommitted func(k *correlation.Key, added []Continuation)

	// OnFailed, if non-nil, is called when the transaction aborts, its
	// outcome is unknown, or the staged snapshot can not be applied.
	OnFailed func(k *correlation.Key, err error)

	// CompletionTimeout is the duration allowed to apply or discard the staged
	// snapshot. If it is zero, DefaultCompletionTimeout is used.
	CompletionTimeout time.Duration

	m        sync.Mutex
	loaded   bool
	current  Instance
	pending  *Instance
	prepared bool
}

var _ transaction.Instance = (*PersistedInstance)(nil)

// Revision returns the instance's last committed revision.
//
// It returns zero if the instance has not yet been loaded.
func (p *PersistedInstance) Revision() uint64 {
	p.m.Lock()
	defer p.m.Unlock()

	return p.current.Revision
}

// Load loads the instance's committed state from the store, if it has not
// already been loaded.
func (p *PersistedInstance) Load(ctx context.Context) (Instance, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if err := p.load(ctx); err != nil {
		return Instance{}, err
	}

	return p.current, nil
}

// Save writes the instance's current snapshot to the store immediately,
// outside of any transaction.
func (p *PersistedInstance) Save(ctx context.Context) error {
	p.m.Lock()

	next, err := p.snapshot(ctx)
	if err == nil {
		err = p.Store.SaveInstance(ctx, next)
	}

	if err != nil {
		p.loaded = false
		p.m.Unlock()
		return err
	}

	next.Revision++
	added := p.adopt(next)
	p.m.Unlock()

	p.report(added)

	return nil
}

// Persist stages the instance's current snapshot in the store. It is not
// visible until the transaction commits.
//
// A ConflictError indicates that another party modified the instance; it is
// not a transaction error, so it aborts the transaction and is reported to the
// party committing it.
func (p *PersistedInstance) Persist(ctx context.Context) error {
	p.m.Lock()
	defer p.m.Unlock()

	next, err := p.snapshot(ctx)
	if err != nil {
		return err
	}

	if err := p.Store.StageInstance(ctx, string(p.Transaction), next); err != nil {
		return err
	}

	next.Revision++
	p.pending = &next

	return nil
}

// OnTransactionPrepared records that the snapshot was staged and the
// coordinator voted to commit.
func (p *PersistedInstance) OnTransactionPrepared() {
	p.m.Lock()
	defer p.m.Unlock()

	p.prepared = true
}

// TransactionCommitted applies the staged snapshot, adopts it as the committed
// state and reports any newly available continuation points.
func (p *PersistedInstance) TransactionCommitted() {
	p.m.Lock()

	pending := p.pending
	prepared := p.prepared
	p.pending = nil
	p.prepared = false

	if !prepared || pending == nil {
		p.m.Unlock()
		return
	}

	ctx, cancel := p.completionContext()
	defer cancel()

	if err := p.Store.CommitInstance(ctx, string(p.Transaction), pending.Key); err != nil {
		p.loaded = false
		p.m.Unlock()

		if p.OnFailed != nil {
			p.OnFailed(p.Key, err)
		}

		return
	}

	added := p.adopt(*pending)
	p.m.Unlock()

	p.report(added)
}

// OnTransactionAbortOrInDoubt discards the staged snapshot. The committed
// state is reloaded from the store before the next persist.
//
// The snapshot is also discarded if the outcome is unknown.
func (p *PersistedInstance) OnTransactionAbortOrInDoubt(err error) {
	p.m.Lock()

	if p.pending != nil {
		ctx, cancel := p.completionContext()
		err = multierr.Append(
			err,
			p.Store.DiscardInstance(ctx, string(p.Transaction), p.pending.Key),
		)
		cancel()
	}

	p.pending = nil
	p.prepared = false
	p.loaded = false
	p.m.Unlock()

	if p.OnFailed != nil {
		p.OnFailed(p.Key, err)
	}
}

// snapshot returns the instance's current snapshot at its committed revision.
// p.m must be held.
func (p *PersistedInstance) snapshot(ctx context.Context) (Instance, error) {
	if err := p.load(ctx); err != nil {
		return Instance{}, err
	}

	data, continuations, err := p.Snapshot()
	if err != nil {
		return Instance{}, err
	}

	return Instance{
		Key:           p.Key.Canonical(),
		Revision:      p.current.Revision,
		Data:          data,
		Continuations: continuations,
	}, nil
}

// adopt makes inst the committed state and returns the continuation points
// that it added. p.m must be held.
func (p *PersistedInstance) adopt(inst Instance) []Continuation {
	prev := p.current
	p.current = inst
	p.loaded = true

	return AddedContinuations(prev.Continuations, inst.Continuations)
}

// report calls OnCommitted if any continuation points were added.
func (p *PersistedInstance) report(added []Continuation) {
	if p.OnCommitted != nil && len(added) > 0 {
		p.OnCommitted(p.Key, added)
	}
}

// completionContext returns the context used to apply or discard a staged
// snapshot.
func (p *PersistedInstance) completionContext() (context.Context, context.CancelFunc) {
	d := p.CompletionTimeout
	if d == 0 {
		d = DefaultCompletionTimeout
	}

	return context.WithTimeout(context.Background(), d)
}

// load loads the instance's state from the store if it is not already loaded.
// p.m must be held.
func (p *PersistedInstance) load(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	inst, err := p.Store.LoadInstance(ctx, p.Key.Canonical())
	if err != nil {
		return err
	}

	p.current = inst
	p.loaded = true

	return nil
}
