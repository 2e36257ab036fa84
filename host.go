// Package harbor buffers inbound requests until the durable process instances
// they correlate to are ready for them, and coordinates the persistence of
// those instances with the ambient transaction.
package harbor

import (
	"context"
	"errors"
	"sync"

	"github.com/dogmatiq/harbor/buffer"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/internal/mlog"
	"github.com/dogmatiq/harbor/internal/x/loggingx"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/semaphore"
	"github.com/dogmatiq/harbor/throttle"
	"github.com/dogmatiq/harbor/transaction"
)

// ErrHostClosed is returned by operations on a host that has been closed.
var ErrHostClosed = errors.New("host is closed")

// Snapshot returns the state of a process instance and the continuation points
// at which it is waiting.
type Snapshot func() ([]byte, []persistence.Continuation, error)

// Host buffers requests for the process instances it hosts and persists those
// instances within transactions.
type Host struct {
	opts       *hostOptions
	calculator *buffer.Calculator
	throttle   *throttle.Throttle
	manager    *buffer.Manager

	m        sync.Mutex
	closed   bool
	contexts map[string]*transaction.PersistenceContext
}

// New returns a new host.
//
// At least the WithEngine() option must be specified.
func New(options ...HostOption) *Host {
	opts := resolveHostOptions(options...)

	calc := buffer.NewCalculator(
		opts.Engine,
		opts.Scope,
		&correlation.Cache{
			Capacity: opts.CacheCapacity,
		},
	)

	thr := &throttle.Throttle{
		Limit:   opts.ThrottleLimit,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}

	return &Host{
		opts:       opts,
		calculator: calc,
		throttle:   thr,
		manager: &buffer.Manager{
			Calculator:     calc,
			Throttle:       thr,
			Directory:      opts.Store,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
			AbandonTimeout: opts.AbandonTimeout,
			Semaphore:      semaphore.New(int(opts.AbandonConcurrency)),
		},
	}
}

// CalculateKeys computes the correlation keys of req.
func (h *Host) CalculateKeys(req *buffer.Request) (
	found bool,
	primary *correlation.Key,
	additional []*correlation.Key,
	err error,
) {
	return h.calculator.CalculateKeys(req)
}

// BufferReceive buffers req until its target instance reaches the
// continuation point with the given name.
//
// See buffer.Manager.BufferReceive().
func (h *Host) BufferReceive(
	ctx context.Context,
	req *buffer.Request,
	ack buffer.AckHandle,
	continuation string,
	state interface{},
	retry bool,
) (bool, error) {
	if h.isClosed() {
		return false, ErrHostClosed
	}

	return h.manager.BufferReceive(ctx, req, ack, continuation, state, retry)
}

// Retry replays the buffered requests that are waiting for any of the
// available continuation points on the instances identified by keys.
func (h *Host) Retry(
	keys []*correlation.Key,
	available []persistence.Continuation,
) int {
	return h.manager.Retry(keys, available)
}

// AbandonBufferedReceives abandons the requests buffered for the instances
// identified by keys. It is called when those instances are unloaded.
func (h *Host) AbandonBufferedReceives(ctx context.Context, keys ...*correlation.Key) {
	h.manager.AbandonBufferedReceives(ctx, keys...)

	h.m.Lock()
	defer h.m.Unlock()

	for _, k := range keys {
		key := k.Canonical()
		if pc, ok := h.contexts[key]; ok && !pc.IsLocked() && pc.QueueLen() == 0 {
			delete(h.contexts, key)
		}
	}
}

// AbandonAllBufferedReceives abandons every buffered request.
func (h *Host) AbandonAllBufferedReceives(ctx context.Context) {
	h.manager.AbandonAllBufferedReceives(ctx)
}

// Pending returns the number of requests buffered for the instance identified
// by k.
func (h *Host) Pending(k *correlation.Key) int {
	return h.manager.Pending(k)
}

// Outstanding returns the number of requests currently counted against the
// throttle limit of the given channel.
func (h *Host) Outstanding(ch throttle.ChannelID) int {
	return h.throttle.Count(ch)
}

// Persist persists the state of the instance identified by k as part of tx.
//
// It blocks until tx holds the instance's persistence context, then enlists a
// coordinator that stages the snapshot when tx is prepared. The snapshot is
// applied when tx commits and discarded if it aborts. Buffered requests
// waiting for continuation points that become available are replayed once the
// snapshot is applied.
//
// The instance's revision is read once tx holds the context. If the instance
// is modified elsewhere before tx is prepared, tx aborts with a
// persistence.ConflictError.
//
// If tx is nil the snapshot is written immediately.
func (h *Host) Persist(
	ctx context.Context,
	tx transaction.Transaction,
	k *correlation.Key,
	snapshot Snapshot,
) error {
	pc, w, err := h.wait(k, tx)
	if err != nil {
		return err
	}

	if err := w.Wait(ctx); err != nil {
		if tx == nil {
			// The lock may still be granted after ctx is canceled, in which
			// case nothing else will release it.
			w.OnComplete(func(err error) {
				if err == nil {
					pc.Release()
				}
			})
		}

		return err
	}

	inst := &persistence.PersistedInstance{
		Store:             h.opts.Store,
		Key:               k,
		Snapshot:          snapshot,
		OnCommitted:       h.committed,
		OnFailed:          h.failed,
		CompletionTimeout: h.opts.PersistTimeout,
	}

	if tx == nil {
		defer pc.Release()
		return inst.Save(ctx)
	}

	inst.Transaction = tx.ID()

	if _, err := inst.Load(ctx); err != nil {
		return err
	}

	_, err = transaction.Enlist(
		tx,
		inst,
		transaction.WithPersistTimeout(h.opts.PersistTimeout),
		transaction.WithLogger(h.opts.Logger),
		transaction.WithMetrics(h.opts.Metrics),
	)

	return err
}

// Close abandons all buffered requests and closes the host's store.
func (h *Host) Close(ctx context.Context) error {
	h.m.Lock()
	if h.closed {
		h.m.Unlock()
		return ErrHostClosed
	}
	h.closed = true
	h.contexts = nil
	h.m.Unlock()

	h.manager.AbandonAllBufferedReceives(ctx)

	return h.opts.Store.Close()
}

// wait requests the persistence context of the instance identified by k on
// behalf of tx.
//
// The context is requested under h.m, which AbandonBufferedReceives() also
// holds while discarding idle contexts.
func (h *Host) wait(
	k *correlation.Key,
	tx transaction.Transaction,
) (*transaction.PersistenceContext, *transaction.Waiter, error) {
	h.m.Lock()
	defer h.m.Unlock()

	if h.closed {
		return nil, nil, ErrHostClosed
	}

	key := k.Canonical()
	pc, ok := h.contexts[key]

	if !ok {
		pc = &transaction.PersistenceContext{
			Timers: h.opts.Timers,
			Logger: loggingx.WithPrefix(
				h.opts.Logger,
				mlog.InstanceKeyIcon.WithLabel("%s", key).String()+"  ",
			),
			Metrics: h.opts.Metrics,
		}

		if h.contexts == nil {
			h.contexts = map[string]*transaction.PersistenceContext{}
		}
		h.contexts[key] = pc
	}

	return pc, pc.Wait(tx, h.opts.WaitTimeout), nil
}

// committed replays the requests waiting for continuation points that were
// added to an instance.
func (h *Host) committed(k *correlation.Key, added []persistence.Continuation) {
	h.manager.Retry([]*correlation.Key{k}, added)
}

// failed logs the failure of a transaction that persisted an instance.
func (h *Host) failed(k *correlation.Key, err error) {
	mlog.LogTransactionError(
		h.opts.Logger,
		transactionID(err),
		"instance %s was not persisted: %s",
		k.Canonical(),
		err,
	)
}

func (h *Host) isClosed() bool {
	h.m.Lock()
	defer h.m.Unlock()

	return h.closed
}

// transactionID returns the ID of the transaction that err relates to, if
// known.
func transactionID(err error) string {
	var e *transaction.Error
	if errors.As(err, &e) {
		return string(e.Transaction)
	}

	return ""
}
