package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/internal/mlog"
	"github.com/dogmatiq/harbor/metrics"
	"github.com/dogmatiq/linger"
)

// DefaultPersistTimeout is the default duration allowed for an instance to
// persist its state while a transaction is being prepared.
//
// It is overridden by the WithPersistTimeout() option.
var DefaultPersistTimeout = 30 * time.Second

// Instance is a durable process instance whose state is persisted as part of
// a transaction.
type Instance interface {
	// Persist writes the instance's state to durable storage.
	Persist(ctx context.Context) error

	// OnTransactionPrepared is called when the instance's state has been
	// persisted and the coordinator has voted to commit.
	OnTransactionPrepared()

	// TransactionCommitted is called when the transaction has committed.
	TransactionCommitted()

	// OnTransactionAbortOrInDoubt is called when the transaction has aborted
	// or its outcome is unknown. err describes the outcome.
	OnTransactionAbortOrInDoubt(err error)
}

// EnlistOption configures the behavior of a Coordinator.
type EnlistOption func(*Coordinator)

// WithPersistTimeout returns an option that sets the duration allowed for the
// instance to persist its state.
//
// If this option is omitted or d is zero, DefaultPersistTimeout is used.
func WithPersistTimeout(d time.Duration) EnlistOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(c *Coordinator) {
		c.persistTimeout = d
	}
}

// WithLogger returns an option that sets the target for log messages produced
// by the coordinator.
func WithLogger(l logging.Logger) EnlistOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics returns an option that sets the metrics used to record the
// coordinator's votes.
func WithMetrics(m *metrics.Metrics) EnlistOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator is a volatile participant that persists a single instance as
// part of a transaction.
type Coordinator struct {
	tx             Transaction
	inst           Instance
	persistTimeout time.Duration
	logger         logging.Logger
	metrics        *metrics.Metrics

	m        sync.Mutex
	prepared bool
	notified bool
}

// Enlist enlists a coordinator for inst in tx.
//
// There must be at most one coordinator per instance and transaction.
func Enlist(
	tx Transaction,
	inst Instance,
	options ...EnlistOption,
) (*Coordinator, error) {
	c := &Coordinator{
		tx:             tx,
		inst:           inst,
		persistTimeout: DefaultPersistTimeout,
		logger:         logging.DefaultLogger,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.persistTimeout == 0 {
		c.persistTimeout = DefaultPersistTimeout
	}

	if c.logger == nil {
		c.logger = logging.DefaultLogger
	}

	if err := tx.EnlistVolatile(c); err != nil {
		return nil, err
	}

	return c, nil
}

// Prepare persists the instance and votes on the outcome of the transaction.
//
// Transaction-specific errors produced while persisting are converted into a
// vote to roll back. Any other error is returned.
func (c *Coordinator) Prepare(ctx context.Context, e PreparingEnlistment) error {
	c.m.Lock()
	if c.prepared {
		c.m.Unlock()
		panic("coordinator has already been prepared")
	}
	c.prepared = true
	c.m.Unlock()

	ctx, cancel := linger.ContextWithTimeout(ctx, c.persistTimeout)
	defer cancel()

	err := c.inst.Persist(ctx)

	if err == nil {
		c.inst.OnTransactionPrepared()
		c.metrics.Voted(metrics.PreparedVote)
		e.Prepared()
		return nil
	}

	if IsTransactionError(err) {
		mlog.LogTransactionError(
			c.logger,
			string(c.tx.ID()),
			"voting to roll back: %s",
			err,
		)

		c.metrics.Voted(metrics.ForceRollbackVote)
		e.ForceRollback(err)
		return nil
	}

	return err
}

// Commit notifies the instance that the transaction committed.
func (c *Coordinator) Commit(e Enlistment) {
	e.Done()
	c.notify(c.inst.TransactionCommitted)
}

// Rollback notifies the instance that the transaction aborted.
func (c *Coordinator) Rollback(e Enlistment) {
	e.Done()
	c.notifyFailure()
}

// InDoubt notifies the instance that the outcome of the transaction is
// unknown.
func (c *Coordinator) InDoubt(e Enlistment) {
	e.Done()
	c.notifyFailure()
}

func (c *Coordinator) notifyFailure() {
	err := ErrorFromStatus(c.tx)
	if err == nil {
		panic(fmt.Sprintf(
			"transaction %s is %s, expected it to be aborted or in-doubt",
			c.tx.ID(),
			c.tx.Status(),
		))
	}

	c.notify(func() {
		c.inst.OnTransactionAbortOrInDoubt(err)
	})
}

// notify calls fn unless the instance has already been notified of the
// transaction's outcome.
func (c *Coordinator) notify(fn func()) {
	c.m.Lock()
	if c.notified {
		c.m.Unlock()
		return
	}
	c.notified = true
	c.m.Unlock()

	fn()
}
