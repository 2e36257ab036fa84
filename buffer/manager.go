// Package buffer holds inbound requests until the process instance they
// correlate to is ready to receive them.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/internal/mlog"
	"github.com/dogmatiq/harbor/metrics"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/semaphore"
	"github.com/dogmatiq/harbor/throttle"
	"github.com/dogmatiq/linger"
)

// DefaultAbandonTimeout is the default duration allowed for abandoning the
// acknowledgment handle of a single buffered request.
var DefaultAbandonTimeout = 10 * time.Second

// Manager buffers requests that arrive before their target instance is ready
// for them, and replays them once it is.
type Manager struct {
	// Calculator computes the correlation keys of each request.
	Calculator *Calculator

	// Throttle limits the number of requests that may be buffered for each
	// inbound channel.
	Throttle *throttle.Throttle

	// Directory is used to query the continuation points that are already
	// available on an instance.
	Directory persistence.Directory

	// Logger is the target for log messages about buffered requests. If it is
	// nil, logging.DefaultLogger is used.
	Logger logging.Logger

	// Metrics records buffer activity. It may be nil.
	Metrics *metrics.Metrics

	// AbandonTimeout is the duration allowed for abandoning a single request.
	// If it is zero, DefaultAbandonTimeout is used.
	AbandonTimeout time.Duration

	// Semaphore limits the number of requests that are abandoned
	// concurrently. The zero-value imposes no limit.
	Semaphore semaphore.Semaphore

	m       sync.Mutex
	pending map[string][]*record
}

// BufferReceive buffers a request until its target instance reaches the
// continuation point with the given name.
//
// If retry is true, or the instance is already waiting at the continuation
// point, the request is replayed immediately instead.
//
// It returns false if the request is not correlated to an instance, or if its
// channel has too many buffered requests. In this case the caller retains
// responsibility for ack.
func (m *Manager) BufferReceive(
	ctx context.Context,
	req *Request,
	ack AckHandle,
	continuation string,
	state interface{},
	retry bool,
) (bool, error) {
	found, primary, additional, err := m.Calculator.CalculateKeys(req)
	if err != nil {
		return false, err
	}

	if !found || primary == nil {
		return false, nil
	}

	if !m.Throttle.Acquire(req.Channel) {
		return false, nil
	}

	r := &record{
		ack:          ack,
		channel:      req.Channel,
		continuation: continuation,
		state:        state,
		primary:      primary,
		additional:   additional,
	}

	ack.OnFault(func() {
		m.fault(r)
	})

	m.m.Lock()

	if !ack.IsReceived() {
		m.m.Unlock()
		m.Throttle.Release(r.channel)
		return false, nil
	}

	ack.DelayClose(true)
	ack.RegisterForReplay()

	if retry {
		m.m.Unlock()

		m.replay(r, true)
		m.Throttle.Release(r.channel)

		return true, nil
	}

	// The record is buffered before the directory is queried so that a
	// concurrent Retry() for the same continuation point can claim it.
	if m.pending == nil {
		m.pending = map[string][]*record{}
	}

	key := primary.Canonical()
	m.pending[key] = append(m.pending[key], r)

	m.m.Unlock()

	available, err := m.Directory.Continuations(ctx, primary)
	if err != nil {
		if !m.claim(r) {
			// Replayed by Retry() or abandoned while querying the directory.
			return true, nil
		}

		ack.DelayClose(false)
		m.Throttle.Release(r.channel)

		return false, err
	}

	if persistence.HasContinuation(available, continuation) {
		if m.claim(r) {
			m.replay(r, true)
			m.Throttle.Release(r.channel)
		}

		return true, nil
	}

	m.Metrics.RequestBuffered()

	mlog.LogBuffered(
		m.logger(),
		key,
		uint64(r.channel),
		continuation,
	)

	return true, nil
}

// Retry replays the buffered requests that are waiting for any of the
// available continuation points on the instances identified by keys.
//
// Each available continuation point is consumed by at most one request. It
// returns the number of requests that were replayed.
func (m *Manager) Retry(
	keys []*correlation.Key,
	available []persistence.Continuation,
) int {
	available = append([]persistence.Continuation(nil), available...)

	var matched []*record

	m.m.Lock()

	for _, k := range keys {
		if len(available) == 0 {
			break
		}

		key := k.Canonical()
		records := m.pending[key]

		for i := 0; i < len(records) && len(available) > 0; {
			r := records[i]

			j := indexOfContinuation(available, r.continuation)
			if j == -1 {
				i++
				continue
			}

			records = append(records[:i], records[i+1:]...)
			available = append(available[:j], available[j+1:]...)
			matched = append(matched, r)
		}

		m.setPending(key, records)
	}

	m.m.Unlock()

	for _, r := range matched {
		m.replay(r, false)
		m.Throttle.Release(r.channel)
	}

	return len(matched)
}

// AbandonBufferedReceives abandons all of the requests buffered for the
// instances identified by keys.
func (m *Manager) AbandonBufferedReceives(ctx context.Context, keys ...*correlation.Key) {
	var records []*record

	m.m.Lock()
	for _, k := range keys {
		key := k.Canonical()
		records = append(records, m.pending[key]...)
		delete(m.pending, key)
	}
	m.m.Unlock()

	m.abandon(ctx, records, "instance unloaded")
}

// AbandonAllBufferedReceives abandons every buffered request.
func (m *Manager) AbandonAllBufferedReceives(ctx context.Context) {
	var records []*record

	m.m.Lock()
	for _, rs := range m.pending {
		records = append(records, rs...)
	}
	m.pending = nil
	m.m.Unlock()

	m.abandon(ctx, records, "host shutting down")
}

// Pending returns the number of requests buffered for the instance identified
// by k.
func (m *Manager) Pending(k *correlation.Key) int {
	m.m.Lock()
	defer m.m.Unlock()

	return len(m.pending[k.Canonical()])
}

// Inspect returns a description of each request buffered for the instance
// identified by k, in the order they were buffered.
func (m *Manager) Inspect(k *correlation.Key) []PendingRequest {
	m.m.Lock()
	defer m.m.Unlock()

	var result []PendingRequest
	for _, r := range m.pending[k.Canonical()] {
		result = append(result, r.describe())
	}

	return result
}

// Len returns the total number of buffered requests.
func (m *Manager) Len() int {
	m.m.Lock()
	defer m.m.Unlock()

	n := 0
	for _, rs := range m.pending {
		n += len(rs)
	}

	return n
}

// fault removes r from the buffer and abandons it, unless it has already been
// claimed by another path.
func (m *Manager) fault(r *record) {
	if !m.claim(r) {
		return
	}

	m.abandon(context.Background(), []*record{r}, "request faulted")
}

// claim removes r from the buffer. It returns false if r is not buffered.
func (m *Manager) claim(r *record) bool {
	m.m.Lock()
	defer m.m.Unlock()

	key := r.primary.Canonical()
	records := m.pending[key]

	for i, x := range records {
		if x == r {
			m.setPending(key, append(records[:i], records[i+1:]...))
			return true
		}
	}

	return false
}

// setPending replaces the records buffered under key. m.m must be held.
func (m *Manager) setPending(key string, records []*record) {
	if len(records) == 0 {
		delete(m.pending, key)
	} else {
		m.pending[key] = records
	}
}

// replay delivers r to its target instance. r.ack must already be registered
// for replay.
//
// immediate is true if r was not waiting for its continuation point.
func (m *Manager) replay(r *record, immediate bool) {
	mode := metrics.BufferedReplay

	if immediate {
		mode = metrics.ImmediateReplay
	}

	r.ack.ReplayRequest()
	r.ack.NotifyInvokeReceived()

	m.Metrics.RequestReplayed(mode)

	mlog.LogReplay(
		m.logger(),
		r.primary.Canonical(),
		uint64(r.channel),
		r.continuation,
		immediate,
	)
}

// abandon abandons the acknowledgment handle of each record and releases
// their throttle slots. Records must already be removed from the buffer.
func (m *Manager) abandon(ctx context.Context, records []*record, cause string) {
	var g sync.WaitGroup

	for _, r := range records {
		r := r // capture loop variable

		if err := m.Semaphore.Acquire(ctx); err != nil {
			r.ack.Abort()
			m.release(r, cause, err)
			continue
		}

		g.Add(1)
		go func() {
			defer g.Done()
			defer m.Semaphore.Release()

			actx, cancel := linger.ContextWithTimeout(ctx, m.abandonTimeout())
			defer cancel()

			m.release(r, cause, r.ack.Abandon(actx))
		}()
	}

	g.Wait()
}

// release releases the throttle slot of an abandoned record.
func (m *Manager) release(r *record, cause string, err error) {
	m.Throttle.Release(r.channel)
	m.Metrics.RequestAbandoned()

	mlog.LogAbandon(
		m.logger(),
		r.primary.Canonical(),
		uint64(r.channel),
		r.continuation,
		cause,
		err,
	)
}

func (m *Manager) abandonTimeout() time.Duration {
	if m.AbandonTimeout > 0 {
		return m.AbandonTimeout
	}

	return DefaultAbandonTimeout
}

func (m *Manager) logger() logging.Logger {
	if m.Logger != nil {
		return m.Logger
	}

	return logging.DefaultLogger
}

func indexOfContinuation(cs []persistence.Continuation, name string) int {
	for i, c := range cs {
		if c.Name == name {
			return i
		}
	}

	return -1
}
