// Package metrics exposes Prometheus instrumentation for the buffering and
// transaction components.
//
// A nil *Metrics is valid and discards all observations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace used for all metrics.
const Namespace = "harbor"

// Metrics is a set of Prometheus collectors.
type Metrics struct {
	ThrottleRejections prometheus.Counter
	ThrottleWarnings   prometheus.Counter
	Buffered           prometheus.Gauge
	Replayed           *prometheus.CounterVec
	Abandoned          prometheus.Counter
	WaitQueueDepth     prometheus.Gauge
	WaitTimeouts       prometheus.Counter
	TransactionVotes   *prometheus.CounterVec
}

// New returns a new set of collectors, registered with r.
//
// If r is nil the collectors are not registered.
func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		ThrottleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "throttle",
			Name:      "rejections_total",
			Help:      "Number of requests rejected because their channel was at its limit.",
		}),
		ThrottleWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "throttle",
			Name:      "warnings_total",
			Help:      "Number of sustained throttle breaches.",
		}),
		Buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "pending",
			Help:      "Number of requests currently held in the buffer.",
		}),
		Replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "replayed_total",
			Help:      "Number of requests replayed to their target instance.",
		}, []string{"mode"}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "abandoned_total",
			Help:      "Number of buffered requests abandoned.",
		}),
		WaitQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "transaction",
			Name:      "waiters",
			Help:      "Number of transactions queued for a persistence context.",
		}),
		WaitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transaction",
			Name:      "wait_timeouts_total",
			Help:      "Number of transactions that timed-out waiting for a persistence context.",
		}),
		TransactionVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transaction",
			Name:      "votes_total",
			Help:      "Number of prepare votes cast by persistence coordinators.",
		}, []string{"vote"}),
	}

	if r != nil {
		r.MustRegister(
			m.ThrottleRejections,
			m.ThrottleWarnings,
			m.Buffered,
			m.Replayed,
			m.Abandoned,
			m.WaitQueueDepth,
			m.WaitTimeouts,
			m.TransactionVotes,
		)
	}

	return m
}

// Replay modes.
const (
	ImmediateReplay = "immediate"
	BufferedReplay  = "buffered"
)

// Vote labels.
const (
	PreparedVote      = "prepared"
	ForceRollbackVote = "force_rollback"
)

// ThrottleRejected records a rejected admission. warned is true if the
// rejection also produced a throttle warning.
func (m *Metrics) ThrottleRejected(warned bool) {
	if m == nil {
		return
	}

	m.ThrottleRejections.Inc()
	if warned {
		m.ThrottleWarnings.Inc()
	}
}

// RequestBuffered records a request being placed in the buffer.
func (m *Metrics) RequestBuffered() {
	if m != nil {
		m.Buffered.Inc()
	}
}

// RequestReplayed records a request being replayed. If the request was taken
// from the buffer, the buffered gauge is decremented.
func (m *Metrics) RequestReplayed(mode string) {
	if m == nil {
		return
	}

	m.Replayed.WithLabelValues(mode).Inc()
	if mode == BufferedReplay {
		m.Buffered.Dec()
	}
}

// RequestAbandoned records a buffered request being abandoned.
func (m *Metrics) RequestAbandoned() {
	if m != nil {
		m.Abandoned.Inc()
		m.Buffered.Dec()
	}
}

// WaiterQueued records a transaction being queued for a persistence context.
func (m *Metrics) WaiterQueued() {
	if m != nil {
		m.WaitQueueDepth.Inc()
	}
}

// WaiterDequeued records a queued transaction being granted the lock or timing
// out.
func (m *Metrics) WaiterDequeued(timedOut bool) {
	if m == nil {
		return
	}

	m.WaitQueueDepth.Dec()
	if timedOut {
		m.WaitTimeouts.Inc()
	}
}

// WaiterTimedOut records a timeout of a waiter that had already been removed
// from the queue.
func (m *Metrics) WaiterTimedOut() {
	if m != nil {
		m.WaitTimeouts.Inc()
	}
}

// Voted records a prepare vote.
func (m *Metrics) Voted(vote string) {
	if m != nil {
		m.TransactionVotes.WithLabelValues(vote).Inc()
	}
}
