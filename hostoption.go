package harbor

import (
	"runtime"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/metrics"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/memorypersistence"
	"github.com/dogmatiq/harbor/throttle"
	"github.com/dogmatiq/harbor/timer"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DefaultScope is the default correlation scope of the keys computed by
	// the host.
	//
	// It is overridden by the WithScope() option.
	DefaultScope = "harbor"

	// DefaultThrottleLimit is the default number of requests that may be
	// buffered concurrently for each inbound channel.
	//
	// It is overridden by the WithThrottleLimit() option.
	DefaultThrottleLimit = throttle.DefaultLimit

	// DefaultCacheCapacity is the default number of primary correlation keys
	// kept in the key cache.
	//
	// It is overridden by the WithCacheCapacity() option.
	DefaultCacheCapacity = correlation.DefaultCacheCapacity

	// DefaultWaitTimeout is the default duration a transaction waits for an
	// instance's persistence context before giving up.
	//
	// It is overridden by the WithWaitTimeout() option.
	DefaultWaitTimeout = 30 * time.Second

	// DefaultPersistTimeout is the default duration allowed for an instance to
	// persist its state while a transaction is being prepared.
	//
	// It is overridden by the WithPersistTimeout() option.
	DefaultPersistTimeout = 30 * time.Second

	// DefaultAbandonTimeout is the default duration allowed for abandoning a
	// single buffered request.
	//
	// It is overridden by the WithAbandonTimeout() option.
	DefaultAbandonTimeout = 10 * time.Second

	// DefaultAbandonConcurrency is the default number of buffered requests
	// that are abandoned concurrently.
	//
	// It is overridden by the WithAbandonConcurrency() option.
	DefaultAbandonConcurrency = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultLogger is the default target for log messages produced by the
	// host.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// HostOption configures the behavior of a host.
type HostOption func(*hostOptions)

// WithEngine returns a host option that sets the engine used to evaluate
// correlation queries.
//
// This option is required.
func WithEngine(e correlation.Engine) HostOption {
	return func(opts *hostOptions) {
		opts.Engine = e
	}
}

// WithScope returns a host option that sets the correlation scope of the keys
// computed by the host.
//
// If this option is omitted or s is empty, DefaultScope is used.
func WithScope(s string) HostOption {
	return func(opts *hostOptions) {
		opts.Scope = s
	}
}

// WithStore returns a host option that sets the store used to persist process
// instances.
//
// If this option is omitted or s is nil, each host uses its own in-memory
// store.
func WithStore(s persistence.Store) HostOption {
	return func(opts *hostOptions) {
		opts.Store = s
	}
}

// WithThrottleLimit returns a host option that sets the number of requests
// that may be buffered concurrently for each inbound channel.
//
// If this option is omitted or n is zero, DefaultThrottleLimit is used.
func WithThrottleLimit(n int) HostOption {
	if n < 0 {
		panic("limit must not be negative")
	}

	return func(opts *hostOptions) {
		opts.ThrottleLimit = n
	}
}

// WithCacheCapacity returns a host option that sets the number of primary
// correlation keys kept in the key cache.
//
// If this option is omitted or n is zero, DefaultCacheCapacity is used.
func WithCacheCapacity(n int) HostOption {
	if n < 0 {
		panic("capacity must not be negative")
	}

	return func(opts *hostOptions) {
		opts.CacheCapacity = n
	}
}

// WithWaitTimeout returns a host option that sets the duration a transaction
// waits for an instance's persistence context before giving up.
//
// If this option is omitted or d is zero, DefaultWaitTimeout is used.
func WithWaitTimeout(d time.Duration) HostOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *hostOptions) {
		opts.WaitTimeout = d
	}
}

// WithPersistTimeout returns a host option that sets the duration allowed for
// an instance to persist its state.
//
// If this option is omitted or d is zero, DefaultPersistTimeout is used.
func WithPersistTimeout(d time.Duration) HostOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *hostOptions) {
		opts.PersistTimeout = d
	}
}

// WithAbandonTimeout returns a host option that sets the duration allowed for
// abandoning a single buffered request.
//
// If this option is omitted or d is zero, DefaultAbandonTimeout is used.
func WithAbandonTimeout(d time.Duration) HostOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *hostOptions) {
		opts.AbandonTimeout = d
	}
}

// WithAbandonConcurrency returns a host option that limits the number of
// buffered requests that are abandoned at the same time.
//
// If this option is omitted or n is zero, DefaultAbandonConcurrency is used.
func WithAbandonConcurrency(n uint) HostOption {
	return func(opts *hostOptions) {
		opts.AbandonConcurrency = n
	}
}

// WithMetrics returns a host option that registers the host's Prometheus
// collectors with r.
//
// If this option is omitted the collectors are created but not registered.
func WithMetrics(r prometheus.Registerer) HostOption {
	return func(opts *hostOptions) {
		opts.Registerer = r
	}
}

// WithTimers returns a host option that sets the scheduler used for wait
// timeouts.
//
// If this option is omitted or s is nil, timer.System is used.
func WithTimers(s timer.Scheduler) HostOption {
	return func(opts *hostOptions) {
		opts.Timers = s
	}
}

// WithLogger returns a host option that sets the target for log messages
// produced by the host.
//
// If this option is omitted or l is nil, DefaultLogger is used.
func WithLogger(l logging.Logger) HostOption {
	return func(opts *hostOptions) {
		opts.Logger = l
	}
}

// hostOptions is a container for a fully-resolved set of host options.
type hostOptions struct {
	Engine             correlation.Engine
	Scope              string
	Store              persistence.Store
	ThrottleLimit      int
	CacheCapacity      int
	WaitTimeout        time.Duration
	PersistTimeout     time.Duration
	AbandonTimeout     time.Duration
	AbandonConcurrency uint
	Registerer         prometheus.Registerer
	Metrics            *metrics.Metrics
	Timers             timer.Scheduler
	Logger             logging.Logger
}

// resolveHostOptions returns a fully-populated set of host options built from
// the given set of option functions.
func resolveHostOptions(options ...HostOption) *hostOptions {
	opts := &hostOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.Engine == nil {
		panic("no correlation engine configured, see harbor.WithEngine()")
	}

	if opts.Scope == "" {
		opts.Scope = DefaultScope
	}

	if opts.Store == nil {
		opts.Store = &memorypersistence.Store{}
	}

	if opts.ThrottleLimit == 0 {
		opts.ThrottleLimit = DefaultThrottleLimit
	}

	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}

	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}

	if opts.PersistTimeout == 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}

	if opts.AbandonTimeout == 0 {
		opts.AbandonTimeout = DefaultAbandonTimeout
	}

	if opts.AbandonConcurrency == 0 {
		opts.AbandonConcurrency = DefaultAbandonConcurrency
	}

	if opts.Timers == nil {
		opts.Timers = timer.System
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	opts.Metrics = metrics.New(opts.Registerer)

	return opts
}
