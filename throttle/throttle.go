// Package throttle limits the number of requests that may be buffered
// concurrently for each inbound channel.
package throttle

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/internal/mlog"
	"github.com/dogmatiq/harbor/metrics"
)

// DefaultLimit is the default number of requests that may be buffered for a
// single channel at the same time.
const DefaultLimit = 512

// ChannelID is a stable identifier for an inbound channel.
type ChannelID uint64

// ChannelIDOf returns the ID of the channel with the given name.
func ChannelIDOf(name string) ChannelID {
	return ChannelID(xxhash.Sum64String(name))
}

// Throttle bounds the number of outstanding requests per channel.
//
// It is safe for concurrent use.
type Throttle struct {
	// Limit is the maximum number of outstanding requests per channel. If it is
	// non-positive, DefaultLimit is used.
	Limit int

	// Logger is the target for throttle warnings. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger

	// Metrics records rejections and warnings. It may be nil.
	Metrics *metrics.Metrics

	m        sync.Mutex
	channels map[ChannelID]*entry
}

// entry is the bookkeeping for a single channel.
type entry struct {
	count  int
	warned bool
}

// Acquire attempts to reserve a slot for a request on the given channel.
//
// It returns false if the channel already has the maximum number of
// outstanding requests.
func (t *Throttle) Acquire(ch ChannelID) bool {
	limit := t.limit()

	t.m.Lock()

	e, ok := t.channels[ch]
	if !ok {
		if t.channels == nil {
			t.channels = map[ChannelID]*entry{}
		}

		e = &entry{}
		t.channels[ch] = e
	}

	if e.count < limit {
		e.count++
		t.m.Unlock()
		return true
	}

	// Only warn once per sustained breach. The flag is cleared by Release()
	// once the count has fallen far enough below the limit.
	warn := !e.warned
	e.warned = true

	t.m.Unlock()

	t.Metrics.ThrottleRejected(warn)

	if warn {
		mlog.LogThrottleWarning(t.logger(), uint64(ch), limit)
	}

	return false
}

// Release frees a slot previously reserved by Acquire().
//
// It panics if there are no outstanding slots on the channel.
func (t *Throttle) Release(ch ChannelID) {
	t.m.Lock()
	defer t.m.Unlock()

	e, ok := t.channels[ch]
	if !ok || e.count <= 0 {
		panic(fmt.Sprintf("channel %d has no outstanding requests", ch))
	}

	e.count--

	if e.count == 0 {
		delete(t.channels, ch)
		return
	}

	if e.count < resetThreshold(t.limit()) {
		e.warned = false
	}
}

// Count returns the number of outstanding requests on the given channel.
func (t *Throttle) Count(ch ChannelID) int {
	t.m.Lock()
	defer t.m.Unlock()

	if e, ok := t.channels[ch]; ok {
		return e.count
	}

	return 0
}

// Channels returns the number of channels with outstanding requests.
func (t *Throttle) Channels() int {
	t.m.Lock()
	defer t.m.Unlock()

	return len(t.channels)
}

func (t *Throttle) limit() int {
	if t.Limit > 0 {
		return t.Limit
	}

	return DefaultLimit
}

func (t *Throttle) logger() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}

	return logging.DefaultLogger
}

// resetThreshold returns the count below which a channel's warning is re-armed.
func resetThreshold(limit int) int {
	return limit * 7 / 10
}
