package fixtures

import (
	"context"
	"sync"

	"github.com/dogmatiq/harbor/buffer"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/persistence"
)

// AckHandleStub is a test implementation of the buffer.AckHandle interface
// that records the calls made to it.
type AckHandleStub struct {
	buffer.AckHandle

	AbandonFunc    func(context.Context) error
	IsReceivedFunc func() bool

	m          sync.Mutex
	delayed    bool
	aborted    bool
	abandoned  int
	registered bool
	replayed   int
	notified   int
	onFault    []func()
}

// DelayClose records whether the handle's close is delayed.
func (h *AckHandleStub) DelayClose(delay bool) {
	h.m.Lock()
	defer h.m.Unlock()

	h.delayed = delay
}

// Abort records that the handle was aborted.
func (h *AckHandleStub) Abort() {
	h.m.Lock()
	defer h.m.Unlock()

	h.aborted = true
}

// Abandon records that the handle was abandoned.
func (h *AckHandleStub) Abandon(ctx context.Context) error {
	h.m.Lock()
	h.abandoned++
	h.m.Unlock()

	if h.AbandonFunc != nil {
		return h.AbandonFunc(ctx)
	}

	if h.AckHandle != nil {
		return h.AckHandle.Abandon(ctx)
	}

	return nil
}

// OnFault registers fn to be called by Fault().
func (h *AckHandleStub) OnFault(fn func()) {
	h.m.Lock()
	defer h.m.Unlock()

	h.onFault = append(h.onFault, fn)
}

// IsReceived returns true unless the handle has faulted.
func (h *AckHandleStub) IsReceived() bool {
	if h.IsReceivedFunc != nil {
		return h.IsReceivedFunc()
	}

	if h.AckHandle != nil {
		return h.AckHandle.IsReceived()
	}

	return true
}

// RegisterForReplay records that the handle was registered for replay.
func (h *AckHandleStub) RegisterForReplay() {
	h.m.Lock()
	defer h.m.Unlock()

	h.registered = true
}

// ReplayRequest records that the request was replayed.
func (h *AckHandleStub) ReplayRequest() {
	h.m.Lock()
	defer h.m.Unlock()

	h.replayed++
}

// NotifyInvokeReceived records that the instance was notified.
func (h *AckHandleStub) NotifyInvokeReceived() {
	h.m.Lock()
	defer h.m.Unlock()

	h.notified++
}

// Fault calls the functions registered with OnFault().
func (h *AckHandleStub) Fault() {
	h.m.Lock()
	fns := h.onFault
	h.m.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// IsCloseDelayed returns true if the handle's close is delayed.
func (h *AckHandleStub) IsCloseDelayed() bool {
	h.m.Lock()
	defer h.m.Unlock()

	return h.delayed
}

// IsAborted returns true if Abort() was called.
func (h *AckHandleStub) IsAborted() bool {
	h.m.Lock()
	defer h.m.Unlock()

	return h.aborted
}

// IsRegisteredForReplay returns true if RegisterForReplay() was called.
func (h *AckHandleStub) IsRegisteredForReplay() bool {
	h.m.Lock()
	defer h.m.Unlock()

	return h.registered
}

// Abandoned returns the number of times Abandon() was called.
func (h *AckHandleStub) Abandoned() int {
	h.m.Lock()
	defer h.m.Unlock()

	return h.abandoned
}

// Replayed returns the number of times ReplayRequest() was called.
func (h *AckHandleStub) Replayed() int {
	h.m.Lock()
	defer h.m.Unlock()

	return h.replayed
}

// Notified returns the number of times NotifyInvokeReceived() was called.
func (h *AckHandleStub) Notified() int {
	h.m.Lock()
	defer h.m.Unlock()

	return h.notified
}

// DirectoryStub is a test implementation of the persistence.Directory
// interface.
type DirectoryStub struct {
	persistence.Directory

	ContinuationsFunc func(context.Context, *correlation.Key) ([]persistence.Continuation, error)
}

// Continuations returns the continuation points available on the instance
// identified by k.
func (d *DirectoryStub) Continuations(
	ctx context.Context,
	k *correlation.Key,
) ([]persistence.Continuation, error) {
	if d.ContinuationsFunc != nil {
		return d.ContinuationsFunc(ctx, k)
	}

	if d.Directory != nil {
		return d.Directory.Continuations(ctx, k)
	}

	return nil, nil
}
