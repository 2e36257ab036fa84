package buffer

import "context"

// AckHandle is the acknowledgment handle of an inbound request.
//
// It is owned by the transport. The Manager uses it to hold the request open
// while it is buffered, and to replay or abandon it later.
type AckHandle interface {
	// DelayClose prevents the handle from being closed when the request's
	// initial processing completes.
	DelayClose(delay bool)

	// Abort discards the request without notifying the sender.
	Abort()

	// Abandon releases the request back to the sender so that it may be
	// delivered again.
	Abandon(ctx context.Context) error

	// OnFault registers fn to be called if the handle fails.
	OnFault(fn func())

	// IsReceived returns true if the handle is still in the received state,
	// that is, it has not faulted or been claimed by another party.
	IsReceived() bool

	// RegisterForReplay prepares the handle to be replayed.
	RegisterForReplay()

	// ReplayRequest delivers the request to its target instance again.
	ReplayRequest()

	// NotifyInvokeReceived notifies the target instance that a request has
	// arrived.
	NotifyInvokeReceived()
}
