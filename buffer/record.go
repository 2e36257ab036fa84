package buffer

import (
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/throttle"
)

// record is a request held in the buffer.
type record struct {
	ack          AckHandle
	channel      throttle.ChannelID
	continuation string
	state        interface{}
	primary      *correlation.Key
	additional   []*correlation.Key
}

// PendingRequest describes a request held in the buffer.
type PendingRequest struct {
	// Channel is the inbound channel that the request arrived on.
	Channel throttle.ChannelID

	// Continuation is the name of the continuation point that the request is
	// waiting for.
	Continuation string

	// State is the value that was passed to BufferReceive().
	State interface{}

	// Additional is the set of additional correlation keys of the request.
	Additional []*correlation.Key
}

func (r *record) describe() PendingRequest {
	return PendingRequest{
		Channel:      r.channel,
		Continuation: r.continuation,
		State:        r.state,
		Additional:   r.additional,
	}
}
