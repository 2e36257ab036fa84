package buffer

import (
	"errors"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/throttle"
)

// Request is an inbound request whose content has been read into memory so
// that it can be buffered.
type Request struct {
	// Channel is the inbound channel that the request arrived on.
	Channel throttle.ChannelID

	// Message is the content of the request.
	Message correlation.Message
}

// Calculator computes the correlation keys of buffered requests.
type Calculator = correlation.Calculator[*Request]

// NewCalculator returns a calculator that computes keys from the buffered
// content of a request.
func NewCalculator(
	e correlation.Engine,
	scope string,
	cache *correlation.Cache,
) *Calculator {
	return correlation.NewCalculator(e, scope, cache, readRequest)
}

func readRequest(r *Request) (correlation.Message, error) {
	if r == nil {
		return correlation.Message{}, errors.New("request has no buffered content")
	}

	return r.Message, nil
}
