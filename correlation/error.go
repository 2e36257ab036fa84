package correlation

import "fmt"

// ProtocolError indicates that a request does not contain the content that is
// required to correlate it with an instance.
type ProtocolError struct {
	// Scope is the correlation scope of the calculator that rejected the
	// request.
	Scope string

	// KeyName is the name of the key being computed. It is empty for the
	// primary key.
	KeyName string

	// Query is the name of the non-optional query that produced no value.
	Query string
}

func (e *ProtocolError) Error() string {
	if e.KeyName == "" {
		return fmt.Sprintf(
			"the request does not contain a value for the required correlation query '%s' in scope '%s'",
			e.Query,
			e.Scope,
		)
	}

	return fmt.Sprintf(
		"the request does not contain a value for the required correlation query '%s' of the '%s' key in scope '%s'",
		e.Query,
		e.KeyName,
		e.Scope,
	)
}
