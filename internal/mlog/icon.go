package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
)

const (
	// TransactionIDIcon is the icon shown directly before a transaction ID. It
	// is a circle with a dot in the center, intended to be reminiscent of an
	// electron circling a nucleus, indicating "atomicity".
	TransactionIDIcon Icon = "⨀"

	// InstanceKeyIcon is the icon shown directly before an instance key. It is
	// the mathematical "member of set" symbol, indicating that the request
	// belongs to the set of requests destined for the displayed instance.
	InstanceKeyIcon Icon = "⋲"

	// ChannelIcon is the icon shown directly before a channel ID. It is a pair
	// of parallel arrows, representing a stream of inbound requests.
	ChannelIcon Icon = "⇉"

	// ContinuationIcon is the icon shown directly before the name of a
	// continuation point. It is a bookmark-like "flag".
	ContinuationIcon Icon = "⚑"

	// InboundIcon is the icon shown to indicate that a request is being
	// received. It is a downward pointing arrow, as such "inbound" requests
	// could be considered as being "downloaded" from the network.
	InboundIcon Icon = "▼"

	// InboundErrorIcon is a variant of InboundIcon used when there is an error
	// condition. It is an hollow version of the regular inbound icon,
	// indicating that the requirement remains "unfulfilled".
	InboundErrorIcon Icon = "▽"

	// BufferIcon is the icon shown when a request is held in the buffer. It is
	// an hourglass, indicating that the request is waiting.
	BufferIcon Icon = "⧖"

	// RetryIcon is the icon shown when a buffered request is replayed. It is an
	// open-circle with an arrow, indicating that the request has "come around
	// again".
	RetryIcon Icon = "↻"

	// AbandonIcon is the icon shown when a buffered request is abandoned. It is
	// a circle with a slash, indicating that the request will not be
	// delivered.
	AbandonIcon Icon = "⊘"

	// ErrorIcon is the icon shown when logging information about an error.
	// It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// SystemIcon is an icon shown when a log message relates to the internals of
	// the host. It is a sprocket, representing the inner workings of the
	// machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is an icon used to separate strings of unrelated text inside a
	// log message. It is a large bullet, intended to have a large visual impact.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes a string representation of the icon to w.
// If i is the zero-value, a single space is rendered.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := i.String()
	if i == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel return an IconWithLabel containing this icon and the given label.
func (i Icon) WithLabel(f string, v ...interface{}) IconWithLabel {
	return IconWithLabel{
		i,
		formatLabel(fmt.Sprintf(f, v...)),
	}
}

// WithID return an IconWithLabel containing this icon and an ID as its label.
//
// The id is formatted using FormatID().
func (i Icon) WithID(id string) IconWithLabel {
	return i.WithLabel("%s", FormatID(id))
}

// IconWithLabel is a container for an icon and its associated text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes a string representation of the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	n := must.WriteTo(w, i.Icon)
	n += must.WriteString(w, " ")
	n += must.WriteString(w, i.Label)

	return int64(n), err
}

// formatLabel formats a label for display.
func formatLabel(label string) string {
	if label == "" {
		return "-"
	}

	return label
}
