package mlog

import (
	"fmt"
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

// LogBuffered logs a message indicating that a request has been placed in the
// buffer to wait for a continuation point on its target instance.
func LogBuffered(
	log logging.Logger,
	key string,
	channel uint64,
	continuation string,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceKeyIcon.WithLabel("%s", key),
				ChannelIcon.WithLabel("%d", channel),
				ContinuationIcon.WithLabel("%s", continuation),
			},
			[]Icon{
				InboundIcon,
				BufferIcon,
			},
			"request buffered",
		),
	)
}

// LogReplay logs a message indicating that a request has been replayed to its
// target instance.
//
// immediate is true if the request was never held in the buffer.
func LogReplay(
	log logging.Logger,
	key string,
	channel uint64,
	continuation string,
	immediate bool,
) {
	text := "buffered request replayed"
	if immediate {
		text = "request replayed immediately"
	}

	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceKeyIcon.WithLabel("%s", key),
				ChannelIcon.WithLabel("%d", channel),
				ContinuationIcon.WithLabel("%s", continuation),
			},
			[]Icon{
				InboundIcon,
				RetryIcon,
			},
			text,
		),
	)
}

// LogAbandon logs a message indicating that a buffered request has been
// abandoned.
//
// cause is the reason the request was abandoned. err is the error returned
// while abandoning the request's acknowledgment handle, if any.
func LogAbandon(
	log logging.Logger,
	key string,
	channel uint64,
	continuation string,
	cause string,
	err error,
) {
	icon := Icon("")
	text := []string{"buffered request abandoned", cause}

	if err != nil {
		icon = ErrorIcon
		text = append(text, err.Error())
	}

	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceKeyIcon.WithLabel("%s", key),
				ChannelIcon.WithLabel("%d", channel),
				ContinuationIcon.WithLabel("%s", continuation),
			},
			[]Icon{
				AbandonIcon,
				icon,
			},
			text...,
		),
	)
}

// LogThrottleWarning logs a message indicating that a channel has reached its
// limit of concurrently buffered requests.
func LogThrottleWarning(
	log logging.Logger,
	channel uint64,
	limit int,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				ChannelIcon.WithLabel("%d", channel),
			},
			[]Icon{
				InboundErrorIcon,
				ErrorIcon,
			},
			"request throttled",
			fmt.Sprintf("channel has reached its limit of %d buffered requests", limit),
		),
	)
}

// LogWaitTimeout logs a message indicating that a transaction gave up waiting
// for a persistence context's commit lock.
func LogWaitTimeout(
	log logging.Logger,
	txID string,
	timeout time.Duration,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				TransactionIDIcon.WithID(txID),
			},
			[]Icon{
				SystemIcon,
				ErrorIcon,
			},
			"timed-out waiting for the persistence context",
			fmt.Sprintf("waited %s", timeout),
		),
	)
}

// LogTransactionError logs a debug message about a transaction-specific error
// that was absorbed rather than returned to the caller.
func LogTransactionError(
	log logging.Logger,
	txID string,
	f string, v ...interface{},
) {
	if !logging.IsDebug(log) {
		return
	}

	logging.Debug(
		log,
		"%s",
		String(
			[]IconWithLabel{
				TransactionIDIcon.WithID(txID),
			},
			[]Icon{
				SystemIcon,
				"",
			},
			fmt.Sprintf(f, v...),
		),
	)
}
