package loggingx

import (
	"strings"

	"github.com/dogmatiq/dodeca/logging"
)

// WithPrefix returns a logger that prepends prefix to every message written to
// target.
//
// Debug messages are discarded without being formatted if target does not
// have debug logging enabled.
func WithPrefix(target logging.Logger, prefix string) logging.Logger {
	if prefix == "" {
		return target
	}

	return &prefixed{
		target:  target,
		literal: prefix,
		escaped: strings.ReplaceAll(prefix, "%", "%%"),
	}
}

type prefixed struct {
	target  logging.Logger
	literal string
	escaped string
}

func (l *prefixed) Log(f string, v ...interface{}) {
	l.target.Log(l.escaped+f, v...)
}

func (l *prefixed) LogString(s string) {
	l.target.LogString(l.literal + s)
}

func (l *prefixed) Debug(f string, v ...interface{}) {
	if l.target.IsDebug() {
		l.target.Debug(l.escaped+f, v...)
	}
}

func (l *prefixed) DebugString(s string) {
	if l.target.IsDebug() {
		l.target.DebugString(l.literal + s)
	}
}

func (l *prefixed) IsDebug() bool {
	return l.target.IsDebug()
}
