package mlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

// String returns a log line as a string.
func String(
	ids []IconWithLabel,
	icons []Icon,
	text ...string,
) string {
	var b strings.Builder
	line{&b, 0}.render(ids, icons, text)
	return b.String()
}

// Write writes a log line to w.
//
// Labelled icons are separated by two spaces, plain icons by one. Empty
// strings in text are skipped, and the remaining ones are joined by
// SeparatorIcon.
func Write(
	w io.Writer,
	ids []IconWithLabel,
	icons []Icon,
	text ...string,
) (n int, err error) {
	defer must.Recover(&err)
	return line{w, 0}.render(ids, icons, text), nil
}

// line renders the parts of a log line, panicking via iago's must package on
// write errors.
type line struct {
	w io.Writer
	n int
}

func (l line) render(ids []IconWithLabel, icons []Icon, text []string) int {
	for _, id := range ids {
		l.n += must.WriteTo(l.w, id)
		l.n += must.WriteString(l.w, "  ")
	}

	for _, icon := range icons {
		l.n += must.WriteTo(l.w, icon)
		l.n += must.WriteString(l.w, " ")
	}

	first := true
	for _, t := range text {
		if t == "" {
			continue
		}

		if first {
			l.n += must.WriteString(l.w, " ")
			first = false
		} else {
			l.n += must.WriteString(l.w, " ")
			l.n += must.WriteTo(l.w, SeparatorIcon)
			l.n += must.WriteString(l.w, " ")
		}

		l.n += must.WriteString(l.w, t)
	}

	return l.n
}
