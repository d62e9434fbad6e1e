// Package lint analyzes the stage graph of a resolved description: it
// extracts builder dependencies, detects cycles, computes a build order
// and reports semantic problems as diagnostics.
//
// Diagnostics never fail the analysis. Whether Error messages block a
// build is the caller's decision.
package lint

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the severity of a Message.
type Level int

const (
	// Warn flags a probable mistake.
	Warn Level = iota
	// Error flags a description that cannot build correctly.
	Error
)

func (l Level) String() string {
	if l == Error {
		return "error"
	}
	return "warn"
}

// Message is one diagnostic. Path holds field names and list indexes, an
// index being written as "[i]".
type Message struct {
	Level Level    `json:"level"`
	Path  []string `json:"path"`
	Text  string   `json:"message"`
}

// PathString renders the field path with dots between field names:
// builders.b.copy[0].fromBuilder.
func (m Message) PathString() string {
	var sb strings.Builder
	for _, p := range m.Path {
		if IsIndex(p) {
			sb.WriteString(p)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

func (m Message) String() string {
	if len(m.Path) == 0 {
		return fmt.Sprintf("%s: %s", m.Level, m.Text)
	}
	return fmt.Sprintf("%s: %s: %s", m.Level, m.PathString(), m.Text)
}

// Index returns the path segment of the i-th list element.
func Index(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// IsIndex reports whether a path segment is a list index.
func IsIndex(segment string) bool {
	n, ok := strings.CutPrefix(segment, "[")
	if n, ok = strings.CutSuffix(n, "]"); !ok {
		return false
	}
	_, err := strconv.Atoi(n)
	return err == nil
}

// fieldPath builds a field path from strings and indexes.
func fieldPath(base []string, elems ...any) []string {
	out := make([]string, 0, len(base)+len(elems))
	out = append(out, base...)
	for _, e := range elems {
		switch v := e.(type) {
		case int:
			out = append(out, Index(v))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}
