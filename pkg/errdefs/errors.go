// Package errdefs defines the classified errors returned by dofigen.
// Resolution, loading and parsing failures are unrecoverable for the current
// run and surface as *Error values; lint diagnostics are never errors.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents the classification of an error.
type Kind string

const (
	// KindDeserialize indicates a malformed description document.
	KindDeserialize Kind = "deserialize"

	// KindCircularDependency indicates a resource load or extension cycle.
	KindCircularDependency Kind = "circular_dependency"

	// KindMaxDepthExceeded indicates a resource nesting deeper than the load bound.
	KindMaxDepthExceeded Kind = "max_depth_exceeded"

	// KindBuilderNotFound indicates a reference to an unknown builder.
	KindBuilderNotFound Kind = "builder_not_found"

	// KindUnsupportedInstruction indicates a Dockerfile construct that the
	// parser does not model.
	KindUnsupportedInstruction Kind = "unsupported_instruction"

	// KindFormat indicates an internal text formatting failure.
	KindFormat Kind = "format"

	// KindCustom is the catch-all used for I/O and network failures.
	KindCustom Kind = "custom"
)

// ChainSeparator joins resource chains in error messages.
const ChainSeparator = " → "

// Error represents a classified error with context.
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the description resource involved, if any.
	Resource string `json:"resource,omitempty"`

	// Chain is the resource load chain for cycle and depth errors.
	Chain []string `json:"chain,omitempty"`

	// Line and Column locate deserialization errors (1-based, 0 when unknown).
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Resource != "" {
		sb.WriteString(" (resource=")
		sb.WriteString(e.Resource)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
		}
		sb.WriteString(")")
	} else if e.Line > 0 {
		fmt.Fprintf(&sb, " (line %d, column %d)", e.Line, e.Column)
	}
	if len(e.Chain) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Chain, ChainSeparator))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Deserialize creates a deserialization error at the given position.
func Deserialize(message string, line, column int, err error) *Error {
	return &Error{Kind: KindDeserialize, Message: message, Line: line, Column: column, Err: err}
}

// CircularDependency creates a cycle error listing the full chain.
func CircularDependency(chain []string) *Error {
	return &Error{Kind: KindCircularDependency, Message: "circular dependency detected", Chain: chain}
}

// MaxDepthExceeded creates a nesting error listing the full chain.
func MaxDepthExceeded(limit int, chain []string) *Error {
	return &Error{
		Kind:    KindMaxDepthExceeded,
		Message: fmt.Sprintf("maximum resource depth of %d exceeded", limit),
		Chain:   chain,
	}
}

// BuilderNotFound creates an error for a reference to an unknown builder.
func BuilderNotFound(name string) *Error {
	return &Error{Kind: KindBuilderNotFound, Message: fmt.Sprintf("builder %q not found", name)}
}

// Unsupported creates an error for a Dockerfile construct that is not modeled.
func Unsupported(line int, format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedInstruction, Message: fmt.Sprintf(format, args...), Line: line}
}

// Customf creates a catch-all error.
func Customf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindCustom, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
