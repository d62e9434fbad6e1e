package policy

import (
	"github.com/dofigen/dofigen/pkg/lint"
)

// Severity represents the default severity of a policy violation.
type Severity string

const (
	// SeverityWarning is for violations that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that should block a strict build.
	SeverityError Severity = "error"
)

// Level returns the lint level of the severity.
func (s Severity) Level() lint.Level {
	if s == SeverityError {
		return lint.Error
	}
	return lint.Warn
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set holds the violations.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one entry of a policy deny set. Policies may also deny with a
// plain string, which becomes the message.
type Violation struct {
	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Path is the field path of the offending value.
	Path []string `json:"path,omitempty"`

	// Severity overrides the policy severity when set.
	Severity Severity `json:"severity,omitempty"`
}
