package policy

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/dofigen/dofigen/pkg/lint"
	"github.com/dofigen/dofigen/pkg/model"
)

// Engine evaluates Rego policies against resolved descriptions.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	deny   rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.add(context.Background(), GetBuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("built-in policies: %w", err)
	}
	return e, nil
}

// Evaluate runs every enabled policy against d and returns the violations as
// lint messages, sorted by policy name. The input document is the serialized
// description, the same keys a description file uses.
func (e *Engine) Evaluate(ctx context.Context, d *model.Dofigen) ([]lint.Message, error) {
	input, err := Input(d)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var messages []lint.Message
	for _, name := range e.names() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		violations, err := cp.violations(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, v := range violations {
			severity := cp.policy.Severity
			if v.Severity != "" {
				severity = v.Severity
			}
			messages = append(messages, lint.Message{
				Level: severity.Level(),
				Path:  v.Path,
				Text:  fmt.Sprintf("%s (policy %s)", v.Message, name),
			})
		}
	}

	e.logger.Debug().Int("violations", len(messages)).Msg("Policies evaluated")
	return messages, nil
}

// Input converts d to the JSON value the policies receive.
func Input(d *model.Dofigen) (map[string]any, error) {
	data, err := json.Marshal(d.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return input, nil
}

// LoadPolicies adds the policies of files and directories. A user policy
// replaces the built-in policy of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.add(ctx, policies)
}

// add compiles every policy before storing any of them.
func (e *Engine) add(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	e.logger.Debug().Int("policies", len(compiled)).Msg("Policies compiled")
	return nil
}

// compile prepares the deny query of the package declared by the policy.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, err
	}
	deny, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{policy: p, deny: deny}, nil
}

// violations evaluates the deny set against input, ordered by path then
// message. An undefined deny set has no violation.
func (cp *compiledPolicy) violations(ctx context.Context, input map[string]any) ([]Violation, error) {
	rs, err := cp.deny.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			entries, _ := expr.Value.([]any)
			for _, entry := range entries {
				violations = append(violations, toViolation(entry))
			}
		}
	}
	slices.SortFunc(violations, func(a, b Violation) int {
		return cmp.Or(
			strings.Compare(strings.Join(a.Path, "."), strings.Join(b.Path, ".")),
			strings.Compare(a.Message, b.Message),
		)
	})
	return violations, nil
}

// toViolation reads a deny entry: a message string or an object with
// message, path and severity keys.
func toViolation(entry any) Violation {
	obj, ok := entry.(map[string]any)
	if !ok {
		if msg, ok := entry.(string); ok {
			return Violation{Message: msg}
		}
		return Violation{Message: fmt.Sprint(entry)}
	}

	v := Violation{}
	v.Message, _ = obj["message"].(string)
	if sev, ok := obj["severity"].(string); ok {
		v.Severity = Severity(sev)
	}
	path, _ := obj["path"].([]any)
	for _, elem := range path {
		v.Path = append(v.Path, pathSegment(elem))
	}
	return v
}

// pathSegment renders a number of a deny path as a list index.
func pathSegment(elem any) string {
	switch n := elem.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return lint.Index(int(i))
		}
	case float64:
		if n == float64(int(n)) {
			return lint.Index(int(n))
		}
	case int:
		return lint.Index(n)
	}
	return fmt.Sprint(elem)
}

func (e *Engine) names() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetPolicy returns the policy named name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cp, ok := e.policies[name]; ok {
		return cp.policy, nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.names() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("unknown policy %q", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}
