package validator

import (
	"sort"

	"docmeta/internal/domain"
)

// FieldChecker evaluates one rule type against a single field value. A nil
// error means the value satisfies the rule.
type FieldChecker interface {
	RuleType() string
	Check(value domain.FieldValue, rule Rule) error
}

// CrossFieldChecker evaluates one cross-field rule type against the whole
// extraction.
type CrossFieldChecker interface {
	RuleType() string
	Check(fields map[string]domain.FieldValue, rule CrossFieldRule) CrossFieldOutcome
}

// Registry maps rule types to checker implementations.
type Registry struct {
	fields map[string]FieldChecker
	cross  map[string]CrossFieldChecker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		fields: make(map[string]FieldChecker),
		cross:  make(map[string]CrossFieldChecker),
	}
}

// DefaultRegistry returns a Registry holding every built-in checker.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range builtinFieldCheckers() {
		r.Register(c)
	}
	r.RegisterCrossField(dependentExistenceChecker{})
	r.RegisterCrossField(dateOrderChecker{})
	return r
}

// Register adds a field checker, replacing any with the same rule type.
func (r *Registry) Register(c FieldChecker) {
	r.fields[c.RuleType()] = c
}

// RegisterCrossField adds a cross-field checker.
func (r *Registry) RegisterCrossField(c CrossFieldChecker) {
	r.cross[c.RuleType()] = c
}

// Get returns the field checker for a rule type, or nil if not found.
func (r *Registry) Get(ruleType string) FieldChecker {
	return r.fields[ruleType]
}

// GetCrossField returns the cross-field checker for a rule type, or nil.
func (r *Registry) GetCrossField(ruleType string) CrossFieldChecker {
	return r.cross[ruleType]
}

// RuleTypes lists the registered field rule types, sorted.
func (r *Registry) RuleTypes() []string {
	out := make([]string, 0, len(r.fields))
	for k := range r.fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
