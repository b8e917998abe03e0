package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultDocumentType is the rule set used when a document type has none of its own.
const DefaultDocumentType = "Default"

// Field rule types.
const (
	RuleRegex     = "regex"
	RuleMinLength = "minLength"
	RuleMaxLength = "maxLength"
	RuleDataType  = "dataType"
	RuleEnum      = "enum"
)

// Cross-field rule types.
const (
	CrossFieldDependentExistence = "dependent_existence"
	CrossFieldDateOrder          = "date_order"
)

// Rule is one check applied to a single field.
type Rule struct {
	Type    string         `json:"type" yaml:"type"`
	Pattern string         `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// FieldRules is the ordered rule group for one field key.
type FieldRules struct {
	Key   string `json:"key" yaml:"key"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// CrossFieldRule relates two fields of the same document.
type CrossFieldRule struct {
	Type           string `json:"type" yaml:"type"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Message        string `json:"message,omitempty" yaml:"message,omitempty"`
	TriggerField   string `json:"trigger_field,omitempty" yaml:"trigger_field,omitempty"`
	TriggerValue   string `json:"trigger_value,omitempty" yaml:"trigger_value,omitempty"`
	DependentField string `json:"dependent_field,omitempty" yaml:"dependent_field,omitempty"`
	// IgnoreCase relaxes the trigger comparison of dependent_existence rules.
	IgnoreCase     bool   `json:"ignore_case,omitempty" yaml:"ignore_case,omitempty"`
	DateAKey       string `json:"date_a_key,omitempty" yaml:"date_a_key,omitempty"`
	DateBKey       string `json:"date_b_key,omitempty" yaml:"date_b_key,omitempty"`
	Format         string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Label identifies the rule in results and messages.
func (r CrossFieldRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Type
}

// RuleSet holds every rule configured for one document type.
type RuleSet struct {
	Name            string           `json:"name" yaml:"name"`
	Fields          []FieldRules     `json:"fields" yaml:"fields"`
	MandatoryFields []string         `json:"mandatory_fields" yaml:"mandatory_fields"`
	CrossFieldRules []CrossFieldRule `json:"cross_field_rules" yaml:"cross_field_rules"`
}

// EmptyRuleSet returns a rule set with no rules and non-nil slices.
func EmptyRuleSet(name string) RuleSet {
	return RuleSet{
		Name:            name,
		Fields:          []FieldRules{},
		MandatoryFields: []string{},
		CrossFieldRules: []CrossFieldRule{},
	}
}

// RulesForField returns the rules configured for key, in order. Multiple
// groups for the same key are concatenated.
func (rs RuleSet) RulesForField(key string) []Rule {
	var out []Rule
	for _, f := range rs.Fields {
		if f.Key == key {
			out = append(out, f.Rules...)
		}
	}
	return out
}

// FieldKeys lists every field the rule set mentions, rules first, then
// mandatory fields not already listed.
func (rs RuleSet) FieldKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, f := range rs.Fields {
		add(f.Key)
	}
	for _, k := range rs.MandatoryFields {
		add(k)
	}
	return keys
}

func (rs RuleSet) clone() RuleSet {
	out := RuleSet{
		Name:            rs.Name,
		Fields:          make([]FieldRules, len(rs.Fields)),
		MandatoryFields: append([]string{}, rs.MandatoryFields...),
		CrossFieldRules: append([]CrossFieldRule{}, rs.CrossFieldRules...),
	}
	for i, f := range rs.Fields {
		out.Fields[i] = FieldRules{Key: f.Key, Rules: append([]Rule{}, f.Rules...)}
	}
	return out
}

// RuleDocument is the on-disk shape of a rule source.
type RuleDocument struct {
	DocumentTypes []RuleSet `json:"document_types" yaml:"document_types"`
}

// stringParam reads a string parameter.
func (r Rule) stringParam(key string) (string, bool) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intParam reads an integer parameter decoded from either JSON or YAML.
func (r Rule) intParam(key string) (int, bool) {
	v, ok := r.Params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func (r Rule) boolParam(key string) bool {
	switch b := r.Params[key].(type) {
	case bool:
		return b
	case string:
		v, _ := strconv.ParseBool(b)
		return v
	default:
		return false
	}
}

// listParam reads a list parameter, rendering each element as a string.
func (r Rule) listParam(key string) ([]string, bool) {
	raw, ok := r.Params[key]
	if !ok {
		return nil, false
	}
	switch vs := raw.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			out = append(out, fmt.Sprint(v))
		}
		return out, true
	default:
		return nil, false
	}
}

// lengthParam accepts params.value, params.length or, for brevity, pattern.
func (r Rule) lengthParam() (int, bool) {
	for _, k := range []string{"value", "length"} {
		if n, ok := r.intParam(k); ok {
			return n, true
		}
	}
	if r.Pattern != "" {
		n, err := strconv.Atoi(r.Pattern)
		return n, err == nil
	}
	return 0, false
}
