// Package validator applies configurable rules to extracted metadata and
// turns raw confidence scores into adjusted, qualitative ratings.
package validator

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"docmeta/internal/domain"
	"docmeta/internal/logger"
)

// FieldValidationResult is the outcome for one extracted field.
type FieldValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Messages []string `json:"messages"`
}

// MandatoryCheck reports mandatory fields that are absent or blank.
type MandatoryCheck struct {
	Status        domain.CheckStatus `json:"status"`
	MissingFields []string           `json:"missing_fields"`
}

// CrossFieldCheck reports the cross-field rules that failed. Skipped rules
// are listed separately and do not affect Status.
type CrossFieldCheck struct {
	Status       domain.CheckStatus `json:"status"`
	FailedRules  []string           `json:"failed_rules"`
	Messages     []string           `json:"messages"`
	SkippedRules []string           `json:"skipped_rules,omitempty"`
}

// Output is the complete validation result for one document.
type Output struct {
	DocumentType     string                           `json:"document_type"`
	FieldValidations map[string]FieldValidationResult `json:"field_validations"`
	MandatoryCheck   MandatoryCheck                   `json:"mandatory_check"`
	CrossFieldCheck  CrossFieldCheck                  `json:"cross_field_check"`
}

// Summary is the document-level part of an Output.
type Summary struct {
	MandatoryStatus        domain.CheckStatus `json:"mandatory_status"`
	MissingMandatoryFields []string           `json:"missing_mandatory_fields"`
	CrossFieldStatus       domain.CheckStatus `json:"cross_field_status"`
	FailedCrossFieldRules  []string           `json:"failed_cross_field_rules"`
}

// Summary returns the document-level summary.
func (o *Output) Summary() Summary {
	return Summary{
		MandatoryStatus:        o.MandatoryCheck.Status,
		MissingMandatoryFields: o.MandatoryCheck.MissingFields,
		CrossFieldStatus:       o.CrossFieldCheck.Status,
		FailedCrossFieldRules:  o.CrossFieldCheck.FailedRules,
	}
}

// InvalidFields lists the fields that failed at least one rule, sorted.
func (o *Output) InvalidFields() []string {
	var out []string
	for k, r := range o.FieldValidations {
		if !r.IsValid {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Validator evaluates rule sets against extracted fields. It holds no
// per-document state and is safe for concurrent use.
type Validator struct {
	registry *Registry
	log      *zap.Logger
}

// New creates a Validator backed by registry; nil selects DefaultRegistry.
func New(registry *Registry) *Validator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Validator{
		registry: registry,
		log:      logger.Named("validator"),
	}
}

// Validate applies field rules, the mandatory check and cross-field rules.
// It never fails: shape mismatches and unknown rule types mark the field
// invalid with an explanatory message.
func (v *Validator) Validate(extracted map[string]domain.FieldValue, rules RuleSet, docType string) *Output {
	out := &Output{
		DocumentType:     docType,
		FieldValidations: make(map[string]FieldValidationResult, len(extracted)),
	}

	for key, value := range extracted {
		out.FieldValidations[key] = v.validateField(key, value, rules.RulesForField(key))
	}
	out.MandatoryCheck = checkMandatory(extracted, rules.MandatoryFields)
	out.CrossFieldCheck = v.checkCrossFields(extracted, rules.CrossFieldRules, docType)

	v.log.Debug("document validated",
		zap.String("document_type", docType),
		zap.Int("fields", len(extracted)),
		zap.Strings("invalid_fields", out.InvalidFields()),
		zap.String("mandatory", string(out.MandatoryCheck.Status)),
		zap.String("cross_field", string(out.CrossFieldCheck.Status)))
	return out
}

func (v *Validator) validateField(key string, value domain.FieldValue, rules []Rule) FieldValidationResult {
	res := FieldValidationResult{IsValid: true, Messages: []string{}}
	if value.IsEmpty() || len(rules) == 0 {
		return res
	}
	for _, rule := range rules {
		checker := v.registry.Get(rule.Type)
		if checker == nil {
			res.IsValid = false
			res.Messages = append(res.Messages, fmt.Sprintf("%s: unknown rule type %q", key, rule.Type))
			continue
		}
		err := checker.Check(value, rule)
		if err == nil {
			continue
		}
		res.IsValid = false
		switch {
		case errors.Is(err, ErrRuleMismatch):
			res.Messages = append(res.Messages, fmt.Sprintf("%s: %v", key, err))
		case rule.Message != "":
			res.Messages = append(res.Messages, rule.Message)
		default:
			res.Messages = append(res.Messages, fmt.Sprintf("%s: %v", key, err))
		}
	}
	return res
}

func checkMandatory(extracted map[string]domain.FieldValue, mandatory []string) MandatoryCheck {
	res := MandatoryCheck{Status: domain.CheckPassed, MissingFields: []string{}}
	for _, key := range mandatory {
		if value, ok := extracted[key]; !ok || value.IsEmpty() {
			res.MissingFields = append(res.MissingFields, key)
		}
	}
	if len(res.MissingFields) > 0 {
		res.Status = domain.CheckFailed
	}
	return res
}

func (v *Validator) checkCrossFields(extracted map[string]domain.FieldValue, rules []CrossFieldRule, docType string) CrossFieldCheck {
	res := CrossFieldCheck{Status: domain.CheckPassed, FailedRules: []string{}, Messages: []string{}}
	for _, rule := range rules {
		checker := v.registry.GetCrossField(rule.Type)
		if checker == nil {
			v.log.Warn("skipping cross-field rule of unknown type",
				zap.String("document_type", docType),
				zap.String("rule", rule.Label()),
				zap.String("type", rule.Type))
			res.SkippedRules = append(res.SkippedRules, rule.Label())
			continue
		}
		outcome := checker.Check(extracted, rule)
		switch {
		case outcome.Skipped:
			v.log.Warn("cross-field rule skipped",
				zap.String("document_type", docType),
				zap.String("rule", rule.Label()),
				zap.String("reason", outcome.Message))
			res.SkippedRules = append(res.SkippedRules, rule.Label())
		case !outcome.Passed:
			res.FailedRules = append(res.FailedRules, rule.Label())
			res.Messages = append(res.Messages, outcome.Message)
		}
	}
	if len(res.FailedRules) > 0 {
		res.Status = domain.CheckFailed
	}
	return res
}
