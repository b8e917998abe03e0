package validator

import (
	"fmt"
	"strings"
	"time"

	"docmeta/internal/domain"
)

// CrossFieldOutcome is the result of one cross-field rule. A skipped rule
// neither passes nor fails.
type CrossFieldOutcome struct {
	Passed  bool
	Skipped bool
	Message string
}

type dependentExistenceChecker struct{}

func (dependentExistenceChecker) RuleType() string { return CrossFieldDependentExistence }

func (dependentExistenceChecker) Check(fields map[string]domain.FieldValue, rule CrossFieldRule) CrossFieldOutcome {
	if rule.TriggerField == "" || rule.DependentField == "" {
		return CrossFieldOutcome{Skipped: true, Message: fmt.Sprintf("%s: trigger_field and dependent_field are required", rule.Label())}
	}
	trigger, ok := fields[rule.TriggerField]
	if !ok || !triggerMatches(trigger.String(), rule) {
		return CrossFieldOutcome{Passed: true}
	}
	if dep, ok := fields[rule.DependentField]; ok && !dep.IsEmpty() {
		return CrossFieldOutcome{Passed: true}
	}
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("%s is required when %s is %q", rule.DependentField, rule.TriggerField, rule.TriggerValue)
	}
	return CrossFieldOutcome{Message: msg}
}

// triggerMatches compares exactly unless the rule opts into ignore_case.
func triggerMatches(got string, rule CrossFieldRule) bool {
	if rule.IgnoreCase {
		return strings.EqualFold(got, rule.TriggerValue)
	}
	return got == rule.TriggerValue
}

type dateOrderChecker struct{}

func (dateOrderChecker) RuleType() string { return CrossFieldDateOrder }

// Check fails unless date_a is strictly before date_b. Values that are
// missing or do not parse skip the rule.
func (dateOrderChecker) Check(fields map[string]domain.FieldValue, rule CrossFieldRule) CrossFieldOutcome {
	a, errA := fieldDate(fields, rule.DateAKey, rule.Format)
	b, errB := fieldDate(fields, rule.DateBKey, rule.Format)
	if errA != nil || errB != nil {
		reason := errA
		if reason == nil {
			reason = errB
		}
		return CrossFieldOutcome{Skipped: true, Message: fmt.Sprintf("%s: skipped: %v", rule.Label(), reason)}
	}
	if a.Before(b) {
		return CrossFieldOutcome{Passed: true}
	}
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("%s must be before %s", rule.DateAKey, rule.DateBKey)
	}
	return CrossFieldOutcome{Message: msg}
}

func fieldDate(fields map[string]domain.FieldValue, key, format string) (time.Time, error) {
	v, ok := fields[key]
	if !ok || v.IsEmpty() {
		return time.Time{}, fmt.Errorf("%s is missing", key)
	}
	return ParseDate(v.String(), format)
}
