package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"docmeta/internal/domain"
)

// ErrRuleMismatch marks a value whose shape a rule cannot evaluate, for
// example a number checked against a regex. Its message is reported as is,
// in place of the rule's configured message.
var ErrRuleMismatch = errors.New("rule mismatch")

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRuleMismatch, fmt.Sprintf(format, args...))
}

var booleanTokens = map[string]bool{
	"true": true, "false": true,
	"yes": true, "no": true,
	"1": true, "0": true,
	"y": true, "n": true,
}

func builtinFieldCheckers() []FieldChecker {
	return []FieldChecker{
		&regexChecker{},
		lengthChecker{ruleType: RuleMinLength, min: true},
		lengthChecker{ruleType: RuleMaxLength},
		dataTypeChecker{},
		enumChecker{},
	}
}

func stringValue(v domain.FieldValue, ruleType string) (string, error) {
	s, ok := v.Value.(string)
	if !ok {
		return "", mismatch("%s rule expects a text value, got %s", ruleType, describe(v.Value))
	}
	return s, nil
}

func describe(v any) string {
	switch v.(type) {
	case json.Number, float64, int, int64:
		return "a number"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// regexChecker caches compiled patterns; rule sets are read many times.
type regexChecker struct {
	cache sync.Map
}

func (c *regexChecker) RuleType() string { return RuleRegex }

func (c *regexChecker) Check(v domain.FieldValue, rule Rule) error {
	s, err := stringValue(v, RuleRegex)
	if err != nil {
		return err
	}
	re, err := c.compile(rule.Pattern)
	if err != nil {
		return mismatch("invalid pattern %q: %v", rule.Pattern, err)
	}
	if !re.MatchString(s) {
		return fmt.Errorf("value %q does not match pattern %q", s, rule.Pattern)
	}
	return nil
}

func (c *regexChecker) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.cache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.cache.Store(pattern, re)
	return re, nil
}

type lengthChecker struct {
	ruleType string
	min      bool
}

func (c lengthChecker) RuleType() string { return c.ruleType }

func (c lengthChecker) Check(v domain.FieldValue, rule Rule) error {
	s, err := stringValue(v, c.ruleType)
	if err != nil {
		return err
	}
	bound, ok := rule.lengthParam()
	if !ok {
		return mismatch("%s rule has no length bound", c.ruleType)
	}
	n := utf8.RuneCountInString(s)
	if c.min && n < bound {
		return fmt.Errorf("length %d is shorter than the minimum %d", n, bound)
	}
	if !c.min && n > bound {
		return fmt.Errorf("length %d exceeds the maximum %d", n, bound)
	}
	return nil
}

type dataTypeChecker struct{}

func (dataTypeChecker) RuleType() string { return RuleDataType }

func (dataTypeChecker) Check(v domain.FieldValue, rule Rule) error {
	expected, ok := rule.stringParam("expected")
	if !ok {
		expected, _ = rule.stringParam("type")
	}
	switch strings.ToLower(expected) {
	case "integer", "int":
		if !isInteger(v.Value) {
			return fmt.Errorf("value %q is not an integer", v.String())
		}
	case "float", "number", "decimal":
		if !isFloat(v.Value) {
			return fmt.Errorf("value %q is not a number", v.String())
		}
	case "date":
		s, err := stringValue(v, "date")
		if err != nil {
			return err
		}
		format, _ := rule.stringParam("format")
		if _, err := ParseDate(s, format); err != nil {
			return fmt.Errorf("value %q is not a date in format %q", s, dateFormatOrDefault(format))
		}
	case "boolean", "bool":
		if !isBoolean(v.Value) {
			return fmt.Errorf("value %q is not a boolean", v.String())
		}
	case "":
		return mismatch("dataType rule has no expected type")
	default:
		return mismatch("unsupported data type %q", expected)
	}
	return nil
}

func dateFormatOrDefault(format string) string {
	if format == "" {
		return DefaultDateFormat
	}
	return format
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case int, int64:
		return true
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
		if s == "" {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isFloat(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64, int, int64:
		return true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return false
	}
}

func isBoolean(v any) bool {
	switch b := v.(type) {
	case bool:
		return true
	case json.Number:
		return b == "1" || b == "0"
	case string:
		return booleanTokens[strings.ToLower(strings.TrimSpace(b))]
	default:
		return false
	}
}

type enumChecker struct{}

func (enumChecker) RuleType() string { return RuleEnum }

func (enumChecker) Check(v domain.FieldValue, rule Rule) error {
	allowed, ok := rule.listParam("values")
	if !ok {
		return mismatch("enum rule has no allowed values")
	}
	switch v.Value.(type) {
	case []any, map[string]any:
		return mismatch("enum rule expects a single value, got %s", describe(v.Value))
	}
	got := strings.TrimSpace(v.String())
	caseSensitive := rule.boolParam("caseSensitive")
	for _, a := range allowed {
		if caseSensitive && got == a {
			return nil
		}
		if !caseSensitive && strings.EqualFold(got, a) {
			return nil
		}
	}
	return fmt.Errorf("value %q is not one of %s", got, strings.Join(allowed, ", "))
}
