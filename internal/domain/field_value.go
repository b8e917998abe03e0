package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FieldValueKind tags which shape an extracted value arrived in.
type FieldValueKind int

const (
	// FieldKindScalar is a bare value with no reported confidence.
	FieldKindScalar FieldValueKind = iota
	// FieldKindWithConfidence is a {value, confidence} object.
	FieldKindWithConfidence
	// FieldKindRaw is text that looked structured but could not be decoded.
	FieldKindRaw
)

func (k FieldValueKind) String() string {
	switch k {
	case FieldKindScalar:
		return "scalar"
	case FieldKindWithConfidence:
		return "value_with_confidence"
	case FieldKindRaw:
		return "raw_unparsed"
	default:
		return "unknown"
	}
}

// FieldValue is one extracted metadata value, resolved once from the loose
// shapes the extraction service returns.
//
// Value holds the decoded JSON value: string, json.Number, bool, nil,
// []any or map[string]any. Confidence is meaningful only for
// FieldKindWithConfidence; Raw only for FieldKindRaw.
type FieldValue struct {
	Kind       FieldValueKind
	Value      any
	Confidence float64
	Raw        string
}

// Scalar builds a FieldValue with no reported confidence.
func Scalar(v any) FieldValue {
	return FieldValue{Kind: FieldKindScalar, Value: v}
}

// WithConfidence builds a FieldValue carrying the model's confidence score.
func WithConfidence(v any, confidence float64) FieldValue {
	return FieldValue{Kind: FieldKindWithConfidence, Value: v, Confidence: confidence}
}

// RawUnparsed builds a FieldValue from text that could not be decoded.
func RawUnparsed(text string) FieldValue {
	return FieldValue{Kind: FieldKindRaw, Value: text, Raw: text}
}

// HasConfidence reports whether the extraction service supplied a score.
func (f FieldValue) HasConfidence() bool {
	return f.Kind == FieldKindWithConfidence
}

// IsEmpty reports whether the value is absent, null, or a whitespace-only string.
func (f FieldValue) IsEmpty() bool {
	switch v := f.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// String renders the value for messages and exports.
func (f FieldValue) String() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// MarshalJSON writes scalars bare and scored values as {value, confidence}.
func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FieldKindWithConfidence:
		return json.Marshal(struct {
			Value      any     `json:"value"`
			Confidence float64 `json:"confidence"`
		}{f.Value, f.Confidence})
	case FieldKindRaw:
		return json.Marshal(f.Raw)
	default:
		return json.Marshal(f.Value)
	}
}

// UnmarshalJSON resolves any of the accepted shapes via ParseFieldValue.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	*f = ParseFieldValue(data)
	return nil
}

// ParseFieldValue resolves a raw JSON value into a FieldValue.
//
// Accepted shapes: a bare scalar; an object with "value" and optionally
// "confidenceScore" or "confidence"; a string holding either of those as
// JSON. A string that looks like JSON but does not decode becomes RawUnparsed.
func ParseFieldValue(raw json.RawMessage) FieldValue {
	decoded, err := decodeJSON(raw)
	if err != nil {
		return RawUnparsed(string(raw))
	}
	return resolve(decoded, 0)
}

// ParseExtracted decodes a top-level extraction object into resolved fields.
func ParseExtracted(data []byte) (map[string]FieldValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtraction, err)
	}
	out := make(map[string]FieldValue, len(raw))
	for k, v := range raw {
		out[k] = ParseFieldValue(v)
	}
	return out, nil
}

const maxNestedDecode = 2

func resolve(v any, depth int) FieldValue {
	switch t := v.(type) {
	case map[string]any:
		inner, ok := t["value"]
		if !ok {
			return Scalar(t)
		}
		if score, ok := confidenceOf(t); ok {
			return WithConfidence(inner, score)
		}
		return Scalar(inner)
	case string:
		trimmed := strings.TrimSpace(t)
		if depth < maxNestedDecode && looksLikeJSONObject(trimmed) {
			nested, err := decodeJSON([]byte(trimmed))
			if err != nil {
				return RawUnparsed(t)
			}
			return resolve(nested, depth+1)
		}
		return Scalar(t)
	default:
		return Scalar(t)
	}
}

func confidenceOf(m map[string]any) (float64, bool) {
	for _, key := range []string{"confidenceScore", "confidence"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		switch n := raw.(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case float64:
			return n, true
		}
	}
	return 0, false
}

func looksLikeJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
