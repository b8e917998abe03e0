package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/domain"
)

func TestParseFieldValue(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       domain.FieldValueKind
		value      any
		confidence float64
	}{
		{"bare string", `"ACME"`, domain.FieldKindScalar, "ACME", 0},
		{"bare number", `12.5`, domain.FieldKindScalar, json.Number("12.5"), 0},
		{"bare bool", `true`, domain.FieldKindScalar, true, 0},
		{"null", `null`, domain.FieldKindScalar, nil, 0},
		{"value with confidenceScore", `{"value": "x", "confidenceScore": 0.75}`, domain.FieldKindWithConfidence, "x", 0.75},
		{"value with confidence", `{"value": 3, "confidence": 0.5}`, domain.FieldKindWithConfidence, json.Number("3"), 0.5},
		{"value without score", `{"value": "x"}`, domain.FieldKindScalar, "x", 0},
		{"json-looking string", `"{\"value\": \"inner\", \"confidence\": 0.9}"`, domain.FieldKindWithConfidence, "inner", 0.9},
		{"broken json string", `"{not json}"`, domain.FieldKindRaw, "{not json}", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := domain.ParseFieldValue(json.RawMessage(tt.raw))
			assert.Equal(t, tt.kind, fv.Kind)
			assert.Equal(t, tt.value, fv.Value)
			assert.InDelta(t, tt.confidence, fv.Confidence, 1e-9)
		})
	}
}

func TestFieldValue_IsEmpty(t *testing.T) {
	assert.True(t, domain.Scalar(nil).IsEmpty())
	assert.True(t, domain.Scalar("  \t").IsEmpty())
	assert.True(t, domain.WithConfidence("", 0.9).IsEmpty())
	assert.True(t, domain.Scalar([]any{}).IsEmpty())
	assert.False(t, domain.Scalar(json.Number("0")).IsEmpty())
	assert.False(t, domain.Scalar(false).IsEmpty())
	assert.False(t, domain.RawUnparsed("{x").IsEmpty())
}

func TestParseExtracted(t *testing.T) {
	fields, err := domain.ParseExtracted([]byte(`{"a": "x", "b": {"value": 1, "confidence": 0.4}}`))
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "x", fields["a"].String())
	assert.True(t, fields["b"].HasConfidence())
	assert.Equal(t, "1", fields["b"].String())

	_, err = domain.ParseExtracted([]byte(`["not", "an", "object"]`))
	assert.ErrorIs(t, err, domain.ErrInvalidExtraction)
}

func TestFieldValue_JSONRoundTrip(t *testing.T) {
	in := map[string]domain.FieldValue{
		"scored": domain.WithConfidence("x", 0.8),
		"bare":   domain.Scalar("y"),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[string]domain.FieldValue
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, domain.FieldKindWithConfidence, out["scored"].Kind)
	assert.InDelta(t, 0.8, out["scored"].Confidence, 1e-9)
	assert.Equal(t, "y", out["bare"].Value)
}

func TestConfidenceLevel_Worse(t *testing.T) {
	assert.True(t, domain.ConfidenceLow.Worse(domain.ConfidenceMedium))
	assert.True(t, domain.ConfidenceMedium.Worse(domain.ConfidenceHigh))
	assert.False(t, domain.ConfidenceHigh.Worse(domain.ConfidenceHigh))
}
