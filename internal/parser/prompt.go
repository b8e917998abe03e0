package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"docmeta/internal/port"
)

// BuildCategorizePrompt asks the model to pick one of categories.
func BuildCategorizePrompt(categories []string) string {
	return `You are a document classification assistant. Decide which ONE of the following document types best describes the provided document:

` + bulletList(categories) + `
Return ONLY valid JSON with no markdown formatting, no code fences, no explanation, in exactly this shape:
{"document_type": "<one of the types above>", "confidence": <float between 0.0 and 1.0>}

If none of the types fit, use the closest match and a low confidence.`
}

// BuildExtractPrompt asks the model to extract fields from a document of docType.
func BuildExtractPrompt(docType string, fields []string) string {
	var schema strings.Builder
	schema.WriteString("{\n")
	for i, f := range fields {
		fmt.Fprintf(&schema, "  %q: {\"value\": \"\", \"confidence\": 0.0}", f)
		if i < len(fields)-1 {
			schema.WriteString(",")
		}
		schema.WriteString("\n")
	}
	schema.WriteString("}")

	return `You are a document metadata extraction assistant. Analyze the provided ` + docType + ` document and extract the following fields.

IMPORTANT INSTRUCTIONS:
- Return ONLY valid JSON with no markdown formatting, no code fences, no explanation.
- Every field is an object with "value" and "confidence". "confidence" is a float between 0.0 and 1.0.
- Use an empty string and confidence 0.0 for fields not found in the document.
- Normalize dates to YYYY-MM-DD unless the document clearly uses another convention.

The JSON object must follow this schema:
` + schema.String()
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseCategorizeText decodes the model's categorization reply. A type
// outside categories is matched case-insensitively; an unknown type is a
// malformed response.
func ParseCategorizeText(provider, text, model string, categories []string) (*port.CategorizeOutput, error) {
	var parsed struct {
		DocumentType string  `json:"document_type"`
		Confidence   float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return nil, &MalformedError{Provider: provider, Err: fmt.Errorf("%w (raw: %s)", err, truncate(text, 500))}
	}
	docType := strings.TrimSpace(parsed.DocumentType)
	if len(categories) > 0 {
		matched := ""
		for _, c := range categories {
			if strings.EqualFold(c, docType) {
				matched = c
				break
			}
		}
		if matched == "" {
			return nil, &MalformedError{Provider: provider, Err: fmt.Errorf("unknown document type %q", docType)}
		}
		docType = matched
	}
	return &port.CategorizeOutput{DocumentType: docType, Confidence: parsed.Confidence, ModelUsed: model}, nil
}

// ParseExtractText validates that the model replied with a JSON object and
// returns it unchanged for later resolution.
func ParseExtractText(provider, text string) (json.RawMessage, error) {
	cleaned := stripFences(text)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, &MalformedError{Provider: provider, Err: fmt.Errorf("%w (raw: %s)", err, truncate(text, 500))}
	}
	return json.RawMessage(cleaned), nil
}

// stripFences removes a surrounding markdown code fence, which models add
// despite instructions.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
