package port

import (
	"context"
	"encoding/json"
)

// CategorizeInput carries a file to be assigned one of the known document types.
type CategorizeInput struct {
	FileBytes   []byte
	ContentType string
	FileName    string
	Categories  []string
	Model       string
}

// CategorizeOutput is the remote service's categorization.
type CategorizeOutput struct {
	DocumentType string
	Confidence   float64
	ModelUsed    string
}

// ExtractInput carries a file and the metadata fields to extract from it.
type ExtractInput struct {
	FileBytes    []byte
	ContentType  string
	FileName     string
	DocumentType string
	Fields       []string
	Model        string
}

// ExtractOutput holds the loosely-typed extraction payload. Fields is a JSON
// object keyed by field name; values may be bare scalars, {value, confidence}
// objects, or strings holding either as JSON.
type ExtractOutput struct {
	Fields     json.RawMessage
	ModelUsed  string
	PromptUsed string
}

// DocumentExtractor abstracts the remote AI categorization and extraction service.
type DocumentExtractor interface {
	Categorize(ctx context.Context, input CategorizeInput) (*CategorizeOutput, error)
	Extract(ctx context.Context, input ExtractInput) (*ExtractOutput, error)
}
