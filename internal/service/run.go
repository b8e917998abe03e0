package service

import (
	"time"

	"github.com/google/uuid"

	"docmeta/internal/domain"
	"docmeta/internal/validator"
)

// RunInput is the DTO for starting an extraction run. Either Keys or Prefix
// selects the files; Keys wins when both are set.
type RunInput struct {
	Bucket       string   `json:"bucket"`
	Keys         []string `json:"keys"`
	Prefix       string   `json:"prefix"`
	DocumentType string   `json:"document_type"`
	Model        string   `json:"model"`
	WriteBack    bool     `json:"write_back"`

	BatchSize  int           `json:"batch_size"`
	MaxWorkers int           `json:"max_workers"`
	Timeout    time.Duration `json:"timeout"`
}

// Evaluation is the validation and confidence outcome for one document.
type Evaluation struct {
	DocumentType  string                                `json:"document_type"`
	Fields        map[string]domain.FieldValue          `json:"fields"`
	Validation    *validator.Output                     `json:"validation"`
	Confidence    map[string]validator.ConfidenceRecord `json:"confidence"`
	FieldStatuses map[string]*validator.FieldStatus     `json:"field_statuses"`
	Overall       validator.DocumentStatus              `json:"overall"`
}

// ItemResult is the outcome of one file within a run.
type ItemResult struct {
	Key                string            `json:"key"`
	Status             domain.ItemStatus `json:"status"`
	CategoryConfidence *float64          `json:"category_confidence,omitempty"`
	ModelUsed          string            `json:"model_used,omitempty"`
	MetadataKey        string            `json:"metadata_key,omitempty"`
	Error              string            `json:"error,omitempty"`
	*Evaluation
}

// RunSummary counts item outcomes.
type RunSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Run is the complete record of one extraction run.
type Run struct {
	ID           uuid.UUID        `json:"id"`
	Bucket       string           `json:"bucket"`
	DocumentType string           `json:"document_type,omitempty"`
	Status       domain.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Summary      RunSummary       `json:"summary"`
	Items        []ItemResult     `json:"items"`
}

// FieldKeys returns every extracted field key across the run's items in
// first-seen order.
func (r *Run) FieldKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, item := range r.Items {
		if item.Evaluation == nil {
			continue
		}
		for _, k := range sortedKeys(item.Fields) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

func summarize(items []ItemResult) (RunSummary, domain.RunStatus) {
	s := RunSummary{Total: len(items)}
	for _, it := range items {
		if it.Status == domain.ItemStatusCompleted {
			s.Completed++
		} else {
			s.Failed++
		}
	}
	switch {
	case s.Failed == 0:
		return s, domain.RunStatusCompleted
	case s.Completed == 0:
		return s, domain.RunStatusFailed
	default:
		return s, domain.RunStatusCompletedWithErrors
	}
}
