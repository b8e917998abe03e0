package validator

import (
	"fmt"
	"sort"
	"strings"

	"docmeta/internal/domain"
)

// Thresholds are the lower bounds of the High and Medium buckets.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns High >= 0.8, Medium >= 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Medium: 0.5}
}

const (
	// DefaultFailurePenalty is subtracted from a field's score when it fails validation.
	DefaultFailurePenalty = 0.4
	// DefaultConfidence is assumed for values reported without a score.
	DefaultConfidence = 0.5
)

// ConfidenceRecord is the per-field confidence before and after validation.
type ConfidenceRecord struct {
	OriginalScore      float64                `json:"original_score"`
	OriginalLevel      domain.ConfidenceLevel `json:"original_level"`
	AdjustedScore      float64                `json:"adjusted_score"`
	AdjustedLevel      domain.ConfidenceLevel `json:"adjusted_level"`
	Reported           bool                   `json:"reported"`
	ValidationMessages []string               `json:"validation_messages"`
}

// DocumentStatus is the overall confidence for a document with the reasons for it.
type DocumentStatus struct {
	Status   domain.ConfidenceLevel `json:"status"`
	Messages []string               `json:"messages"`
}

// ConfidenceAdjuster combines raw confidence with validation outcomes.
type ConfidenceAdjuster struct {
	thresholds   Thresholds
	penalty      float64
	defaultScore float64
}

// NewConfidenceAdjuster creates an adjuster. Zero thresholds, High below
// Medium, or values outside [0,1] fall back to the defaults.
func NewConfidenceAdjuster(t Thresholds, penalty, defaultScore float64) *ConfidenceAdjuster {
	if t == (Thresholds{}) || t.Medium < 0 || t.High > 1 || t.High < t.Medium {
		t = DefaultThresholds()
	}
	if penalty < 0 {
		penalty = DefaultFailurePenalty
	}
	if defaultScore < 0 || defaultScore > 1 {
		defaultScore = DefaultConfidence
	}
	return &ConfidenceAdjuster{thresholds: t, penalty: penalty, defaultScore: defaultScore}
}

// Thresholds returns the bucket thresholds in use.
func (a *ConfidenceAdjuster) Thresholds() Thresholds { return a.thresholds }

// Level buckets a score.
func (a *ConfidenceAdjuster) Level(score float64) domain.ConfidenceLevel {
	switch {
	case score >= a.thresholds.High:
		return domain.ConfidenceHigh
	case score >= a.thresholds.Medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// AdjustConfidence produces a record for every extracted field. Fields that
// failed validation lose the configured penalty; scores are clamped to [0,1].
func (a *ConfidenceAdjuster) AdjustConfidence(extracted map[string]domain.FieldValue, out *Output) map[string]ConfidenceRecord {
	records := make(map[string]ConfidenceRecord, len(extracted))
	for key, value := range extracted {
		score := a.defaultScore
		if value.HasConfidence() {
			score = clamp01(value.Confidence)
		}
		rec := ConfidenceRecord{
			OriginalScore:      score,
			OriginalLevel:      a.Level(score),
			AdjustedScore:      score,
			Reported:           value.HasConfidence(),
			ValidationMessages: []string{},
		}
		if out != nil {
			if fv, ok := out.FieldValidations[key]; ok && !fv.IsValid {
				rec.AdjustedScore = clamp01(score - a.penalty)
				rec.ValidationMessages = append(rec.ValidationMessages, fv.Messages...)
			}
		}
		rec.AdjustedLevel = a.Level(rec.AdjustedScore)
		records[key] = rec
	}
	return records
}

// OverallStatus derives the document rating: Low if any field is Low,
// otherwise Medium if any field is Medium, otherwise High; a failed
// mandatory or cross-field check caps the rating at Medium.
func (a *ConfidenceAdjuster) OverallStatus(records map[string]ConfidenceRecord, out *Output) DocumentStatus {
	var low, medium []string
	for key, rec := range records {
		switch rec.AdjustedLevel {
		case domain.ConfidenceLow:
			low = append(low, key)
		case domain.ConfidenceMedium:
			medium = append(medium, key)
		}
	}
	sort.Strings(low)
	sort.Strings(medium)

	status := domain.ConfidenceHigh
	var msgs []string
	if len(low) > 0 {
		status = domain.ConfidenceLow
		msgs = append(msgs, fmt.Sprintf("Low confidence fields: %s", strings.Join(low, ", ")))
	}
	if len(medium) > 0 {
		if status == domain.ConfidenceHigh {
			status = domain.ConfidenceMedium
		}
		msgs = append(msgs, fmt.Sprintf("Medium confidence fields: %s", strings.Join(medium, ", ")))
	}

	if out != nil {
		if out.MandatoryCheck.Status == domain.CheckFailed {
			status = capAt(status, domain.ConfidenceMedium)
			msgs = append(msgs, fmt.Sprintf("Missing mandatory fields: %s", strings.Join(out.MandatoryCheck.MissingFields, ", ")))
		}
		if out.CrossFieldCheck.Status == domain.CheckFailed {
			status = capAt(status, domain.ConfidenceMedium)
			msgs = append(msgs, fmt.Sprintf("Failed cross-field rules: %s", strings.Join(out.CrossFieldCheck.FailedRules, ", ")))
		}
		if invalid := out.InvalidFields(); len(invalid) > 0 {
			msgs = append(msgs, fmt.Sprintf("Fields failing validation: %s", strings.Join(invalid, ", ")))
		}
	}

	if len(msgs) == 0 {
		if len(records) == 0 {
			msgs = append(msgs, "No fields were extracted.")
		} else {
			msgs = append(msgs, "All fields have high confidence and passed validation.")
		}
	}
	return DocumentStatus{Status: status, Messages: msgs}
}

func capAt(level, limit domain.ConfidenceLevel) domain.ConfidenceLevel {
	if limit.Worse(level) {
		return limit
	}
	return level
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
