package validator

import (
	"docmeta/internal/domain"
)

// FieldStatus represents the computed validation state for a single field.
type FieldStatus struct {
	Status   domain.FieldValidationStatus `json:"status"`
	Messages []string                     `json:"messages"`
}

// ComputeFieldStatuses derives per-field statuses from validation results and
// adjusted confidence. A field that failed a rule is invalid; a field that
// passed but whose adjusted confidence is Low is unsure.
func ComputeFieldStatuses(out *Output, records map[string]ConfidenceRecord) map[string]*FieldStatus {
	statuses := make(map[string]*FieldStatus)

	if out != nil {
		for key, fv := range out.FieldValidations {
			fs := &FieldStatus{Status: domain.FieldStatusValid, Messages: append([]string{}, fv.Messages...)}
			if !fv.IsValid {
				fs.Status = domain.FieldStatusInvalid
			} else if rec, ok := records[key]; ok && rec.AdjustedLevel == domain.ConfidenceLow {
				fs.Status = domain.FieldStatusUnsure
			}
			statuses[key] = fs
		}
		// Missing mandatory fields have no value to validate but still need attention.
		for _, key := range out.MandatoryCheck.MissingFields {
			if fs, ok := statuses[key]; ok {
				fs.Status = domain.FieldStatusInvalid
				fs.Messages = append(fs.Messages, "mandatory field is missing")
				continue
			}
			statuses[key] = &FieldStatus{
				Status:   domain.FieldStatusInvalid,
				Messages: []string{"mandatory field is missing"},
			}
		}
	}

	// For fields with confidence records but no validation results,
	// derive status from confidence alone.
	for key, rec := range records {
		if _, exists := statuses[key]; exists {
			continue
		}
		status := domain.FieldStatusValid
		if rec.AdjustedLevel == domain.ConfidenceLow {
			status = domain.FieldStatusUnsure
		}
		statuses[key] = &FieldStatus{Status: status, Messages: []string{}}
	}

	return statuses
}
