package domain

// ConfidenceLevel is the qualitative bucket derived from a numeric confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

// rank orders levels from worst (0) to best (2).
func (c ConfidenceLevel) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Worse reports whether c is a lower bucket than other.
func (c ConfidenceLevel) Worse(other ConfidenceLevel) bool {
	return c.rank() < other.rank()
}

// CheckStatus is the pass/fail outcome of a document-level check.
type CheckStatus string

const (
	CheckPassed CheckStatus = "Passed"
	CheckFailed CheckStatus = "Failed"
)

// FieldValidationStatus represents the computed validation state of a single field.
type FieldValidationStatus string

const (
	FieldStatusValid   FieldValidationStatus = "valid"
	FieldStatusInvalid FieldValidationStatus = "invalid"
	FieldStatusUnsure  FieldValidationStatus = "unsure"
)

// ItemStatus is the lifecycle outcome of one document within a run.
type ItemStatus string

const (
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// RunStatus summarises an extraction run.
type RunStatus string

const (
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
)
