package anomaly

import (
	"fmt"
	"time"
)

// ConfigurationError reports an invalid detector configuration. It is
// a programmer error surfaced at construction, not a runtime data
// condition.
type ConfigurationError struct {
	// Field names the offending Config field.
	Field string

	// Reason says what was wrong with it.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("anomaly: invalid %s: %s", e.Field, e.Reason)
}

// Status describes the outcome of assessing a reading.
type Status string

// Status constants.
const (
	// StatusScored means a verdict was produced from the baseline.
	StatusScored Status = "scored"

	// StatusInsufficient means the baseline was too small to score.
	// The reading is still stored; no verdict is recorded.
	StatusInsufficient Status = "insufficient"
)

// Method identifies one scoring method in the ensemble.
type Method string

// Method constants.
const (
	MethodZScore   Method = "zscore"
	MethodIQR      Method = "iqr"
	MethodMultiDim Method = "multidim"
)

// Sample is one historical numeric observation used as baseline input.
type Sample struct {
	Value float64
	At    time.Time
}

// MethodContribution records how one method voted on a reading.
type MethodContribution struct {
	// Method is which scorer produced this contribution.
	Method Method `json:"method"`

	// Score is the method's normalised score in [0, 1].
	Score float64 `json:"score"`

	// Flagged is the method's individual verdict.
	Flagged bool `json:"flagged"`

	// Weight is the method's share of the ensemble blend.
	Weight float64 `json:"weight"`

	// Evaluated is false when the method was skipped, e.g. the
	// multi-dimensional scorer below its sample minimum.
	Evaluated bool `json:"evaluated"`
}

// Assessment is the full verdict for one reading.
type Assessment struct {
	// Status is scored or insufficient.
	Status Status `json:"status"`

	// Anomalous is the ensemble verdict. Nil when Status is insufficient.
	Anomalous *bool `json:"anomalous,omitempty"`

	// EnsembleScore is the blended score in [0, 1]. Nil when Status is
	// insufficient.
	EnsembleScore *float64 `json:"ensemble_score,omitempty"`

	// SampleCount is the usable baseline size the verdict was drawn from.
	SampleCount int `json:"sample_count"`

	// Fallback is true when the baseline was large enough for the
	// statistical methods but too small for the full ensemble, so the
	// verdict came from the z-score/IQR OR-rule instead of the blend.
	Fallback bool `json:"fallback"`

	// Methods holds the per-method contributions.
	Methods []MethodContribution `json:"methods,omitempty"`

	// AssessedAt is when the verdict was produced.
	AssessedAt time.Time `json:"assessed_at"`
}
