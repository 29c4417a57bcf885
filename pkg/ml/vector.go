package ml

import "errors"

var (
	// ErrInsufficientData is returned when training is attempted with fewer
	// samples than MinTrainingSamples. Recoverable: collect more baselines.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrArityMismatch is returned when a vector's length disagrees with the
	// model it is trained or scored against.
	ErrArityMismatch = errors.New("feature arity mismatch")

	// ErrModelUnavailable signals that no baseline exists for the user yet.
	// Callers must fall back to a neutral confidence instead of failing.
	ErrModelUnavailable = errors.New("baseline model unavailable")
)

// FeatureVector is a fixed-schema ordered numeric record. Field order is
// deterministic per extractor; arity is validated at both train and score
// time rather than silently truncated.
type FeatureVector struct {
	Names  []string  `json:"names,omitempty"`
	Values []float64 `json:"values"`
}

// NewFeatureVector builds a vector from raw values with no schema names.
func NewFeatureVector(values ...float64) FeatureVector {
	return FeatureVector{Values: values}
}

// Arity returns the number of measurements in the vector.
func (v FeatureVector) Arity() int { return len(v.Values) }
