package risk

import (
	"context"
	"errors"
	"math"

	"sentinel/pkg/ml"
)

// FallbackConfidence is returned when a user has no trained baseline yet:
// probably fine, not yet verified. A never-trained baseline must not block
// legitimate new users.
const FallbackConfidence = 85.0

// Scorer converts the baseline model's raw decision value into a confidence
// on a fixed [0, 100] scale, 100 meaning perfectly normal.
type Scorer struct {
	models *ml.Registry
}

func NewScorer(models *ml.Registry) *Scorer {
	return &Scorer{models: models}
}

// Confidence scores one feature vector against the user's baseline for the
// given telemetry channel. The raw decision value is sign-flipped and
// rectified into a non-negative anomaly magnitude, then mapped:
// confidence = clamp(100 − magnitude×100). ErrModelUnavailable degrades to
// FallbackConfidence; arity mismatches propagate to the caller.
func (s *Scorer) Confidence(ctx context.Context, userID, eventType string, v ml.FeatureVector) (float64, error) {
	model, err := s.models.Model(ctx, userID, eventType)
	if err != nil {
		if errors.Is(err, ml.ErrModelUnavailable) {
			return FallbackConfidence, nil
		}
		return 0, err
	}
	raw, err := model.ScoreRaw(v)
	if err != nil {
		return 0, err
	}
	magnitude := math.Max(0, -raw)
	return clamp(100-magnitude*100, 0, 100), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
