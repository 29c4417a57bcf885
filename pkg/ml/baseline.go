package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

const (
	// MinTrainingSamples is the smallest baseline set a model can be fit on.
	MinTrainingSamples = 10

	// DefaultContamination is the assumed fraction of anomalous samples in
	// the training data, used to calibrate the decision offset.
	DefaultContamination = 0.1

	// DefaultSeed keeps training deterministic across retrains with the same
	// baseline set.
	DefaultSeed = 42
)

// BaselineConfig tunes baseline training. The zero value selects defaults
// matching the production profile (100 trees, subsample 256, 10%
// contamination, fixed seed).
type BaselineConfig struct {
	NumTrees      int
	SampleSize    int
	Contamination float64
	Seed          int64
}

func (c BaselineConfig) withDefaults() BaselineConfig {
	if c.NumTrees <= 0 {
		c.NumTrees = 100
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 256
	}
	if c.Contamination <= 0 || c.Contamination >= 1 {
		c.Contamination = DefaultContamination
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	return c
}

// BaselineModel is one user's fitted behavioral boundary. It is immutable
// once trained: retraining builds a fresh model and the registry swaps the
// handle, so in-flight readers see either the old or the new model whole.
type BaselineModel struct {
	Forest    *IsolationForest `json:"forest"`
	Arity     int              `json:"arity"`
	Offset    float64          `json:"offset"`
	Samples   int              `json:"samples"`
	Seed      int64            `json:"seed"`
	TrainedAt time.Time        `json:"trained_at"`
}

// TrainBaseline fits an isolation forest on the user's baseline vectors and
// calibrates the decision offset at the contamination quantile of the
// training scores, so roughly that fraction of the baseline lands on the
// anomalous side of the boundary.
//
// Fewer than MinTrainingSamples vectors fails with ErrInsufficientData;
// unequal vector lengths fail with ErrArityMismatch. The context aborts
// training between trees.
func TrainBaseline(ctx context.Context, vectors []FeatureVector, cfg BaselineConfig) (*BaselineModel, error) {
	cfg = cfg.withDefaults()
	if len(vectors) < MinTrainingSamples {
		return nil, fmt.Errorf("%w: need at least %d samples, got %d", ErrInsufficientData, MinTrainingSamples, len(vectors))
	}
	arity := vectors[0].Arity()
	X := make([][]float64, len(vectors))
	for i, v := range vectors {
		if v.Arity() != arity {
			return nil, fmt.Errorf("%w: sample %d has %d features, want %d", ErrArityMismatch, i, v.Arity(), arity)
		}
		X[i] = v.Values
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	forest := NewIsolationForest(cfg.NumTrees, cfg.SampleSize)
	if err := forest.Fit(ctx, X, rng); err != nil {
		return nil, fmt.Errorf("training aborted: %w", err)
	}

	// score_samples of the training set; low values are the most isolated
	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = -forest.Score(x)
	}
	sort.Float64s(scores)
	idx := int(cfg.Contamination * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}

	return &BaselineModel{
		Forest:    forest,
		Arity:     arity,
		Offset:    scores[idx],
		Samples:   len(vectors),
		Seed:      cfg.Seed,
		TrainedAt: time.Now().UTC(),
	}, nil
}

// ScoreRaw returns the decision-function value for a vector: positive means
// inside the learned boundary (normal), negative means outside (anomalous),
// and magnitude grows with isolation. Arity is validated against the model.
func (m *BaselineModel) ScoreRaw(v FeatureVector) (float64, error) {
	if v.Arity() != m.Arity {
		return 0, fmt.Errorf("%w: got %d features, model trained with %d", ErrArityMismatch, v.Arity(), m.Arity)
	}
	return -m.Forest.Score(v.Values) - m.Offset, nil
}
