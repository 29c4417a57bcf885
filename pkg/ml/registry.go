package ml

import (
	"context"
	"fmt"
	"sync"
)

// ModelStore persists fitted baselines across process restarts. Baselines
// are addressed by user and telemetry channel, since channels carry
// different arities. Load returns (nil, nil) when no baseline exists.
type ModelStore interface {
	LoadBaseline(ctx context.Context, userID, eventType string) (*BaselineModel, error)
	SaveBaseline(ctx context.Context, userID, eventType string, m *BaselineModel) error
}

// Registry owns the per-user baseline models. Models are immutable; the map
// holds handles swapped whole under the lock, so concurrent scorers observe
// either the previous or the replacement model, never a partial retrain.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*BaselineModel
	store  ModelStore // optional; nil keeps models in memory only
	cfg    BaselineConfig
}

func NewRegistry(store ModelStore, cfg BaselineConfig) *Registry {
	return &Registry{
		models: make(map[string]*BaselineModel),
		store:  store,
		cfg:    cfg,
	}
}

func cacheKey(userID, eventType string) string {
	return userID + ":" + eventType
}

// Train fits a fresh baseline for the user's telemetry channel and atomically
// replaces any prior model. Fitting runs outside the registry lock so one
// user's retrain cannot stall other users' scoring.
func (r *Registry) Train(ctx context.Context, userID, eventType string, vectors []FeatureVector) (*BaselineModel, error) {
	model, err := TrainBaseline(ctx, vectors, r.cfg)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		if err := r.store.SaveBaseline(ctx, userID, eventType, model); err != nil {
			return nil, fmt.Errorf("persist %s baseline for %s: %w", eventType, userID, err)
		}
	}
	r.mu.Lock()
	r.models[cacheKey(userID, eventType)] = model
	r.mu.Unlock()
	return model, nil
}

// Model returns the channel's current baseline, lazily reloading a persisted
// one after a restart. ErrModelUnavailable means it was never trained.
func (r *Registry) Model(ctx context.Context, userID, eventType string) (*BaselineModel, error) {
	key := cacheKey(userID, eventType)
	r.mu.RLock()
	m := r.models[key]
	r.mu.RUnlock()
	if m != nil {
		return m, nil
	}
	if r.store == nil {
		return nil, ErrModelUnavailable
	}
	loaded, err := r.store.LoadBaseline(ctx, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("load %s baseline for %s: %w", eventType, userID, err)
	}
	if loaded == nil {
		return nil, ErrModelUnavailable
	}
	r.mu.Lock()
	if cur := r.models[key]; cur != nil {
		// a concurrent train won the race; keep the newer model
		loaded = cur
	} else {
		r.models[key] = loaded
	}
	r.mu.Unlock()
	return loaded, nil
}

// Trained reports whether a baseline exists for the user's channel.
func (r *Registry) Trained(ctx context.Context, userID, eventType string) bool {
	_, err := r.Model(ctx, userID, eventType)
	return err == nil
}
