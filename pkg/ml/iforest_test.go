package ml

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
)

func clusterData(n int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, n)
	for i := range X {
		X[i] = []float64{60 + rng.Float64()*10, 80 + rng.Float64()*20, 120 + rng.Float64()*20}
	}
	return X
}

func TestIsolationForest_Deterministic(t *testing.T) {
	X := clusterData(50)
	probe := []float64{65, 90, 130}

	f1 := NewIsolationForest(50, 64)
	f2 := NewIsolationForest(50, 64)
	if err := f1.Fit(context.Background(), X, rand.New(rand.NewSource(42))); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := f2.Fit(context.Background(), X, rand.New(rand.NewSource(42))); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if f1.Score(probe) != f2.Score(probe) {
		t.Errorf("same data and seed produced different scores: %f vs %f", f1.Score(probe), f2.Score(probe))
	}
}

func TestIsolationForest_ScoreRange(t *testing.T) {
	f := NewIsolationForest(50, 64)
	if err := f.Fit(context.Background(), clusterData(50), rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("fit: %v", err)
	}
	probes := [][]float64{
		{65, 90, 130},
		{0, 0, 0},
		{1e6, -1e6, 0},
	}
	for _, p := range probes {
		s := f.Score(p)
		if s < 0 || s > 1 {
			t.Errorf("Score(%v) = %f, want [0, 1]", p, s)
		}
	}
}

func TestIsolationForest_OutlierScoresHigher(t *testing.T) {
	f := NewIsolationForest(100, 64)
	if err := f.Fit(context.Background(), clusterData(100), rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("fit: %v", err)
	}
	inlier := f.Score([]float64{65, 90, 130})
	outlier := f.Score([]float64{300, 900, 1200})
	if outlier <= inlier {
		t.Errorf("outlier score %f not above inlier score %f", outlier, inlier)
	}
}

func TestIsolationForest_FitAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewIsolationForest(100, 64)
	if err := f.Fit(ctx, clusterData(20), rand.New(rand.NewSource(1))); err == nil {
		t.Error("Fit with cancelled context should fail")
	}
}

func TestIsolationForest_JSONRoundTrip(t *testing.T) {
	f := NewIsolationForest(20, 32)
	if err := f.Fit(context.Background(), clusterData(40), rand.New(rand.NewSource(3))); err != nil {
		t.Fatalf("fit: %v", err)
	}
	probe := []float64{64, 88, 125}
	want := f.Score(probe)

	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored IsolationForest
	if err := json.Unmarshal(b, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := restored.Score(probe); got != want {
		t.Errorf("score after round trip = %f, want %f", got, want)
	}
}
