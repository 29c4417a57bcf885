package risk

import (
	"errors"
	"sync"
	"testing"
)

func TestSessionRegistry_StartDefaults(t *testing.T) {
	r := NewSessionRegistry()
	s := r.Start("s1", "alice")
	if s.CurrentConfidence != 100 || s.MinConfidence != 100 {
		t.Errorf("new session confidence = %f/%f, want 100/100", s.CurrentConfidence, s.MinConfidence)
	}
	if s.Status() != StatusTrusted {
		t.Errorf("status = %s, want trusted", s.Status())
	}
}

func TestSessionRegistry_RoutineEventsKeepConfidence(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")

	// one anomaly drops confidence; later clean events must not renew it
	s, err := r.Apply("s1", 0.75, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.CurrentConfidence != 25 {
		t.Errorf("confidence after anomaly = %f, want 25", s.CurrentConfidence)
	}
	s, _ = r.Apply("s1", 0.0, false)
	if s.CurrentConfidence != 25 {
		t.Errorf("routine event changed confidence to %f", s.CurrentConfidence)
	}
	if s.AnomalyCount != 1 {
		t.Errorf("anomaly count = %d, want 1", s.AnomalyCount)
	}
	if s.Status() != StatusDegraded {
		t.Errorf("status = %s, want degraded", s.Status())
	}
}

func TestSessionRegistry_StickyCompromise(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")

	s, err := r.Apply("s1", 0.95, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !s.Compromised || s.Status() != StatusCompromised {
		t.Fatalf("score 0.95 did not compromise session: %+v", s)
	}

	// an entirely normal event must not revert the flag
	s, _ = r.Apply("s1", 0.0, false)
	if !s.Compromised {
		t.Error("compromised flag cleared by a normal event")
	}

	// exactly 0.9 never trips the flag in the first place
	r.Start("s2", "bob")
	s, _ = r.Apply("s2", 0.90, true)
	if s.Compromised {
		t.Error("score exactly 0.9 must not compromise the session")
	}
}

func TestSessionRegistry_ClosedRejectsEvents(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")

	s, err := r.Close("s1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Status() != StatusClosed {
		t.Errorf("status = %s, want closed", s.Status())
	}
	if _, err := r.Apply("s1", 0.5, false); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("apply on closed session: err = %v, want ErrNoActiveSession", err)
	}
	if _, err := r.Apply("missing", 0.5, false); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("apply on unknown session: err = %v, want ErrNoActiveSession", err)
	}
}

func TestSessionRegistry_MinConfidenceTracksFloor(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")
	r.Apply("s1", 0.8, true)  // confidence 20
	r.Apply("s1", 0.75, true) // confidence 25, floor stays 20
	s, _ := r.Get("s1")
	if s.CurrentConfidence != 25 {
		t.Errorf("current = %f, want 25", s.CurrentConfidence)
	}
	if s.MinConfidence != 20 {
		t.Errorf("min = %f, want 20", s.MinConfidence)
	}
}

func TestSessionRegistry_ConcurrentUpdatesSerialize(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")

	// simultaneous keystroke and mouse telemetry for the same session:
	// every anomaly must land in the count, no lost updates
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := r.Apply("s1", 0.75, true); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	s, _ := r.Get("s1")
	if s.AnomalyCount != n {
		t.Errorf("anomaly count = %d, want %d (lost updates)", s.AnomalyCount, n)
	}
}

func TestSessionRegistry_ActiveExcludesClosed(t *testing.T) {
	r := NewSessionRegistry()
	r.Start("s1", "alice")
	r.Start("s2", "bob")
	r.Close("s1")

	active := r.Active()
	if len(active) != 1 || active[0].SessionID != "s2" {
		t.Errorf("active = %+v, want only s2", active)
	}
}
