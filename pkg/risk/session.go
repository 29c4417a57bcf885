package risk

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNoActiveSession is returned when a scoring event references a closed or
// unknown session. Recoverable: the caller must re-authenticate.
var ErrNoActiveSession = errors.New("no active session")

// Session status values derived from the risk state.
const (
	StatusTrusted     = "trusted"
	StatusDegraded    = "degraded"
	StatusCompromised = "compromised"
	StatusClosed      = "closed"
)

// degradedBelow is the confidence under which an active session is reported
// as degraded rather than trusted.
const degradedBelow = 70.0

// SessionState is the mutable trust ledger for one login session. Confidence
// starts at 100 and only moves on anomalous events; routine events refresh
// activity without renewing trust (no recovery without logout). The
// Compromised flag is sticky for the life of the session.
type SessionState struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	LoginTime         time.Time `json:"login_time"`
	LastActivity      time.Time `json:"last_activity"`
	CurrentConfidence float64   `json:"current_confidence"`
	MinConfidence     float64   `json:"min_confidence"`
	AnomalyCount      int       `json:"anomaly_count"`
	EventCount        int       `json:"event_count"`
	Compromised       bool      `json:"is_compromised"`
	Active            bool      `json:"is_active"`
}

// Status derives the state-machine position from the ledger fields.
func (s SessionState) Status() string {
	switch {
	case !s.Active:
		return StatusClosed
	case s.Compromised:
		return StatusCompromised
	case s.CurrentConfidence < degradedBelow:
		return StatusDegraded
	default:
		return StatusTrusted
	}
}

type sessionEntry struct {
	mu    sync.Mutex
	state SessionState
}

// SessionRegistry tracks active sessions. Updates for the same session
// serialize on a per-entry mutex: simultaneous keystroke and mouse telemetry
// must not race on confidence or the anomaly count, since a lost update
// there can suppress a BLOCK decision.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*sessionEntry)}
}

// Start registers a fresh session at full confidence.
func (r *SessionRegistry) Start(sessionID, userID string) SessionState {
	now := time.Now().UTC()
	state := SessionState{
		SessionID:         sessionID,
		UserID:            userID,
		LoginTime:         now,
		LastActivity:      now,
		CurrentConfidence: 100,
		MinConfidence:     100,
		Active:            true,
	}
	r.mu.Lock()
	r.sessions[sessionID] = &sessionEntry{state: state}
	r.mu.Unlock()
	return state
}

// Restore seeds the registry with a persisted state, e.g. after a restart.
func (r *SessionRegistry) Restore(state SessionState) {
	r.mu.Lock()
	r.sessions[state.SessionID] = &sessionEntry{state: state}
	r.mu.Unlock()
}

// Get returns a snapshot of the session state.
func (r *SessionRegistry) Get(sessionID string) (SessionState, error) {
	entry := r.entry(sessionID)
	if entry == nil {
		return SessionState{}, ErrNoActiveSession
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// Apply runs one scoring outcome through the state machine and returns the
// resulting snapshot. Anomalous events depress confidence and may trip the
// sticky compromised flag; routine events only refresh activity.
func (r *SessionRegistry) Apply(sessionID string, anomalyScore float64, anomalous bool) (SessionState, error) {
	entry := r.entry(sessionID)
	if entry == nil {
		return SessionState{}, ErrNoActiveSession
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s := &entry.state
	if !s.Active {
		return SessionState{}, ErrNoActiveSession
	}
	s.LastActivity = time.Now().UTC()
	s.EventCount++
	if anomalous {
		s.AnomalyCount++
		s.CurrentConfidence = clamp(100-anomalyScore*100, 0, 100)
		if s.CurrentConfidence < s.MinConfidence {
			s.MinConfidence = s.CurrentConfidence
		}
		if anomalyScore > BlockThreshold {
			s.Compromised = true // sticky until logout
		}
	}
	return *s, nil
}

// Close transitions the session to closed. Further scoring events against it
// fail with ErrNoActiveSession. Closing an already-closed session is a no-op.
func (r *SessionRegistry) Close(sessionID string) (SessionState, error) {
	entry := r.entry(sessionID)
	if entry == nil {
		return SessionState{}, ErrNoActiveSession
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.state.Active = false
	return entry.state, nil
}

// Active returns snapshots of all active sessions, most recent login first.
func (r *SessionRegistry) Active() []SessionState {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]SessionState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.state.Active {
			out = append(out, e.state)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginTime.After(out[j].LoginTime) })
	return out
}

func (r *SessionRegistry) entry(sessionID string) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}
