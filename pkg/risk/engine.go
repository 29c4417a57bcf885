package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sentinel/pkg/ml"
)

// Alert is an immutable append-only anomaly record. One is created exactly
// when a scoring event's anomaly score exceeds AnomalyThreshold. The
// Resolved flag is owned by an external moderation surface, not this engine.
type Alert struct {
	ID           string    `json:"alert_id"`
	SessionID    string    `json:"session_id"`
	AlertType    string    `json:"alert_type"`
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description"`
	AnomalyScore float64   `json:"anomaly_score"`
	CreatedAt    time.Time `json:"created_at"`
	Resolved     bool      `json:"resolved"`
}

// AlertSink receives anomaly alerts. Appends are best effort: a sink failure
// must never roll back the in-memory session transition.
type AlertSink interface {
	AppendAlert(ctx context.Context, a Alert) error
}

// StateSink persists session risk state snapshots, also best effort.
type StateSink interface {
	SaveSessionState(ctx context.Context, s SessionState) error
}

// Outcome is the result of one scoring event, relayed back to the transport.
type Outcome struct {
	Anomalous     bool     `json:"is_anomalous"`
	AnomalyScore  float64  `json:"anomaly_score"`
	Confidence    float64  `json:"confidence"`
	Action        Action   `json:"action"`
	Severity      Severity `json:"severity,omitempty"`
	SessionStatus string   `json:"session_status"`
	AlertID       string   `json:"alert_id,omitempty"`
}

// Engine wires the scorer, the alert policy and the session registry into
// the per-event control flow: sample → confidence → verdict → state
// transition → alert.
type Engine struct {
	scorer   *Scorer
	sessions *SessionRegistry
	alerts   AlertSink // optional
	states   StateSink // optional
}

func NewEngine(scorer *Scorer, sessions *SessionRegistry, alerts AlertSink, states StateSink) *Engine {
	return &Engine{scorer: scorer, sessions: sessions, alerts: alerts, states: states}
}

// Sessions exposes the registry for login/logout lifecycle management.
func (e *Engine) Sessions() *SessionRegistry { return e.sessions }

// ScoreVector scores a feature vector against the user's baseline for the
// given telemetry channel and runs the outcome through the session state
// machine and alert policy.
func (e *Engine) ScoreVector(ctx context.Context, sessionID, userID, eventType string, v ml.FeatureVector, alertType, description string) (*Outcome, error) {
	confidence, err := e.scorer.Confidence(ctx, userID, eventType, v)
	if err != nil {
		return nil, err
	}
	return e.applyScore(ctx, sessionID, 1-confidence/100, alertType, description)
}

// ApplyScore runs a pre-computed anomaly score through the state machine and
// alert policy, for callers that derive the score elsewhere.
func (e *Engine) ApplyScore(ctx context.Context, sessionID string, anomalyScore float64, alertType, description string) (*Outcome, error) {
	return e.applyScore(ctx, sessionID, anomalyScore, alertType, description)
}

func (e *Engine) applyScore(ctx context.Context, sessionID string, anomalyScore float64, alertType, description string) (*Outcome, error) {
	verdict := Evaluate(anomalyScore)

	state, err := e.sessions.Apply(sessionID, anomalyScore, verdict.Anomalous)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Anomalous:     verdict.Anomalous,
		AnomalyScore:  anomalyScore,
		Confidence:    state.CurrentConfidence,
		Action:        verdict.Action,
		Severity:      verdict.Severity,
		SessionStatus: state.Status(),
	}

	if verdict.Anomalous {
		alert := Alert{
			ID:           uuid.New().String(),
			SessionID:    sessionID,
			AlertType:    alertType,
			Severity:     verdict.Severity,
			Description:  fmt.Sprintf("Anomaly detected: %s", description),
			AnomalyScore: anomalyScore,
			CreatedAt:    time.Now().UTC(),
		}
		out.AlertID = alert.ID
		if e.alerts != nil {
			// best effort: trust-state integrity wins over log durability
			if err := e.alerts.AppendAlert(ctx, alert); err != nil {
				log.Printf("[risk] append alert %s: %v", alert.ID, err)
			}
		}
	}

	if e.states != nil {
		if err := e.states.SaveSessionState(ctx, state); err != nil {
			log.Printf("[risk] persist session %s: %v", sessionID, err)
		}
	}
	return out, nil
}
