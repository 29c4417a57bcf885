package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sentinel/pkg/ml"
	"sentinel/pkg/risk"
)

// ErrUserExists is returned when registration hits a duplicate username.
var ErrUserExists = errors.New("username already taken")

// User is an account row. PasswordHash is bcrypt and never serialized.
type User struct {
	ID           string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// BehavioralEvent is one scored telemetry window, kept for audit and
// offline model review.
type BehavioralEvent struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	EventType    string    `json:"event_type"`
	Features     []float64 `json:"features"`
	AnomalyScore float64   `json:"anomaly_score"`
	Anomalous    bool      `json:"is_anomalous"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the PostgreSQL persistence layer. It backs the model registry
// (user_baselines), the risk engine sinks (anomaly_alerts, user_sessions)
// and the account surface (users).
type Store struct {
	db *sql.DB
}

// Open connects, verifies the connection and applies pool limits.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateUser inserts a new account. Duplicate usernames map to ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByUsername looks up an account. Returns (nil, nil) when absent.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// RecordEvent appends a scored telemetry window to the audit log.
func (s *Store) RecordEvent(ctx context.Context, e BehavioralEvent) error {
	features, err := json.Marshal(e.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behavioral_events (session_id, user_id, event_type, features, anomaly_score, is_anomalous, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.SessionID, e.UserID, e.EventType, features, e.AnomalyScore, e.Anomalous, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// TrainingVectors returns the feature windows of one event type for a user,
// oldest first, as raw vectors for baseline fitting.
func (s *Store) TrainingVectors(ctx context.Context, userID, eventType string, limit int) ([][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT features FROM behavioral_events
		WHERE user_id = $1 AND event_type = $2
		ORDER BY created_at DESC LIMIT $3`, userID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var vectors [][]float64
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var v []float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// SaveBaseline upserts a fitted model as JSON, one row per user per
// telemetry channel. Implements ml.ModelStore.
func (s *Store) SaveBaseline(ctx context.Context, userID, eventType string, m *ml.BaselineModel) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_baselines (user_id, event_type, model, trained_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, event_type) DO UPDATE SET model = $3, trained_at = $4`,
		userID, eventType, blob, m.TrainedAt)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// LoadBaseline retrieves a fitted model, (nil, nil) when none exists.
func (s *Store) LoadBaseline(ctx context.Context, userID, eventType string) (*ml.BaselineModel, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT model FROM user_baselines WHERE user_id = $1 AND event_type = $2`,
		userID, eventType).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query baseline: %w", err)
	}
	var m ml.BaselineModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	return &m, nil
}

// SaveSessionState upserts a session risk snapshot. Implements risk.StateSink.
func (s *Store) SaveSessionState(ctx context.Context, st risk.SessionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions
			(session_id, user_id, login_time, last_activity, current_confidence,
			 min_confidence, anomaly_count, event_count, is_compromised, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			last_activity = $4, current_confidence = $5, min_confidence = $6,
			anomaly_count = $7, event_count = $8, is_compromised = $9, is_active = $10`,
		st.SessionID, st.UserID, st.LoginTime, st.LastActivity, st.CurrentConfidence,
		st.MinConfidence, st.AnomalyCount, st.EventCount, st.Compromised, st.Active)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ActiveSessions returns persisted snapshots of sessions still marked active.
func (s *Store) ActiveSessions(ctx context.Context) ([]risk.SessionState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, login_time, last_activity, current_confidence,
		       min_confidence, anomaly_count, event_count, is_compromised, is_active
		FROM user_sessions WHERE is_active ORDER BY login_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []risk.SessionState
	for rows.Next() {
		var st risk.SessionState
		if err := rows.Scan(&st.SessionID, &st.UserID, &st.LoginTime, &st.LastActivity,
			&st.CurrentConfidence, &st.MinConfidence, &st.AnomalyCount, &st.EventCount,
			&st.Compromised, &st.Active); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// AppendAlert stores an anomaly alert. Implements risk.AlertSink.
func (s *Store) AppendAlert(ctx context.Context, a risk.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomaly_alerts
			(id, session_id, alert_type, severity, description, anomaly_score, created_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SessionID, a.AlertType, a.Severity, a.Description, a.AnomalyScore, a.CreatedAt, a.Resolved)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Alerts returns the newest unresolved alerts, capped at limit.
func (s *Store) Alerts(ctx context.Context, limit int) ([]risk.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, alert_type, severity, description, anomaly_score, created_at, resolved
		FROM anomaly_alerts WHERE NOT resolved
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []risk.Alert
	for rows.Next() {
		var a risk.Alert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.AlertType, &a.Severity,
			&a.Description, &a.AnomalyScore, &a.CreatedAt, &a.Resolved); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// isUniqueViolation matches the postgres unique_violation error code.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
