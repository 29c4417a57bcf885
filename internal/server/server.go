package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sentinel/pkg/auth"
	"sentinel/pkg/ml"
	"sentinel/pkg/risk"
	"sentinel/pkg/store"
	"sentinel/pkg/textcheck"
)

// Event types under which behavioral windows are recorded and baselines keyed.
const (
	EventKeystroke = "keystroke"
	EventMouse     = "mouse"
)

// trainingWindowLimit caps how many stored windows feed one baseline fit.
const trainingWindowLimit = 500

// Storage is the narrow persistence surface the handlers need. *store.Store
// satisfies it; tests run against an in-memory fake.
type Storage interface {
	CreateUser(ctx context.Context, u store.User) error
	UserByUsername(ctx context.Context, username string) (*store.User, error)
	RecordEvent(ctx context.Context, e store.BehavioralEvent) error
	TrainingVectors(ctx context.Context, userID, eventType string, limit int) ([][]float64, error)
	SaveSessionState(ctx context.Context, s risk.SessionState) error
	Alerts(ctx context.Context, limit int) ([]risk.Alert, error)
}

// Server exposes the behavioral authentication API over HTTP.
type Server struct {
	storage   Storage
	models    *ml.Registry
	engine    *risk.Engine
	text      *textcheck.Checker
	tokens    *auth.JWTManager
	directory *auth.SessionDirectory // optional
}

func New(storage Storage, models *ml.Registry, engine *risk.Engine, tokens *auth.JWTManager, directory *auth.SessionDirectory) *Server {
	return &Server{
		storage:   storage,
		models:    models,
		engine:    engine,
		text:      textcheck.New(),
		tokens:    tokens,
		directory: directory,
	}
}

// Routes builds the full handler chain: rate limiting and body caps on the
// outside, bearer auth on everything past the public auth endpoints.
func (s *Server) Routes(reqPerMin int) http.Handler {
	mux := http.NewServeMux()
	rl := makeRateLimiter(reqPerMin)

	mux.HandleFunc("/api/auth/register", rl(bodyGuard(64<<10, s.handleRegister)))
	mux.HandleFunc("/api/auth/login", rl(bodyGuard(64<<10, s.handleLogin)))
	mux.HandleFunc("/api/auth/logout", rl(s.requireAuth(s.handleLogout)))

	mux.HandleFunc("/api/behavioral/keystroke", rl(bodyGuard(1<<20, s.requireAuth(s.handleKeystroke))))
	mux.HandleFunc("/api/behavioral/mouse", rl(bodyGuard(1<<20, s.requireAuth(s.handleMouse))))
	mux.HandleFunc("/api/behavioral/train-baseline", rl(s.requireAuth(s.handleTrainBaseline)))
	mux.HandleFunc("/api/behavioral/text-quality", rl(bodyGuard(256<<10, s.requireAuth(s.handleTextQuality))))

	mux.HandleFunc("/api/anomaly/check", rl(bodyGuard(256<<10, s.requireAuth(s.handleAnomalyCheck))))

	mux.HandleFunc("/api/admin/active-sessions", rl(s.requireAuth(s.handleActiveSessions)))
	mux.HandleFunc("/api/admin/alerts", rl(s.requireAuth(s.handleAlerts)))
	mux.HandleFunc("/api/admin/model-status", rl(s.requireAuth(s.handleModelStatus)))
	mux.HandleFunc("/api/admin/force-logout", rl(bodyGuard(16<<10, s.requireAuth(s.handleForceLogout))))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"sentinel"}`))
	})

	return metricsMiddleware(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username required and password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process credentials")
		return
	}
	u := store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.storage.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		log.Printf("[server] create user: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": u.ID, "username": u.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := s.storage.UserByUsername(r.Context(), req.Username)
	if err != nil {
		log.Printf("[server] lookup user: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sessionID := uuid.New().String()
	state := s.engine.Sessions().Start(sessionID, user.ID)
	if err := s.storage.SaveSessionState(r.Context(), state); err != nil {
		log.Printf("[server] persist session %s: %v", sessionID, err)
	}
	if s.directory != nil {
		if _, err := s.directory.Create(r.Context(), sessionID, user.ID, user.Username, clientIP(r), r.UserAgent()); err != nil {
			log.Printf("[server] session directory: %v", err)
		}
	}

	token, err := s.tokens.Generate(user.ID, user.Username, sessionID)
	if err != nil {
		log.Printf("[server] mint token: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"user_id":    user.ID,
		"session_id": sessionID,
		"confidence": state.CurrentConfidence,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims := claimsFrom(r.Context())

	state, err := s.engine.Sessions().Close(claims.SessionID)
	if err != nil && !errors.Is(err, risk.ErrNoActiveSession) {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	if err == nil {
		if perr := s.storage.SaveSessionState(r.Context(), state); perr != nil {
			log.Printf("[server] persist session %s: %v", claims.SessionID, perr)
		}
	}
	if s.directory != nil {
		if derr := s.directory.Delete(r.Context(), claims.SessionID); derr != nil {
			log.Printf("[server] session directory: %v", derr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type keystrokeRequest struct {
	KeystrokeData []ml.KeystrokeSample `json:"keystroke_data"`
}

func (s *Server) handleKeystroke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req keystrokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.KeystrokeData) == 0 {
		writeError(w, http.StatusBadRequest, "no keystroke data provided")
		return
	}
	fv := ml.ExtractKeystrokeFeatures(req.KeystrokeData)
	s.scoreTelemetry(w, r, fv, EventKeystroke, "keystroke_anomaly", "keystroke dynamics deviate from baseline")
}

type mouseRequest struct {
	MouseData []ml.MouseSample `json:"mouse_data"`
}

func (s *Server) handleMouse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req mouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.MouseData) == 0 {
		writeError(w, http.StatusBadRequest, "no mouse data provided")
		return
	}
	fv := ml.ExtractMouseFeatures(req.MouseData)
	s.scoreTelemetry(w, r, fv, EventMouse, "mouse_anomaly", "mouse dynamics deviate from baseline")
}

// scoreTelemetry runs one extracted window through the risk engine and logs
// the event. The audit write is best effort.
func (s *Server) scoreTelemetry(w http.ResponseWriter, r *http.Request, fv ml.FeatureVector, eventType, alertType, description string) {
	claims := claimsFrom(r.Context())

	outcome, err := s.engine.ScoreVector(r.Context(), claims.SessionID, claims.UserID, eventType, fv, alertType, description)
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrNoActiveSession):
			writeError(w, http.StatusUnauthorized, "no active session")
		case errors.Is(err, ml.ErrArityMismatch):
			writeError(w, http.StatusBadRequest, "feature vector does not match baseline")
		default:
			log.Printf("[server] score %s: %v", eventType, err)
			writeError(w, http.StatusInternalServerError, "scoring failed")
		}
		return
	}

	event := store.BehavioralEvent{
		SessionID:    claims.SessionID,
		UserID:       claims.UserID,
		EventType:    eventType,
		Features:     fv.Values,
		AnomalyScore: outcome.AnomalyScore,
		Anomalous:    outcome.Anomalous,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.storage.RecordEvent(r.Context(), event); err != nil {
		log.Printf("[server] record %s event: %v", eventType, err)
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleTrainBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims := claimsFrom(r.Context())

	names := map[string][]string{
		EventKeystroke: ml.KeystrokeFeatureNames,
		EventMouse:     ml.MouseFeatureNames,
	}
	results := map[string]any{}
	trainedAny := false
	for _, eventType := range []string{EventKeystroke, EventMouse} {
		raw, err := s.storage.TrainingVectors(r.Context(), claims.UserID, eventType, trainingWindowLimit)
		if err != nil {
			log.Printf("[server] load training data: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load training data")
			return
		}
		vectors := make([]ml.FeatureVector, 0, len(raw))
		for _, values := range raw {
			vectors = append(vectors, ml.FeatureVector{Names: names[eventType], Values: values})
		}
		_, err = s.models.Train(r.Context(), claims.UserID, eventType, vectors)
		switch {
		case err == nil:
			trainedAny = true
			results[eventType] = map[string]any{"trained": true, "samples": len(vectors)}
		case errors.Is(err, ml.ErrInsufficientData):
			results[eventType] = map[string]any{
				"trained": false,
				"samples": len(vectors),
				"error":   "insufficient training data, need at least " + strconv.Itoa(ml.MinTrainingSamples) + " samples",
			}
		case errors.Is(err, ml.ErrArityMismatch):
			writeError(w, http.StatusBadRequest, "stored "+eventType+" windows have inconsistent feature arity")
			return
		default:
			log.Printf("[server] train baseline %s: %v", eventType, err)
			writeError(w, http.StatusInternalServerError, "training failed")
			return
		}
	}

	status := http.StatusOK
	if !trainedAny {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, results)
}

type textQualityRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTextQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req textQualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	writeJSON(w, http.StatusOK, s.text.Check(req.Text))
}

type anomalyCheckRequest struct {
	EventType string    `json:"event_type"`
	Features  []float64 `json:"features"`
}

func (s *Server) handleAnomalyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req anomalyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "no features provided")
		return
	}
	if req.EventType == "" {
		req.EventType = EventKeystroke
	}
	fv := ml.NewFeatureVector(req.Features...)
	s.scoreTelemetry(w, r, fv, req.EventType, "manual_check", "explicit anomaly check")
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	states := s.engine.Sessions().Active()
	sessions := make([]map[string]any, 0, len(states))
	for _, st := range states {
		sessions = append(sessions, map[string]any{
			"session_id":         st.SessionID,
			"user_id":            st.UserID,
			"login_time":         st.LoginTime,
			"last_activity":      st.LastActivity,
			"current_confidence": st.CurrentConfidence,
			"anomaly_count":      st.AnomalyCount,
			"status":             st.Status(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(sessions), "sessions": sessions})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	alerts, err := s.storage.Alerts(r.Context(), limit)
	if err != nil {
		log.Printf("[server] list alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []risk.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": alerts})
}

type forceLogoutRequest struct {
	UserID string `json:"user_id"`
}

// handleForceLogout closes every active session held by a user, for
// responding to a confirmed compromise without waiting for the user to log
// out themselves.
func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req forceLogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	closed := 0
	for _, st := range s.engine.Sessions().Active() {
		if st.UserID != req.UserID {
			continue
		}
		state, err := s.engine.Sessions().Close(st.SessionID)
		if err != nil {
			continue
		}
		closed++
		if perr := s.storage.SaveSessionState(r.Context(), state); perr != nil {
			log.Printf("[server] persist session %s: %v", st.SessionID, perr)
		}
	}
	if s.directory != nil {
		if err := s.directory.DeleteUserSessions(r.Context(), req.UserID); err != nil {
			log.Printf("[server] session directory: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "sessions_closed": closed})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims := claimsFrom(r.Context())
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.UserID
	}

	status := map[string]any{}
	for _, eventType := range []string{EventKeystroke, EventMouse} {
		raw, err := s.storage.TrainingVectors(r.Context(), userID, eventType, trainingWindowLimit)
		if err != nil {
			log.Printf("[server] model status: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read model status")
			return
		}
		status[eventType] = map[string]any{
			"trained":          s.models.Trained(r.Context(), userID, eventType),
			"samples":          len(raw),
			"samples_required": ml.MinTrainingSamples,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "models": status})
}
