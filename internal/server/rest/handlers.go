package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/netsentry/dashboard/internal/audit"
	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/reputation"
	"github.com/netsentry/dashboard/internal/server/storage"
)

// writeError writes an HTTP error response with a JSON body containing an
// "error" field. It is a thin wrapper around writeJSONError for use in
// handler functions.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store  Store
	spool  Spooler
	syncer Syncer
	trail  *audit.Trail
	policy reputation.AutoBlockPolicy
	logger *slog.Logger

	// now is swappable in tests so expiry reconciliation is deterministic.
	now func() time.Time
}

// NewServer creates a new Server. spool, syncer, and trail may be nil; the
// corresponding endpoints then return 503.
func NewServer(store Store, spool Spooler, syncer Syncer, trail *audit.Trail, policy reputation.AutoBlockPolicy, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.FailureThreshold <= 0 {
		policy = reputation.DefaultAutoBlockPolicy()
	}
	return &Server{
		store:  store,
		spool:  spool,
		syncer: syncer,
		trail:  trail,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetAlerts responds to GET /api/v1/alerts.
//
// Supported query parameters:
//
//	severity        – comma-separated severity values (optional)
//	detection_type  – comma-separated detection types (optional)
//	acknowledged    – "true" to include acknowledged alerts (default false)
//	search          – case-insensitive substring over message, IPs and types
//	time_range      – one of 1hour, 6hours, 24hours, 7days, 30days (default 24hours)
//	source_ip       – exact source IP filter (optional)
//	limit           – maximum number of results (default 500, max 1000)
//
// Returns HTTP 400 when a parameter is malformed. Returns HTTP 200 with a
// JSON array of Alert objects on success, newest first.
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now()

	rng := alert.TimeRange(q.Get("time_range"))
	if rng == "" {
		rng = alert.Range24Hours
	}
	hours, bounded, err := rng.Hours()
	if err != nil {
		writeError(w, http.StatusBadRequest, "'time_range' must be one of 1hour, 6hours, 24hours, 7days, 30days")
		return
	}

	severities, err := parseSeverities(q.Get("severity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	types, err := parseDetectionTypes(q.Get("detection_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	showAcked := false
	if ackStr := q.Get("acknowledged"); ackStr != "" {
		showAcked, err = strconv.ParseBool(ackStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "'acknowledged' must be a boolean")
			return
		}
	}

	sq := storage.AlertQuery{SourceIP: q.Get("source_ip")}
	if bounded {
		since := now.Add(-time.Duration(hours) * time.Hour)
		sq.Since = &since
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		sq.Limit = limit
	}

	rows, err := s.store.QueryAlerts(r.Context(), sq)
	if err != nil {
		s.logger.Error("query alerts failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}

	// The database narrows by time and source; the remaining filters run
	// in-process so their selection semantics stay in one place. BySeverity
	// treats an empty selection as "keep nothing", so it only runs when the
	// request named severities.
	if len(severities) > 0 {
		rows = alert.BySeverity(rows, severities)
	}
	rows = alert.ByDetectionType(rows, types)
	rows = alert.ByAcknowledgment(rows, showAcked)
	rows = alert.BySearchText(rows, q.Get("search"))

	// Ensure we always return a JSON array, not null.
	if rows == nil {
		rows = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleGetAlert responds to GET /api/v1/alerts/{id}.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.store.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.logger.Error("get alert failed", slog.String("id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAcknowledgeAlert responds to PATCH /api/v1/alerts/{id}/acknowledge.
//
// Acknowledging is idempotent at the storage layer; acknowledging an
// already-acknowledged alert succeeds and leaves the flag set.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.AcknowledgeAlert(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.logger.Error("acknowledge alert failed", slog.String("id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}

	if s.trail != nil {
		if _, err := s.trail.Append(audit.Action{
			Kind:   audit.ActionAcknowledge,
			Target: id,
			Actor:  actorFromContext(r),
		}); err != nil {
			s.logger.Warn("audit append failed", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_acknowledged": true})
}

// actorFromContext derives an audit actor label from the verified JWT
// claims, falling back to "anonymous" when authentication is disabled.
func actorFromContext(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

func parseSeverities(raw string) ([]alert.Severity, error) {
	if raw == "" {
		return nil, nil
	}
	var out []alert.Severity
	for _, part := range strings.Split(raw, ",") {
		s := alert.Severity(strings.ToLower(strings.TrimSpace(part)))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, errors.New("'severity' must list values from critical, high, medium, low, info")
		}
		out = append(out, s)
	}
	return out, nil
}

func parseDetectionTypes(raw string) ([]alert.DetectionType, error) {
	if raw == "" {
		return nil, nil
	}
	var out []alert.DetectionType
	for _, part := range strings.Split(raw, ",") {
		t := strings.ToLower(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		out = append(out, alert.DetectionType(t))
	}
	return out, nil
}
