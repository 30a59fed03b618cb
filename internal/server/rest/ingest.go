package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/netsentry/dashboard/internal/suricata"
)

// maxParseLogBody caps the request body for POST /api/v1/suricata/parse-log.
const maxParseLogBody = 32 << 20 // 32 MiB

// handleParseLog responds to POST /api/v1/suricata/parse-log.
//
// The request body is a stream of Suricata eve.json lines. Alert events are
// normalized and spooled for the next sync pass; non-alert events and
// malformed lines are skipped and counted. The response reports how many
// lines were parsed, spooled, and skipped.
func (s *Server) handleParseLog(w http.ResponseWriter, r *http.Request) {
	if s.spool == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest is not configured")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxParseLogBody)
	alerts, result, err := suricata.ParseReader(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read log body")
		return
	}

	spooled := 0
	for _, a := range alerts {
		if err := s.spool.Enqueue(r.Context(), a); err != nil {
			s.logger.Error("spool enqueue failed", slog.String("alert_id", a.ID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to spool parsed alerts")
			return
		}
		spooled++
	}

	s.logger.Info("parsed suricata log",
		slog.Int("parsed", result.Parsed),
		slog.Int("spooled", spooled),
		slog.Int("skipped", result.Skipped),
	)

	writeJSON(w, http.StatusOK, map[string]int{
		"parsed":  result.Parsed,
		"spooled": spooled,
		"skipped": result.Skipped,
	})
}

// handleSyncStatus responds to GET /api/v1/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

// handleSyncStart responds to POST /api/v1/sync/start. Starting an
// already-running service returns 409.
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service is not configured")
		return
	}
	// The drain loop must outlive this request.
	if err := s.syncer.Start(context.Background()); err != nil {
		writeError(w, http.StatusConflict, "sync service is already running")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

// handleSyncStop responds to POST /api/v1/sync/stop.
func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service is not configured")
		return
	}
	s.syncer.Stop()
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

// handleSyncForce responds to POST /api/v1/sync/force, running a drain pass
// immediately and reporting the resulting status.
func (s *Server) handleSyncForce(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service is not configured")
		return
	}
	if err := s.syncer.ForceSync(r.Context()); err != nil {
		s.logger.Error("forced sync failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "sync pass failed")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}
