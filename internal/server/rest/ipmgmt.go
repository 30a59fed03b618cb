package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/netsentry/dashboard/internal/audit"
	"github.com/netsentry/dashboard/internal/reputation"
	"github.com/netsentry/dashboard/internal/server/storage"
)

// ipView is the wire representation of one tracked IP: the stored
// reputation record plus the state derived from it at response time.
// Expired temporary blocks therefore show up as "allowed" without any
// write to the record.
type ipView struct {
	reputation.Record
	State string `json:"state"`
}

// ipManagementStats is the payload for GET /api/v1/ip-management/stats.
type ipManagementStats struct {
	TotalTracked  int           `json:"total_tracked"`
	Blocked       int           `json:"blocked"`
	Whitelisted   int           `json:"whitelisted"`
	ExpiredBlocks int           `json:"expired_blocks"`
	AutoBlock     autoBlockView `json:"auto_block"`
}

type autoBlockView struct {
	FailureThreshold   int `json:"failure_threshold"`
	PermanentThreshold int `json:"permanent_threshold"`
	BlockDurationHours int `json:"block_duration_hours"`
}

// handleIPStats responds to GET /api/v1/ip-management/stats.
func (s *Server) handleIPStats(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListIPStates(r.Context())
	if err != nil {
		s.logger.Error("list ip states failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip states")
		return
	}

	now := s.now()
	out := ipManagementStats{
		TotalTracked: len(recs),
		AutoBlock: autoBlockView{
			FailureThreshold:   s.policy.FailureThreshold,
			PermanentThreshold: s.policy.PermanentThreshold,
			BlockDurationHours: int(s.policy.BlockDuration / time.Hour),
		},
	}
	for _, rec := range recs {
		switch rec.State(now) {
		case reputation.StateBlocked:
			out.Blocked++
		case reputation.StateWhitelisted:
			out.Whitelisted++
		default:
			if rec.BlockExpired(now) {
				out.ExpiredBlocks++
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListIPs responds to GET /api/v1/ip-management/ips.
//
// Each record's state is derived at response time, so a temporary block
// that has lapsed reads as allowed without any database write. The per-IP
// alert count is joined in from the alert table.
func (s *Server) handleListIPs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListIPStates(r.Context())
	if err != nil {
		s.logger.Error("list ip states failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip states")
		return
	}

	counts, err := s.store.AlertCountsBySource(r.Context())
	if err != nil {
		s.logger.Error("alert counts failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load alert counts")
		return
	}

	now := s.now()
	out := make([]ipView, 0, len(recs))
	for _, rec := range recs {
		rec.AlertCount = counts[rec.IP]
		out = append(out, ipView{Record: rec, State: string(rec.State(now))})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCheckIP responds to GET /api/v1/ip-management/check/{ip}.
//
// An IP with no stored record is reported as allowed; records are only
// materialized on the first block or whitelist action.
func (s *Server) handleCheckIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if _, err := netip.ParseAddr(ip); err != nil {
		writeError(w, http.StatusBadRequest, "invalid IP address")
		return
	}

	rec, err := s.store.GetIPState(r.Context(), ip)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusOK, ipView{
				Record: reputation.Record{IP: ip},
				State:  string(reputation.StateAllowed),
			})
			return
		}
		s.logger.Error("get ip state failed", slog.String("ip", ip), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip state")
		return
	}
	writeJSON(w, http.StatusOK, ipView{Record: *rec, State: string(rec.State(s.now()))})
}

// handleLoginAttempts responds to GET /api/v1/ip-management/login-attempts.
//
// Supported query parameters: ip (exact filter), limit (default 500).
// Each attempt is annotated with the auto-block decision its IP's recent
// history supports, so the UI can show "2 of 3 failures" style hints.
func (s *Server) handleLoginAttempts(w http.ResponseWriter, r *http.Request) {
	q := storage.LoginAttemptQuery{IP: r.URL.Query().Get("ip")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		q.Limit = limit
	}

	attempts, err := s.store.QueryLoginAttempts(r.Context(), q)
	if err != nil {
		s.logger.Error("query login attempts failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to query login attempts")
		return
	}
	if attempts == nil {
		attempts = []reputation.LoginAttempt{}
	}

	decisions := s.policy.EvaluateAll(attempts)
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts":  attempts,
		"decisions": decisions,
	})
}

type blockRequest struct {
	IP            string `json:"ip"`
	Reason        string `json:"reason"`
	BlockType     string `json:"block_type"`
	DurationHours int    `json:"duration_hours"`
}

// handleBlockIP responds to POST /api/v1/ip-management/block.
//
// Request body: {"ip", "reason", "block_type", "duration_hours"}.
// block_type defaults to temporary; duration_hours defaults to the
// configured auto-block duration. A missing reason is rejected with 400.
func (s *Server) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := netip.ParseAddr(req.IP); err != nil {
		writeError(w, http.StatusBadRequest, "invalid IP address")
		return
	}

	bt := reputation.BlockType(req.BlockType)
	if req.BlockType == "" {
		bt = reputation.BlockTemporary
	}
	duration := s.policy.BlockDuration
	if req.DurationHours > 0 {
		duration = time.Duration(req.DurationHours) * time.Hour
	}

	now := s.now()
	rec, err := s.loadOrDefault(r, req.IP)
	if err != nil {
		s.logger.Error("get ip state failed", slog.String("ip", req.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip state")
		return
	}

	updated, err := reputation.Block(rec, req.Reason, bt, duration, now)
	if err != nil {
		var verr *reputation.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("block transition failed", slog.String("ip", req.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to block ip")
		return
	}

	s.persistIPState(w, r, updated, audit.Action{
		Kind:   audit.ActionBlock,
		Target: req.IP,
		Actor:  actorFromContext(r),
		Reason: req.Reason,
		Detail: string(bt),
	})
}

type whitelistRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// handleWhitelistIP responds to POST /api/v1/ip-management/whitelist.
//
// Whitelisting clears any existing block on the IP; the two states are
// mutually exclusive and the whitelist takes precedence.
func (s *Server) handleWhitelistIP(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := netip.ParseAddr(req.IP); err != nil {
		writeError(w, http.StatusBadRequest, "invalid IP address")
		return
	}

	rec, err := s.loadOrDefault(r, req.IP)
	if err != nil {
		s.logger.Error("get ip state failed", slog.String("ip", req.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip state")
		return
	}

	updated, err := reputation.Whitelist(rec, req.Reason, s.now())
	if err != nil {
		var verr *reputation.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("whitelist transition failed", slog.String("ip", req.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to whitelist ip")
		return
	}

	s.persistIPState(w, r, updated, audit.Action{
		Kind:   audit.ActionWhitelist,
		Target: req.IP,
		Actor:  actorFromContext(r),
		Reason: req.Reason,
	})
}

type unblockRequest struct {
	IP string `json:"ip"`
}

// handleUnblockIP responds to POST /api/v1/ip-management/unblock.
//
// Unblocking an IP that is not currently blocked is a no-op that still
// returns 200; the caller's intent (the IP ends up not blocked) holds
// either way.
func (s *Server) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := netip.ParseAddr(req.IP); err != nil {
		writeError(w, http.StatusBadRequest, "invalid IP address")
		return
	}

	now := s.now()
	rec, err := s.loadOrDefault(r, req.IP)
	if err != nil {
		s.logger.Error("get ip state failed", slog.String("ip", req.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load ip state")
		return
	}

	if !rec.Blocked {
		writeJSON(w, http.StatusOK, ipView{Record: rec, State: string(rec.State(now))})
		return
	}

	updated := reputation.Unblock(rec, now)
	s.persistIPState(w, r, updated, audit.Action{
		Kind:   audit.ActionUnblock,
		Target: req.IP,
		Actor:  actorFromContext(r),
	})
}

// loadOrDefault fetches the stored record for ip. A missing record maps to
// a fresh allowed-state one; any other storage failure is propagated.
func (s *Server) loadOrDefault(r *http.Request, ip string) (reputation.Record, error) {
	rec, err := s.store.GetIPState(r.Context(), ip)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reputation.Record{IP: ip}, nil
		}
		return reputation.Record{}, err
	}
	return *rec, nil
}

// persistIPState upserts the record, appends the audit entry, and writes
// the updated view to the response.
func (s *Server) persistIPState(w http.ResponseWriter, r *http.Request, rec reputation.Record, action audit.Action) {
	if err := s.store.UpsertIPState(r.Context(), rec); err != nil {
		s.logger.Error("upsert ip state failed", slog.String("ip", rec.IP), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to persist ip state")
		return
	}

	if s.trail != nil {
		if _, err := s.trail.Append(action); err != nil {
			s.logger.Warn("audit append failed", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, ipView{Record: rec, State: string(rec.State(s.now()))})
}
