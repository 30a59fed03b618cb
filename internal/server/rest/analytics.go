package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/core/stats"
	"github.com/netsentry/dashboard/internal/server/storage"
)

// dashboardStats is the payload for GET /api/v1/dashboard/stats. It is the
// single snapshot the dashboard header cards render from.
type dashboardStats struct {
	TotalAlerts      int    `json:"total_alerts"`
	Critical         int    `json:"critical_alerts"`
	High             int    `json:"high_alerts"`
	Medium           int    `json:"medium_alerts"`
	Low              int    `json:"low_alerts"`
	Info             int    `json:"info_alerts"`
	UniqueAttackers  int    `json:"unique_attackers"`
	MostCommonAttack string `json:"most_common_attack"`
	RiskScore        int    `json:"risk_score"`
	RiskLevel        string `json:"risk_level"`
	TimeRange        string `json:"time_range"`
}

// snapshotForRange loads the alert rows backing an analytics response. The
// unbounded 30-day sentinel loads with no lower time bound.
func (s *Server) snapshotForRange(r *http.Request, rng alert.TimeRange) ([]alert.Alert, error) {
	hours, bounded, err := rng.Hours()
	if err != nil {
		return nil, err
	}
	q := storage.AlertQuery{Limit: storage.MaxQueryLimit}
	if bounded {
		since := s.now().Add(-time.Duration(hours) * time.Hour)
		q.Since = &since
	}
	return s.store.QueryAlerts(r.Context(), q)
}

func timeRangeParam(r *http.Request) alert.TimeRange {
	rng := alert.TimeRange(r.URL.Query().Get("time_range"))
	if rng == "" {
		rng = alert.Range24Hours
	}
	return rng
}

// handleDashboardStats responds to GET /api/v1/dashboard/stats.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	rng := timeRangeParam(r)
	rows, err := s.snapshotForRange(r, rng)
	if err != nil {
		s.analyticsError(w, "dashboard stats", err)
		return
	}

	totals := stats.Totals(rows)
	score := stats.SnapshotRiskScore(rows)
	mostCommon, _ := stats.MostCommonAttackType(rows)

	writeJSON(w, http.StatusOK, dashboardStats{
		TotalAlerts:      totals.Total,
		Critical:         totals.Critical,
		High:             totals.High,
		Medium:           totals.Medium,
		Low:              totals.Low,
		Info:             totals.Info,
		UniqueAttackers:  stats.UniqueAttackers(rows),
		MostCommonAttack: mostCommon,
		RiskScore:        score,
		RiskLevel:        string(stats.LevelForScore(score)),
		TimeRange:        string(rng),
	})
}

// handleTimeline responds to GET /api/v1/analytics/timeline.
//
// The hours parameter (default 24) selects the window; every hour in the
// window appears in the response, zero-filled, oldest first.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if hStr := r.URL.Query().Get("hours"); hStr != "" {
		h, err := strconv.Atoi(hStr)
		if err != nil || h <= 0 {
			writeError(w, http.StatusBadRequest, "'hours' must be a positive integer")
			return
		}
		hours = h
	}

	now := s.now()
	since := now.Add(-time.Duration(hours) * time.Hour)
	rows, err := s.store.QueryAlerts(r.Context(), storage.AlertQuery{
		Since: &since,
		Limit: storage.MaxQueryLimit,
	})
	if err != nil {
		s.analyticsError(w, "timeline", err)
		return
	}

	buckets, err := stats.HourlyCounts(rows, hours, now)
	if err != nil {
		s.analyticsError(w, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// handleSeverityDistribution responds to GET /api/v1/analytics/severity-distribution.
func (s *Server) handleSeverityDistribution(w http.ResponseWriter, r *http.Request) {
	rows, err := s.snapshotForRange(r, timeRangeParam(r))
	if err != nil {
		s.analyticsError(w, "severity distribution", err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Totals(rows))
}

// handleAttackTypes responds to GET /api/v1/analytics/attack-types.
//
// Returns the top attack types by alert count with their share of the
// snapshot, capped at eight entries.
func (s *Server) handleAttackTypes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.snapshotForRange(r, timeRangeParam(r))
	if err != nil {
		s.analyticsError(w, "attack types", err)
		return
	}
	writeJSON(w, http.StatusOK, stats.AttackDistribution(rows, stats.DefaultDistributionLimit))
}

// handleProtocols responds to GET /api/v1/analytics/protocols.
//
// Returns the top transport protocols by alert count with their share of
// the snapshot, capped at eight entries.
func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	rows, err := s.snapshotForRange(r, timeRangeParam(r))
	if err != nil {
		s.analyticsError(w, "protocols", err)
		return
	}
	writeJSON(w, http.StatusOK, stats.ProtocolDistribution(rows, stats.DefaultDistributionLimit))
}

// handleTopIPs responds to GET /api/v1/analytics/top-ips.
//
// Returns the ten most active source IPs with per-IP alert count, highest
// severity seen, and most recent activity.
func (s *Server) handleTopIPs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.snapshotForRange(r, timeRangeParam(r))
	if err != nil {
		s.analyticsError(w, "top ips", err)
		return
	}

	top, err := stats.TopAttackers(rows, 10)
	if err != nil {
		s.analyticsError(w, "top ips", err)
		return
	}
	if top == nil {
		top = []stats.TopAttacker{}
	}
	writeJSON(w, http.StatusOK, top)
}

func (s *Server) analyticsError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, alert.ErrUnknownTimeRange) {
		writeError(w, http.StatusBadRequest, "'time_range' must be one of 1hour, 6hours, 24hours, 7days, 30days")
		return
	}
	s.logger.Error("analytics query failed", slog.String("endpoint", what), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "failed to compute "+what)
}
