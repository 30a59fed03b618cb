// Package storage provides the PostgreSQL-backed persistence layer for the
// NetSentry dashboard server: the security_alerts, ip_management, and
// login_attempts tables, and a Store that wraps a pgxpool connection pool
// with a batched alert-insert path.
//
// Column aliasing from legacy feeds (src_ip vs source_ip) is resolved here
// in the scan helpers, so rows leave this package already in the canonical
// alert.Alert shape the core operates on.
package storage

import (
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
)

const (
	// DefaultQueryLimit is the snapshot size returned when a caller does not
	// specify one. Aggregations operate over this bounded snapshot, not the
	// full historical table.
	DefaultQueryLimit = 500

	// MaxQueryLimit caps the snapshot size a caller may request.
	MaxQueryLimit = 1000
)

// AlertQuery carries the server-side filter parameters for QueryAlerts.
//
// A nil Since applies no time lower bound (the "30 days" sentinel range).
// An empty Severities slice (or one covering every selectable severity)
// applies no severity predicate; an empty DetectionTypes slice likewise.
// Limit defaults to DefaultQueryLimit when <= 0 and is capped at
// MaxQueryLimit. Results are ordered by timestamp descending.
type AlertQuery struct {
	Since          *time.Time
	Severities     []alert.Severity
	DetectionTypes []alert.DetectionType
	SourceIP       string
	Limit          int
}

// LoginAttemptQuery carries the filter parameters for QueryLoginAttempts.
// An empty IP matches all addresses. Limit semantics match AlertQuery.
type LoginAttemptQuery struct {
	IP    string
	Since *time.Time
	Limit int
}
