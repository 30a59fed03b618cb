package rest

import (
	"context"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/reputation"
	"github.com/netsentry/dashboard/internal/server/storage"
	"github.com/netsentry/dashboard/internal/syncsvc"
)

// Store is the subset of storage.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store
// without a live PostgreSQL connection.
type Store interface {
	// QueryAlerts returns alerts matching the given filter, newest first.
	QueryAlerts(ctx context.Context, q storage.AlertQuery) ([]alert.Alert, error)

	// GetAlert returns the alert with the given ID.
	GetAlert(ctx context.Context, id string) (*alert.Alert, error)

	// AcknowledgeAlert marks the alert with the given ID as acknowledged.
	AcknowledgeAlert(ctx context.Context, id string) error

	// AlertCountsBySource returns a per-source-IP alert count across the
	// whole alert table.
	AlertCountsBySource(ctx context.Context) (map[string]int, error)

	// UpsertIPState creates or replaces the reputation record for an IP.
	UpsertIPState(ctx context.Context, rec reputation.Record) error

	// GetIPState returns the reputation record for the given IP. The
	// storage layer wraps pgx.ErrNoRows when no record exists; callers
	// treat that as the allowed default state.
	GetIPState(ctx context.Context, ip string) (*reputation.Record, error)

	// ListIPStates returns all reputation records ordered by risk score.
	ListIPStates(ctx context.Context) ([]reputation.Record, error)

	// QueryLoginAttempts returns login attempts matching the query, newest
	// first.
	QueryLoginAttempts(ctx context.Context, q storage.LoginAttemptQuery) ([]reputation.LoginAttempt, error)
}

// Spooler accepts parsed alerts for durable local storage ahead of the
// database sync. *spool.Spool satisfies it.
type Spooler interface {
	Enqueue(ctx context.Context, a alert.Alert) error
}

// Syncer exposes sync-service control to the REST surface.
// *syncsvc.Service satisfies it.
type Syncer interface {
	Start(ctx context.Context) error
	Stop()
	ForceSync(ctx context.Context) error
	Status() syncsvc.Status
}
