// Package spool provides a WAL-mode SQLite-backed spool for alerts parsed
// from local Suricata eve logs while they await synchronization into
// PostgreSQL. It supports at-least-once delivery semantics: alerts are
// persisted on Enqueue and are not marked synced until the caller calls Ack
// after a successful database write.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so that concurrent
// readers and a single writer can proceed without blocking each other. The
// parse endpoint enqueues while the sync service dequeues and acks.
//
// # At-least-once delivery
//
// The synced column is set to 1 only when Ack is called. If the process
// crashes between Enqueue and Ack, the alert is returned again by the next
// Dequeue after restart. The Postgres insert path uses ON CONFLICT DO
// NOTHING, so replayed alerts are deduplicated by primary key.
package spool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/netsentry/dashboard/internal/core/alert"
)

// Spool is a WAL-mode SQLite-backed alert spool. It is safe for concurrent
// use.
type Spool struct {
	db    *sql.DB
	depth atomic.Int64
}

// New opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory
// database is used; this is suitable for tests but loses all data when
// closed.
//
// New seeds the internal depth counter from the number of rows currently
// pending (synced = 0), so Depth() is accurate immediately after a
// crash-recovery restart.
func New(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("spool: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors when the parse endpoint
	// and the sync service write concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS
	// crashes. A lost spool row after an OS crash only delays the alert
	// until the eve log is re-parsed.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: apply schema: %w", err)
	}

	s := &Spool{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM alert_spool WHERE synced = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: count pending rows: %w", err)
	}
	s.depth.Store(count)

	return s, nil
}

// ddl is the schema, kept here so the package is self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS alert_spool (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    alert_id        TEXT    NOT NULL,
    ts              TEXT    NOT NULL,
    src_ip          TEXT    NOT NULL DEFAULT '',
    dest_ip         TEXT    NOT NULL DEFAULT '',
    src_port        INTEGER NOT NULL DEFAULT 0,
    dest_port       INTEGER NOT NULL DEFAULT 0,
    protocol        TEXT    NOT NULL DEFAULT '',
    detection_type  TEXT    NOT NULL,
    severity        TEXT    NOT NULL,
    message         TEXT    NOT NULL DEFAULT '',
    payload_snippet TEXT    NOT NULL DEFAULT '',
    event_count     INTEGER NOT NULL DEFAULT 1,
    enqueued_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    synced          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alert_spool_pending
    ON alert_spool (synced, id);
`

// Enqueue persists a to the spool. The alert is stored with synced = 0 and
// is included in subsequent Dequeue results until Ack is called for its
// spool ID.
func (s *Spool) Enqueue(ctx context.Context, a alert.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_spool
			(alert_id, ts, src_ip, dest_ip, src_port, dest_port, protocol,
			 detection_type, severity, message, payload_snippet, event_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		a.SourceIP,
		a.DestinationIP,
		a.SourcePort,
		a.DestinationPort,
		a.Protocol,
		string(a.DetectionType),
		string(a.Severity),
		a.Message,
		a.PayloadSnippet,
		a.Events(),
	)
	if err != nil {
		return fmt.Errorf("spool: enqueue: %w", err)
	}

	s.depth.Add(1)
	return nil
}

// Pending is an unsynced alert returned by Dequeue. ID is the spool primary
// key used to acknowledge the alert via Ack.
type Pending struct {
	ID    int64
	Alert alert.Alert
}

// Dequeue returns up to n unsynced alerts in insertion order (oldest
// first). It does not mark alerts as synced; call Ack with the returned IDs
// to do that. If n ≤ 0, Dequeue returns nil without querying the database.
func (s *Spool) Dequeue(ctx context.Context, n int) ([]Pending, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, ts, src_ip, dest_ip, src_port, dest_port,
		        protocol, detection_type, severity, message, payload_snippet,
		        event_count
		 FROM   alert_spool
		 WHERE  synced = 0
		 ORDER  BY id
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("spool: dequeue query: %w", err)
	}
	defer rows.Close()

	var pending []Pending
	for rows.Next() {
		var (
			p             Pending
			tsStr         string
			detectionType string
			severity      string
		)
		if err := rows.Scan(
			&p.ID,
			&p.Alert.ID,
			&tsStr,
			&p.Alert.SourceIP,
			&p.Alert.DestinationIP,
			&p.Alert.SourcePort,
			&p.Alert.DestinationPort,
			&p.Alert.Protocol,
			&detectionType,
			&severity,
			&p.Alert.Message,
			&p.Alert.PayloadSnippet,
			&p.Alert.EventCount,
		); err != nil {
			return nil, fmt.Errorf("spool: dequeue scan: %w", err)
		}

		p.Alert.DetectionType = alert.DetectionType(detectionType)
		p.Alert.Severity = alert.Severity(severity)

		// Parse the stored RFC3339Nano timestamp; fall back to RFC3339.
		p.Alert.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			p.Alert.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		}

		pending = append(pending, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool: dequeue rows: %w", err)
	}
	return pending, nil
}

// Ack marks the alerts identified by ids as synced. Acked alerts are
// excluded from subsequent Dequeue results. Ack is idempotent: calling it
// multiple times with the same IDs is safe.
//
// The depth counter is decremented by the number of rows whose synced
// column transitions from 0 to 1 (already-acked IDs are skipped).
func (s *Spool) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE alert_spool SET synced = 1 WHERE id IN (%s) AND synced = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("spool: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	s.depth.Add(-n)
	return nil
}

// Depth returns the number of pending (unsynced) alerts. It reads from an
// atomic counter updated by Enqueue and Ack, so it never blocks.
func (s *Spool) Depth() int {
	return int(s.depth.Load())
}

// Close closes the underlying database connection. Callers must not use the
// spool after Close returns.
func (s *Spool) Close() error {
	return s.db.Close()
}
