package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/reputation"
)

const (
	// DefaultBatchSize is the maximum number of alert rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending alerts even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// Store is the PostgreSQL-backed storage layer for the NetSentry dashboard.
//
// Alert ingestion is batched: callers enqueue individual alert.Alert values
// via BatchInsertAlert, which accumulates them in memory and flushes to the
// database either when the buffer reaches batchSize or when the background
// ticker fires, whichever comes first. All other operations (IP state,
// login attempts, acknowledgment) execute immediately.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []alert.Alert
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and starts
// the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]alert.Alert, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining buffered
// alerts, and closes the connection pool. It is safe to call Close more than
// once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

// flushLoop is the background goroutine that ticks on flushInterval and
// calls Flush. It exits when stopCh is closed.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertAlert enqueues a for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) BatchInsertAlert(ctx context.Context, a alert.Alert) error {
	s.mu.Lock()
	s.batch = append(s.batch, a)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current alert buffer and sends all rows to PostgreSQL in
// a single pgx.Batch round-trip. Rows that conflict on the primary key are
// silently ignored (idempotent replay support for the sync spool).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains
// a distinct snapshot of the buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]alert.Alert, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO security_alerts
			(id, timestamp, src_ip, dest_ip, src_port, dest_port, protocol,
			 detection_type, attack_type, severity, message, payload_snippet,
			 event_count, is_acknowledged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		a := &toInsert[i]
		created := a.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = created
		}
		b.Queue(query,
			a.ID, a.Timestamp,
			a.SourceIP, a.DestinationIP,
			nullableInt(a.SourcePort), nullableInt(a.DestinationPort),
			nullableStr(a.Protocol),
			string(a.DetectionType), nullableStr(a.AttackType),
			string(a.Severity),
			a.Message, nullableStr(a.PayloadSnippet),
			a.Events(), a.Acknowledged,
			created, updated,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec alert: %w", err)
		}
	}
	return nil
}

// QueryAlerts returns the most recent alerts matching q, ordered by
// timestamp descending. The result is a bounded snapshot of at most q.Limit
// rows (default DefaultQueryLimit, cap MaxQueryLimit), intended as input to
// the pure filter and aggregation functions.
func (s *Store) QueryAlerts(ctx context.Context, q AlertQuery) ([]alert.Alert, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	args := []any{limit}
	where := ""
	argIdx := 2

	addClause := func(clause string, value any) {
		if where == "" {
			where = "WHERE " + fmt.Sprintf(clause, argIdx)
		} else {
			where += " AND " + fmt.Sprintf(clause, argIdx)
		}
		args = append(args, value)
		argIdx++
	}

	if q.Since != nil {
		addClause("timestamp >= $%d", *q.Since)
	}
	if q.SourceIP != "" {
		addClause("src_ip = $%d", q.SourceIP)
	}
	if len(q.Severities) > 0 {
		sevs := make([]string, len(q.Severities))
		for i, s := range q.Severities {
			sevs[i] = string(s)
		}
		addClause("severity = ANY($%d)", sevs)
	}
	if len(q.DetectionTypes) > 0 {
		types := make([]string, len(q.DetectionTypes))
		for i, t := range q.DetectionTypes {
			types[i] = string(t)
		}
		addClause("detection_type = ANY($%d)", types)
	}

	sql := fmt.Sprintf(`
		SELECT id, timestamp, src_ip, dest_ip, src_port, dest_port, protocol,
		       detection_type, attack_type, severity, message, payload_snippet,
		       event_count, is_acknowledged, created_at, updated_at
		FROM   security_alerts
		%s
		ORDER  BY timestamp DESC, id
		LIMIT  $1`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// GetAlert returns the alert with the given ID, or an error wrapping
// pgx.ErrNoRows when not found.
func (s *Store) GetAlert(ctx context.Context, id string) (*alert.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, timestamp, src_ip, dest_ip, src_port, dest_port, protocol,
		       detection_type, attack_type, severity, message, payload_snippet,
		       event_count, is_acknowledged, created_at, updated_at
		FROM   security_alerts
		WHERE  id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

// AcknowledgeAlert marks the alert as acknowledged. The transition is
// one-directional and idempotent: acknowledging an already-acknowledged
// alert succeeds without further change. It returns an error wrapping
// pgx.ErrNoRows when the alert does not exist.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE security_alerts
		SET    is_acknowledged = TRUE, updated_at = NOW()
		WHERE  id = $1`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("acknowledge alert %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// AlertCountsBySource returns the number of alert rows per source IP across
// the whole table. IP records derive their alertCount from this at read
// time rather than maintaining a stored counter.
func (s *Store) AlertCountsBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT src_ip, COUNT(*)
		FROM   security_alerts
		WHERE  src_ip <> ''
		GROUP  BY src_ip`)
	if err != nil {
		return nil, fmt.Errorf("alert counts by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ip string
		var n int
		if err := rows.Scan(&ip, &n); err != nil {
			return nil, fmt.Errorf("scan alert count: %w", err)
		}
		counts[ip] = n
	}
	return counts, rows.Err()
}

// --- IP state operations ---

// UpsertIPState persists rec with a single atomic upsert keyed on the IP
// address. Both reputation flags and both reason columns are written on
// every upsert, so a transition into one state always clears the competing
// one in the same statement.
func (s *Store) UpsertIPState(ctx context.Context, rec reputation.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ip_management
			(ip_address, is_blocked, is_whitelisted, risk_score,
			 block_reason, whitelist_reason, blocked_until, last_seen,
			 country, city, isp, organization, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (ip_address) DO UPDATE SET
			is_blocked       = EXCLUDED.is_blocked,
			is_whitelisted   = EXCLUDED.is_whitelisted,
			risk_score       = EXCLUDED.risk_score,
			block_reason     = EXCLUDED.block_reason,
			whitelist_reason = EXCLUDED.whitelist_reason,
			blocked_until    = EXCLUDED.blocked_until,
			last_seen        = EXCLUDED.last_seen,
			updated_at       = NOW()`,
		rec.IP,
		rec.Blocked,
		rec.Whitelisted,
		rec.RiskScore,
		nullableStr(rec.BlockReason),
		nullableStr(rec.WhitelistReason),
		rec.BlockedUntil,
		rec.LastSeen,
		defaultUnknown(rec.Country),
		defaultUnknown(rec.City),
		defaultUnknown(rec.ISP),
		defaultUnknown(rec.Organization),
	)
	if err != nil {
		return fmt.Errorf("upsert ip state %s: %w", rec.IP, err)
	}
	return nil
}

// GetIPState returns the record for ip, or an error wrapping pgx.ErrNoRows
// when no record exists. Absence of a record means the IP is in the default
// allowed state; callers translate the no-rows error accordingly.
func (s *Store) GetIPState(ctx context.Context, ip string) (*reputation.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ip_address, is_blocked, is_whitelisted, risk_score,
		       block_reason, whitelist_reason, blocked_until, last_seen,
		       country, city, isp, organization, created_at, updated_at
		FROM   ip_management
		WHERE  ip_address = $1`, ip)
	rec, err := scanIPState(row)
	if err != nil {
		return nil, fmt.Errorf("get ip state %s: %w", ip, err)
	}
	return rec, nil
}

// ListIPStates returns all IP records ordered by risk score descending, then
// address.
func (s *Store) ListIPStates(ctx context.Context) ([]reputation.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip_address, is_blocked, is_whitelisted, risk_score,
		       block_reason, whitelist_reason, blocked_until, last_seen,
		       country, city, isp, organization, created_at, updated_at
		FROM   ip_management
		ORDER  BY risk_score DESC, ip_address`)
	if err != nil {
		return nil, fmt.Errorf("list ip states: %w", err)
	}
	defer rows.Close()

	var recs []reputation.Record
	for rows.Next() {
		rec, err := scanIPState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ip state: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// --- Login attempt operations ---

// InsertLoginAttempt persists one observed authentication attempt.
func (s *Store) InsertLoginAttempt(ctx context.Context, la reputation.LoginAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_attempts
			(id, ip, username, timestamp, success, attempt_count,
			 is_blocked, block_type, blocked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		la.ID,
		la.IP,
		la.Username,
		la.Timestamp,
		la.Success,
		la.AttemptCount,
		la.Blocked,
		nullableStr(string(la.BlockType)),
		la.BlockedUntil,
	)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// QueryLoginAttempts returns login attempts matching q, newest first, as a
// bounded snapshot with the same limit semantics as QueryAlerts.
func (s *Store) QueryLoginAttempts(ctx context.Context, q LoginAttemptQuery) ([]reputation.LoginAttempt, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	args := []any{limit}
	where := ""
	argIdx := 2
	if q.IP != "" {
		where = fmt.Sprintf("WHERE ip = $%d", argIdx)
		args = append(args, q.IP)
		argIdx++
	}
	if q.Since != nil {
		if where == "" {
			where = fmt.Sprintf("WHERE timestamp >= $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		}
		args = append(args, *q.Since)
	}

	sql := fmt.Sprintf(`
		SELECT id, ip, username, timestamp, success, attempt_count,
		       is_blocked, block_type, blocked_until
		FROM   login_attempts
		%s
		ORDER  BY timestamp DESC, id
		LIMIT  $1`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []reputation.LoginAttempt
	for rows.Next() {
		var la reputation.LoginAttempt
		var blockType *string
		err := rows.Scan(
			&la.ID, &la.IP, &la.Username, &la.Timestamp,
			&la.Success, &la.AttemptCount,
			&la.Blocked, &blockType, &la.BlockedUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("scan login attempt: %w", err)
		}
		if blockType != nil {
			la.BlockType = reputation.BlockType(*blockType)
		}
		attempts = append(attempts, la)
	}
	return attempts, rows.Err()
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanAlert reads one security_alerts row, normalizing nullable columns to
// the canonical alert shape.
func scanAlert(sc scanner) (*alert.Alert, error) {
	var a alert.Alert
	var srcPort, destPort *int
	var protocol, attackType, payload *string
	var detectionType, severity string
	err := sc.Scan(
		&a.ID, &a.Timestamp,
		&a.SourceIP, &a.DestinationIP,
		&srcPort, &destPort,
		&protocol,
		&detectionType, &attackType,
		&severity,
		&a.Message, &payload,
		&a.EventCount, &a.Acknowledged,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.DetectionType = alert.DetectionType(detectionType)
	a.Severity = alert.Severity(severity)
	if srcPort != nil {
		a.SourcePort = *srcPort
	}
	if destPort != nil {
		a.DestinationPort = *destPort
	}
	if protocol != nil {
		a.Protocol = *protocol
	}
	if attackType != nil {
		a.AttackType = *attackType
	}
	if payload != nil {
		a.PayloadSnippet = *payload
	}
	return &a, nil
}

// scanIPState reads one ip_management row.
func scanIPState(sc scanner) (*reputation.Record, error) {
	var rec reputation.Record
	var blockReason, whitelistReason *string
	var country, city, isp, org *string
	err := sc.Scan(
		&rec.IP, &rec.Blocked, &rec.Whitelisted, &rec.RiskScore,
		&blockReason, &whitelistReason, &rec.BlockedUntil, &rec.LastSeen,
		&country, &city, &isp, &org,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if blockReason != nil {
		rec.BlockReason = *blockReason
	}
	if whitelistReason != nil {
		rec.WhitelistReason = *whitelistReason
	}
	rec.Country = fromNullable(country)
	rec.City = fromNullable(city)
	rec.ISP = fromNullable(isp)
	rec.Organization = fromNullable(org)
	return &rec, nil
}

// nullableStr converts an empty string to a nil pointer, which pgx stores
// as SQL NULL. A non-empty string is returned as-is.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableInt converts a zero port to a nil pointer (SQL NULL); some
// protocols carry no port at all.
func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

// defaultUnknown substitutes the "Unknown" placeholder for absent
// enrichment metadata.
func defaultUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// fromNullable dereferences an enrichment column, defaulting to "Unknown".
func fromNullable(s *string) string {
	if s == nil || *s == "" {
		return "Unknown"
	}
	return *s
}
