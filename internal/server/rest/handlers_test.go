package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/core/stats"
	"github.com/netsentry/dashboard/internal/reputation"
	"github.com/netsentry/dashboard/internal/server/storage"
	"github.com/netsentry/dashboard/internal/syncsvc"
)

// ---------------------------------------------------------------------------
// test doubles
// ---------------------------------------------------------------------------

type mockStore struct {
	alerts    []alert.Alert
	queryErr  error
	lastQuery storage.AlertQuery

	acked  []string
	ackErr error

	ipStates map[string]reputation.Record
	upserts  []reputation.Record

	counts   map[string]int
	attempts []reputation.LoginAttempt
}

func (m *mockStore) QueryAlerts(_ context.Context, q storage.AlertQuery) ([]alert.Alert, error) {
	m.lastQuery = q
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []alert.Alert
	for _, a := range m.alerts {
		if q.SourceIP != "" && a.SourceIP != q.SourceIP {
			continue
		}
		if q.Since != nil && a.Timestamp.Before(*q.Since) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockStore) GetAlert(_ context.Context, id string) (*alert.Alert, error) {
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			return &m.alerts[i], nil
		}
	}
	return nil, fmt.Errorf("storage: get alert %s: %w", id, pgx.ErrNoRows)
}

func (m *mockStore) AcknowledgeAlert(_ context.Context, id string) error {
	if m.ackErr != nil {
		return m.ackErr
	}
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			m.acked = append(m.acked, id)
			return nil
		}
	}
	return fmt.Errorf("storage: acknowledge alert %s: %w", id, pgx.ErrNoRows)
}

func (m *mockStore) AlertCountsBySource(_ context.Context) (map[string]int, error) {
	if m.counts == nil {
		return map[string]int{}, nil
	}
	return m.counts, nil
}

func (m *mockStore) UpsertIPState(_ context.Context, rec reputation.Record) error {
	if m.ipStates == nil {
		m.ipStates = make(map[string]reputation.Record)
	}
	m.ipStates[rec.IP] = rec
	m.upserts = append(m.upserts, rec)
	return nil
}

func (m *mockStore) GetIPState(_ context.Context, ip string) (*reputation.Record, error) {
	if rec, ok := m.ipStates[ip]; ok {
		return &rec, nil
	}
	return nil, fmt.Errorf("storage: get ip state %s: %w", ip, pgx.ErrNoRows)
}

func (m *mockStore) ListIPStates(_ context.Context) ([]reputation.Record, error) {
	var out []reputation.Record
	for _, rec := range m.ipStates {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) QueryLoginAttempts(_ context.Context, q storage.LoginAttemptQuery) ([]reputation.LoginAttempt, error) {
	var out []reputation.LoginAttempt
	for _, a := range m.attempts {
		if q.IP != "" && a.IP != q.IP {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type mockSpooler struct {
	enqueued []alert.Alert
	err      error
}

func (m *mockSpooler) Enqueue(_ context.Context, a alert.Alert) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, a)
	return nil
}

type mockSyncer struct {
	running  bool
	startErr error
	forceErr error
	forced   int
}

func (m *mockSyncer) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}
func (m *mockSyncer) Stop() { m.running = false }

func (m *mockSyncer) ForceSync(context.Context) error {
	m.forced++
	return m.forceErr
}
func (m *mockSyncer) Status() syncsvc.Status { return syncsvc.Status{Running: m.running} }

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fixtureAlerts() []alert.Alert {
	return []alert.Alert{
		{
			ID:            "a-1",
			Timestamp:     testNow.Add(-time.Hour),
			SourceIP:      "203.0.113.9",
			DestinationIP: "10.0.0.5",
			DetectionType: alert.DetectionSSHBruteforce,
			Severity:      alert.SeverityCritical,
			Message:       "SSH brute force from 203.0.113.9",
			EventCount:    3,
		},
		{
			ID:            "a-2",
			Timestamp:     testNow.Add(-2 * time.Hour),
			SourceIP:      "198.51.100.7",
			DestinationIP: "10.0.0.5",
			DetectionType: alert.DetectionPortScan,
			Severity:      alert.SeverityMedium,
			Message:       "port scan sweep",
			Acknowledged:  true,
		},
		{
			ID:            "a-3",
			Timestamp:     testNow.Add(-40 * 24 * time.Hour),
			SourceIP:      "192.0.2.44",
			DestinationIP: "10.0.0.9",
			DetectionType: alert.DetectionFTPAuth,
			Severity:      alert.SeverityHigh,
			Message:       "FTP auth failures",
		},
	}
}

func newTestServer(store *mockStore, sp Spooler, sync Syncer) (*Server, http.Handler) {
	srv := NewServer(store, sp, sync, nil, reputation.AutoBlockPolicy{}, nil)
	srv.now = func() time.Time { return testNow }
	return srv, NewRouter(srv, nil, nil)
}

func doRequest(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeAlerts(t *testing.T, w *httptest.ResponseRecorder) []alert.Alert {
	t.Helper()
	var out []alert.Alert
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode alerts: %v (body %s)", err, w.Body.String())
	}
	return out
}

// ---------------------------------------------------------------------------
// alerts
// ---------------------------------------------------------------------------

func TestHandleGetAlerts_DefaultWindowExcludesOldRows(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	got := decodeAlerts(t, w)
	// a-2 is acknowledged and a-3 is 40 days old; only a-1 remains.
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Errorf("alerts: got %+v, want just a-1", got)
	}
	if store.lastQuery.Since == nil {
		t.Fatal("default 24-hour window must push a lower bound to the store")
	}
	if want := testNow.Add(-24 * time.Hour); !store.lastQuery.Since.Equal(want) {
		t.Errorf("since: got %v, want %v", store.lastQuery.Since, want)
	}
}

func TestHandleGetAlerts_ThirtyDayRangeHasNoLowerBound(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts?time_range=30days", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if store.lastQuery.Since != nil {
		t.Error("30days must query without a lower time bound")
	}
	got := decodeAlerts(t, w)
	// The 40-day-old a-3 now survives: only acknowledged a-2 is filtered.
	if len(got) != 2 {
		t.Errorf("alerts: got %d rows, want 2", len(got))
	}
}

func TestHandleGetAlerts_FullSeveritySetKeepsEverySeverity(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet,
		"/api/v1/alerts?time_range=30days&severity=critical,high,medium,low,info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeAlerts(t, w); len(got) != 2 {
		t.Errorf("selecting every severity must behave like no filter, got %d rows", len(got))
	}
}

func TestHandleGetAlerts_NoSeverityParamKeepsMixedSeverities(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts?time_range=30days", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	got := decodeAlerts(t, w)
	// Omitting the severity parameter must not narrow the result at all:
	// the critical a-1 and the high a-3 both survive.
	seen := map[alert.Severity]bool{}
	for _, a := range got {
		seen[a.Severity] = true
	}
	if len(got) != 2 || !seen[alert.SeverityCritical] || !seen[alert.SeverityHigh] {
		t.Errorf("got %d rows with severities %v, want both critical and high", len(got), seen)
	}
}

func TestHandleGetAlerts_InvalidParams(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	tests := []struct {
		name   string
		target string
	}{
		{"bad time range", "/api/v1/alerts?time_range=90days"},
		{"bad severity", "/api/v1/alerts?severity=catastrophic"},
		{"bad acknowledged", "/api/v1/alerts?acknowledged=maybe"},
		{"bad limit", "/api/v1/alerts?limit=-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.target, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleGetAlerts_AcknowledgedPartition(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts?time_range=30days&acknowledged=true", "")
	got := decodeAlerts(t, w)
	if len(got) != 1 || got[0].ID != "a-2" {
		t.Errorf("acknowledged=true must return only acknowledged rows, got %+v", got)
	}
}

func TestHandleGetAlerts_SearchText(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts?time_range=30days&search=ftp", "")
	got := decodeAlerts(t, w)
	if len(got) != 1 || got[0].ID != "a-3" {
		t.Errorf("search=ftp: got %+v, want just a-3", got)
	}
}

func TestHandleGetAlerts_EmptyResultIsJSONArray(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts", "")
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("empty result body: got %q, want []", body)
	}
}

func TestHandleGetAlert_NotFound(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/alerts/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/alerts/a-1", "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
}

func TestHandleAcknowledgeAlert(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/alerts/a-1/acknowledge", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != "a-1" || resp["is_acknowledged"] != true {
		t.Errorf("response: %+v", resp)
	}
	if len(store.acked) != 1 || store.acked[0] != "a-1" {
		t.Errorf("store acks: %v", store.acked)
	}

	w = doRequest(t, router, http.MethodPatch, "/api/v1/alerts/missing/acknowledge", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// analytics
// ---------------------------------------------------------------------------

func TestHandleDashboardStats(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/dashboard/stats?time_range=30days", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var got dashboardStats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalAlerts != 3 || got.Critical != 1 || got.High != 1 || got.Medium != 1 {
		t.Errorf("totals: %+v", got)
	}
	if got.UniqueAttackers != 3 {
		t.Errorf("unique attackers: got %d, want 3", got.UniqueAttackers)
	}
	if got.TimeRange != "30days" {
		t.Errorf("time_range: got %q", got.TimeRange)
	}
	if got.RiskLevel == "" {
		t.Error("risk_level must be populated")
	}
}

func TestHandleDashboardStats_BadTimeRange(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/dashboard/stats?time_range=forever", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleTimeline_ZeroFilledBuckets(t *testing.T) {
	store := &mockStore{alerts: fixtureAlerts()}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analytics/timeline?hours=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var buckets []struct {
		Hour  time.Time `json:"time"`
		Count int       `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("buckets: got %d, want 3", len(buckets))
	}
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	// a-1 (1h ago) and a-2 (2h ago) fall inside the 3-hour window.
	if total != 2 {
		t.Errorf("total bucketed alerts: got %d, want 2", total)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/analytics/timeline?hours=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("hours=0: got %d, want 400", w.Code)
	}
}

func TestHandleProtocols_GroupsByTransport(t *testing.T) {
	rows := fixtureAlerts()
	rows[0].Protocol = "tcp"
	rows[1].Protocol = "tcp"
	rows[2].Protocol = "udp"
	store := &mockStore{alerts: rows}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analytics/protocols?time_range=30days", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var dist []stats.DistributionEntry
	if err := json.NewDecoder(w.Body).Decode(&dist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dist) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(dist), dist)
	}
	if dist[0].Type != "tcp" || dist[0].Count != 2 {
		t.Errorf("unexpected leader: %+v", dist[0])
	}
	if dist[1].Type != "udp" || dist[1].Count != 1 {
		t.Errorf("unexpected runner-up: %+v", dist[1])
	}
}

func TestHandleTopIPs_EmptySnapshotIsJSONArray(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analytics/top-ips", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body: got %q, want []", body)
	}
}

// ---------------------------------------------------------------------------
// ip management
// ---------------------------------------------------------------------------

func TestHandleCheckIP_UnknownIPIsAllowed(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/ip-management/check/203.0.113.9", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var got ipView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "allowed" || got.IP != "203.0.113.9" {
		t.Errorf("view: %+v", got)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/ip-management/check/not-an-ip", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid ip: got %d, want 400", w.Code)
	}
}

func TestHandleCheckIP_ExpiredBlockReadsAllowed(t *testing.T) {
	until := testNow.Add(-time.Hour)
	store := &mockStore{ipStates: map[string]reputation.Record{
		"203.0.113.9": {IP: "203.0.113.9", Blocked: true, BlockReason: "brute force", BlockedUntil: &until},
	}}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/ip-management/check/203.0.113.9", "")
	var got ipView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "allowed" {
		t.Errorf("expired temporary block must read allowed, got %q", got.State)
	}
	// Lazy reconciliation: the stored flags are untouched.
	if !store.ipStates["203.0.113.9"].Blocked {
		t.Error("stored record must keep its physical flags")
	}
}

func TestHandleBlockIP(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/ip-management/block",
		`{"ip":"203.0.113.9","reason":"ssh brute force"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var got ipView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "blocked" || !got.Blocked {
		t.Errorf("view: %+v", got)
	}
	// Default block type is temporary with the policy's 24h duration.
	if got.BlockedUntil == nil || !got.BlockedUntil.Equal(testNow.Add(24*time.Hour)) {
		t.Errorf("blocked_until: got %v, want %v", got.BlockedUntil, testNow.Add(24*time.Hour))
	}
	if len(store.upserts) != 1 {
		t.Errorf("upserts: got %d, want 1", len(store.upserts))
	}
}

func TestHandleBlockIP_MissingReason(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/ip-management/block", `{"ip":"203.0.113.9"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
	if len(store.upserts) != 0 {
		t.Error("a rejected transition must not persist anything")
	}
}

func TestHandleWhitelistIP_OverridesBlock(t *testing.T) {
	until := testNow.Add(time.Hour)
	store := &mockStore{ipStates: map[string]reputation.Record{
		"203.0.113.9": {IP: "203.0.113.9", Blocked: true, BlockReason: "noise", BlockedUntil: &until},
	}}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/ip-management/whitelist",
		`{"ip":"203.0.113.9","reason":"office scanner"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var got ipView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "whitelisted" || got.Blocked || got.BlockedUntil != nil {
		t.Errorf("whitelist must clear the block entirely: %+v", got)
	}
}

func TestHandleUnblockIP_NoOpWhenNotBlocked(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/ip-management/unblock", `{"ip":"203.0.113.9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if len(store.upserts) != 0 {
		t.Error("unblocking a non-blocked ip must not write anything")
	}
}

func TestHandleIPStats(t *testing.T) {
	until := testNow.Add(-time.Hour)
	store := &mockStore{ipStates: map[string]reputation.Record{
		"1.1.1.1": {IP: "1.1.1.1", Blocked: true},
		"2.2.2.2": {IP: "2.2.2.2", Whitelisted: true},
		"3.3.3.3": {IP: "3.3.3.3", Blocked: true, BlockedUntil: &until},
	}}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/ip-management/stats", "")
	var got ipManagementStats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalTracked != 3 || got.Blocked != 1 || got.Whitelisted != 1 || got.ExpiredBlocks != 1 {
		t.Errorf("stats: %+v", got)
	}
	if got.AutoBlock.FailureThreshold != 3 || got.AutoBlock.PermanentThreshold != 5 || got.AutoBlock.BlockDurationHours != 24 {
		t.Errorf("auto block defaults: %+v", got.AutoBlock)
	}
}

func TestHandleLoginAttempts(t *testing.T) {
	store := &mockStore{attempts: []reputation.LoginAttempt{
		{ID: "l-1", IP: "203.0.113.9", Username: "root", Timestamp: testNow.Add(-time.Minute)},
		{ID: "l-2", IP: "203.0.113.9", Username: "root", Timestamp: testNow.Add(-2 * time.Minute)},
		{ID: "l-3", IP: "203.0.113.9", Username: "root", Timestamp: testNow.Add(-3 * time.Minute)},
	}}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/ip-management/login-attempts?ip=203.0.113.9", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp struct {
		Attempts  []reputation.LoginAttempt      `json:"attempts"`
		Decisions map[string]reputation.Decision `json:"decisions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Attempts) != 3 {
		t.Errorf("attempts: got %d, want 3", len(resp.Attempts))
	}
	d, ok := resp.Decisions["203.0.113.9"]
	if !ok {
		t.Fatal("missing decision for the queried ip")
	}
	// Three consecutive failures trip the default temporary threshold.
	if !d.Eligible || d.Type != reputation.BlockTemporary {
		t.Errorf("decision: %+v", d)
	}
}

// ---------------------------------------------------------------------------
// ingest and sync
// ---------------------------------------------------------------------------

const eveLine = `{"timestamp":"2026-05-01T11:59:00.000000+0000","event_type":"alert","src_ip":"203.0.113.9","src_port":55011,"dest_ip":"10.0.0.5","dest_port":22,"proto":"TCP","alert":{"signature":"SSH brute force attempt","severity":2}}`

func TestHandleParseLog(t *testing.T) {
	store := &mockStore{}
	sp := &mockSpooler{}
	_, router := newTestServer(store, sp, nil)

	body := eveLine + "\n" + `{"event_type":"flow"}` + "\n" + "not json\n"
	w := doRequest(t, router, http.MethodPost, "/api/v1/suricata/parse-log", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["parsed"] != 1 || resp["spooled"] != 1 || resp["skipped"] != 2 {
		t.Errorf("counts: %+v", resp)
	}
	if len(sp.enqueued) != 1 || sp.enqueued[0].SourceIP != "203.0.113.9" {
		t.Errorf("spooled alerts: %+v", sp.enqueued)
	}
}

func TestHandleParseLog_NoSpoolConfigured(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/suricata/parse-log", eveLine)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
}

func TestSyncEndpoints(t *testing.T) {
	store := &mockStore{}
	sync := &mockSyncer{}
	_, router := newTestServer(store, nil, sync)

	w := doRequest(t, router, http.MethodGet, "/api/v1/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint: got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/sync/start", "")
	if w.Code != http.StatusOK || !sync.running {
		t.Errorf("start: code %d, running %v", w.Code, sync.running)
	}

	sync.startErr = fmt.Errorf("syncsvc: already running")
	w = doRequest(t, router, http.MethodPost, "/api/v1/sync/start", "")
	if w.Code != http.StatusConflict {
		t.Errorf("double start: got %d, want 409", w.Code)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/sync/force", "")
	if w.Code != http.StatusOK || sync.forced != 1 {
		t.Errorf("force: code %d, forced %d", w.Code, sync.forced)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/sync/stop", "")
	if w.Code != http.StatusOK || sync.running {
		t.Errorf("stop: code %d, running %v", w.Code, sync.running)
	}
}

func TestSyncEndpoints_NotConfigured(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	for _, target := range []string{"/api/v1/sync/start", "/api/v1/sync/stop", "/api/v1/sync/force"} {
		w := doRequest(t, router, http.MethodPost, target, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d, want 503", target, w.Code)
		}
	}
}

func TestHandleHealthz_NoAuthRequired(t *testing.T) {
	store := &mockStore{}
	_, router := newTestServer(store, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"ok"`)) {
		t.Errorf("body: %s", w.Body.String())
	}
}
