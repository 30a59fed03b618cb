package spool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(id string) alert.Alert {
	return alert.Alert{
		ID:            id,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceIP:      "203.0.113.7",
		DestinationIP: "10.0.0.5",
		SourcePort:    51234,
		DestinationPort: 22,
		Protocol:      "TCP",
		DetectionType: alert.DetectionSSHBruteforce,
		Severity:      alert.SeverityCritical,
		Message:       "ET SCAN Potential SSH Scan",
		EventCount:    3,
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	want := testAlert("a-1")
	if err := s.Enqueue(ctx, want); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := s.Depth(); got != 1 {
		t.Fatalf("Depth: got %d, want 1", got)
	}

	pending, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}

	got := pending[0].Alert
	if got.ID != want.ID || got.SourceIP != want.SourceIP || got.DestinationPort != want.DestinationPort {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.Severity != alert.SeverityCritical || got.DetectionType != alert.DetectionSSHBruteforce {
		t.Errorf("enum fields mangled: %+v", got)
	}
}

func TestDequeue_OldestFirstAndLimited(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a := testAlert(string(rune('a' + i)))
		if err := s.Enqueue(ctx, a); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := s.Dequeue(ctx, 3)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	if pending[0].Alert.ID != "a" || pending[2].Alert.ID != "c" {
		t.Errorf("dequeue order wrong: %v then %v", pending[0].Alert.ID, pending[2].Alert.ID)
	}
}

func TestDequeue_DoesNotConsume(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, testAlert("a-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Without an Ack the same entry is returned again: at-least-once.
	for i := 0; i < 2; i++ {
		pending, err := s.Dequeue(ctx, 10)
		if err != nil {
			t.Fatalf("Dequeue #%d: %v", i, err)
		}
		if len(pending) != 1 {
			t.Fatalf("Dequeue #%d: got %d, want 1", i, len(pending))
		}
	}
}

func TestAck_RemovesFromPending(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, testAlert("a-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := s.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := s.Depth(); got != 0 {
		t.Errorf("Depth after ack: got %d, want 0", got)
	}

	again, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("acked entry still pending: %v", again)
	}
}

func TestAck_Idempotent(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, testAlert("a-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, _ := s.Dequeue(ctx, 10)
	ids := []int64{pending[0].ID}

	if err := s.Ack(ctx, ids); err != nil {
		t.Fatalf("first Ack: %v", err)
	}
	if err := s.Ack(ctx, ids); err != nil {
		t.Fatalf("second Ack must be a no-op, got %v", err)
	}
	if got := s.Depth(); got != 0 {
		t.Errorf("Depth: got %d, want 0 (double ack must not go negative)", got)
	}
}

func TestAck_EmptyIDs(t *testing.T) {
	s := newTestSpool(t)
	if err := s.Ack(context.Background(), nil); err != nil {
		t.Fatalf("Ack with no ids must be a no-op, got %v", err)
	}
}

func TestDepth_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Enqueue(ctx, testAlert("a-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, testAlert("a-2")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Depth(); got != 2 {
		t.Errorf("Depth after reopen: got %d, want 2", got)
	}
}
