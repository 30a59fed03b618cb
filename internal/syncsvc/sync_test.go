package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/spool"
)

// fakeSpool is an in-memory Spool double.
type fakeSpool struct {
	mu      sync.Mutex
	entries []spool.Pending
	acked   map[int64]bool
	deqErr  error
	ackErr  error
}

func newFakeSpool(n int) *fakeSpool {
	fs := &fakeSpool{acked: make(map[int64]bool)}
	for i := 0; i < n; i++ {
		fs.entries = append(fs.entries, spool.Pending{
			ID:    int64(i + 1),
			Alert: alert.Alert{ID: fmt.Sprintf("a-%d", i+1), SourceIP: "1.2.3.4"},
		})
	}
	return fs
}

func (f *fakeSpool) Dequeue(_ context.Context, limit int) ([]spool.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deqErr != nil {
		return nil, f.deqErr
	}
	var out []spool.Pending
	for _, e := range f.entries {
		if f.acked[e.ID] {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSpool) Ack(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	for _, id := range ids {
		f.acked[id] = true
	}
	return nil
}

func (f *fakeSpool) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if !f.acked[e.ID] {
			n++
		}
	}
	return n
}

// fakeSink records inserted alerts and flushes.
type fakeSink struct {
	mu        sync.Mutex
	inserted  []alert.Alert
	flushes   int
	insertErr error
	flushErr  error
}

func (f *fakeSink) BatchInsertAlert(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, a)
	return nil
}

func (f *fakeSink) Flush(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushes++
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []alert.Alert
}

func (f *fakePublisher) Publish(a alert.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, a)
}

func TestForceSync_DrainsSpoolInline(t *testing.T) {
	fs := newFakeSpool(3)
	sink := &fakeSink{}
	pub := &fakePublisher{}
	svc := New(fs, sink, pub, time.Hour, 2, nil)

	if err := svc.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}

	if fs.Depth() != 0 {
		t.Errorf("spool depth after drain: got %d, want 0", fs.Depth())
	}
	if len(sink.inserted) != 3 {
		t.Errorf("inserted: got %d, want 3", len(sink.inserted))
	}
	if len(pub.published) != 3 {
		t.Errorf("published: got %d, want 3", len(pub.published))
	}
	// Batch size 2 forces two passes, each with its own flush.
	if sink.flushes != 2 {
		t.Errorf("flushes: got %d, want 2", sink.flushes)
	}

	st := svc.Status()
	if st.SyncedTotal != 3 || st.PendingDepth != 0 {
		t.Errorf("status: %+v", st)
	}
}

func TestForceSync_InsertErrorLeavesSpoolIntact(t *testing.T) {
	fs := newFakeSpool(2)
	sink := &fakeSink{insertErr: errors.New("pg down")}
	svc := New(fs, sink, nil, time.Hour, 10, nil)

	if err := svc.ForceSync(context.Background()); err == nil {
		t.Fatal("expected error when sink insert fails")
	}
	if fs.Depth() != 2 {
		t.Errorf("failed drain must not ack: depth %d, want 2", fs.Depth())
	}
	st := svc.Status()
	if st.LastError == "" {
		t.Error("status must surface the last error")
	}
}

func TestForceSync_AcksOnlyAfterFlush(t *testing.T) {
	fs := newFakeSpool(1)
	sink := &fakeSink{flushErr: errors.New("flush failed")}
	svc := New(fs, sink, nil, time.Hour, 10, nil)

	if err := svc.ForceSync(context.Background()); err == nil {
		t.Fatal("expected flush error to propagate")
	}
	if fs.Depth() != 1 {
		t.Errorf("entries must stay pending when flush fails, depth %d", fs.Depth())
	}
}

func TestStartStop(t *testing.T) {
	fs := newFakeSpool(1)
	sink := &fakeSink{}
	svc := New(fs, sink, nil, time.Hour, 10, nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start must fail while running")
	}
	if !svc.Status().Running {
		t.Error("status must report running")
	}

	// ForceSync while running goes through the loop goroutine.
	if err := svc.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync while running: %v", err)
	}
	if fs.Depth() != 0 {
		t.Errorf("depth after forced sync: got %d, want 0", fs.Depth())
	}

	svc.Stop()
	if svc.Status().Running {
		t.Error("status must report stopped")
	}
	// Stop again is a no-op.
	svc.Stop()
}

func TestStop_RunsFinalDrain(t *testing.T) {
	fs := newFakeSpool(2)
	sink := &fakeSink{}
	svc := New(fs, sink, nil, time.Hour, 10, nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Stop()

	if fs.Depth() != 0 {
		t.Errorf("clean shutdown must drain the spool, depth %d", fs.Depth())
	}
}
