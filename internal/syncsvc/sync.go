// Package syncsvc implements the background sync service that drains the
// local SQLite alert spool into PostgreSQL and publishes newly stored
// alerts to the WebSocket broadcaster. Delivery is at-least-once: a spool
// entry is acknowledged only after the database write succeeds, so a crash
// between write and ack results in a duplicate insert that the storage
// layer's ON CONFLICT clause discards.
package syncsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/spool"
)

// Spool is the interface to the local durable alert spool.
type Spool interface {
	// Dequeue returns up to limit pending entries, oldest first.
	Dequeue(ctx context.Context, limit int) ([]spool.Pending, error)
	// Ack marks the given entries as synced. It is idempotent.
	Ack(ctx context.Context, ids []int64) error
	// Depth returns the number of pending entries.
	Depth() int
}

// Sink receives drained alerts. *storage.Store satisfies it.
type Sink interface {
	BatchInsertAlert(ctx context.Context, a alert.Alert) error
	Flush(ctx context.Context) error
}

// Publisher receives each alert after it has been durably stored. The
// WebSocket broadcaster satisfies it.
type Publisher interface {
	Publish(a alert.Alert)
}

// Status is a point-in-time snapshot of the sync service, returned by the
// /api/v1/sync/status endpoint.
type Status struct {
	Running      bool      `json:"running"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	LastError    string    `json:"last_error,omitempty"`
	SyncedTotal  int64     `json:"synced_total"`
	PendingDepth int       `json:"pending_depth"`
}

// Service periodically drains the spool into the sink. It is safe for
// concurrent use.
type Service struct {
	spool     Spool
	sink      Sink
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	lastSyncAt  time.Time
	lastErr     error
	syncedTotal int64

	stopCh chan struct{}
	doneCh chan struct{}
	kickCh chan chan error
}

// New creates a sync Service. interval controls how often the spool is
// drained (default 30s when zero) and batchSize bounds each drain pass
// (default 100 when zero). publisher may be nil.
func New(sp Spool, sink Sink, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		spool:     sp,
		sink:      sink,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start launches the periodic drain loop. It returns an error if the
// service is already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("syncsvc: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.kickCh = make(chan chan error)
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.Info("sync service started",
		slog.Duration("interval", s.interval),
		slog.Int("batch_size", s.batchSize),
	)
	return nil
}

// Stop signals the drain loop to exit and waits for it. Safe to call
// multiple times and before Start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info("sync service stopped")
}

// ForceSync runs a drain pass immediately, outside the periodic schedule.
// When the loop is running the pass is executed by the loop goroutine so
// passes never overlap; otherwise it runs inline.
func (s *Service) ForceSync(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	kickCh := s.kickCh
	s.mu.Unlock()

	if !running {
		return s.drain(ctx)
	}

	reply := make(chan error, 1)
	select {
	case kickCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the service's current state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:      s.running,
		LastSyncAt:   s.lastSyncAt,
		SyncedTotal:  s.syncedTotal,
		PendingDepth: s.spool.Depth(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			// Final drain so a clean shutdown leaves nothing behind.
			if err := s.drain(ctx); err != nil {
				s.logger.Warn("final drain failed", slog.Any("error", err))
			}
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.drain(ctx); err != nil {
				s.logger.Warn("scheduled drain failed", slog.Any("error", err))
			}
		case reply := <-s.kickCh:
			reply <- s.drain(ctx)
		}
	}
}

// drain moves pending spool entries into the sink in batches until the
// spool is empty or an error occurs. Entries are acked only after the sink
// flush succeeds.
func (s *Service) drain(ctx context.Context) error {
	for {
		pending, err := s.spool.Dequeue(ctx, s.batchSize)
		if err != nil {
			s.record(err)
			return fmt.Errorf("syncsvc: dequeue: %w", err)
		}
		if len(pending) == 0 {
			s.record(nil)
			return nil
		}

		for _, p := range pending {
			if err := s.sink.BatchInsertAlert(ctx, p.Alert); err != nil {
				s.record(err)
				return fmt.Errorf("syncsvc: insert alert %s: %w", p.Alert.ID, err)
			}
		}
		if err := s.sink.Flush(ctx); err != nil {
			s.record(err)
			return fmt.Errorf("syncsvc: flush: %w", err)
		}

		ids := make([]int64, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		if err := s.spool.Ack(ctx, ids); err != nil {
			s.record(err)
			return fmt.Errorf("syncsvc: ack: %w", err)
		}

		s.mu.Lock()
		s.syncedTotal += int64(len(pending))
		s.mu.Unlock()

		if s.publisher != nil {
			for _, p := range pending {
				s.publisher.Publish(p.Alert)
			}
		}

		s.logger.Debug("drained spool batch", slog.Int("count", len(pending)))

		if len(pending) < s.batchSize {
			s.record(nil)
			return nil
		}
	}
}

func (s *Service) record(err error) {
	s.mu.Lock()
	s.lastSyncAt = time.Now()
	s.lastErr = err
	s.mu.Unlock()
}
