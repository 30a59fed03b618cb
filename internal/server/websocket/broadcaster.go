// Package websocket provides the in-process WebSocket broadcaster for the
// NetSentry dashboard server. The Broadcaster fans newly synced alerts out
// to all currently-connected browser clients without blocking the sync
// service goroutine.
//
// Design notes
//
//   - Each WebSocket client has a dedicated buffered channel of JSON-encoded
//     alert messages. A non-blocking send is used so that a slow or
//     disconnected client never applies back-pressure to the sync loop.
//   - Named clients are tracked in a sync.Map keyed by client ID to allow
//     concurrent reads without a global lock on the hot broadcast path.
//   - Anonymous subscribers (used by the integration layer and tests)
//     receive alert.Alert values directly via a second sync.Map.
//   - Closing a subscription or unregistering a client signals the
//     associated WebSocket pump goroutine to exit cleanly.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
	"github.com/netsentry/dashboard/internal/core/stats"
)

// AlertData is the structured alert payload sent to browser clients inside
// an AlertMessage envelope. It mirrors the fields the dashboard's live feed
// renders, including the derived risk score.
type AlertData struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Severity      string `json:"severity"`
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip"`
	DetectionType string `json:"detection_type"`
	Message       string `json:"message"`
	RiskScore     int    `json:"risk_score"`
}

// AlertMessage is the top-level JSON envelope pushed to browser WebSocket
// clients. Type is always "alert" for alert events.
type AlertMessage struct {
	Type string    `json:"type"`
	Data AlertData `json:"data"`
}

// Client represents a single connected WebSocket client. It is created by
// Broadcaster.Register and is valid until Broadcaster.Unregister is called.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64 // incremented when the send buffer is full
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns a receive-only channel on which JSON-encoded alert frames
// are delivered. The channel is closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans alert events out to all currently-connected WebSocket
// clients (via Register/Unregister/Broadcast) and to all anonymous channel
// subscribers (via Subscribe/Unsubscribe/Publish). It is safe for
// concurrent use.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	subs sync.Map // map[<-chan alert.Alert]chan alert.Alert

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster.
//
// bufSize is the per-client and per-subscriber channel buffer depth.
// Pass 0 to use the default of 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register creates a new Client with the given id, stores it in the
// broadcaster, and returns a pointer to it. The caller must call
// Unregister(id) to release resources when the client disconnects.
//
// If the broadcaster is already closed, Register returns a Client whose
// Send channel is already closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{
		id:   id,
		send: make(chan []byte, b.bufSize),
	}
	if b.closed.Load() {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client with id from the broadcaster and closes its
// Send channel so the associated write goroutine exits cleanly. Calling
// Unregister with an unknown id is a no-op.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		c := v.(*Client)
		close(c.send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered WebSocket clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// Broadcast marshals msg to JSON and delivers the payload to every
// registered client using a non-blocking send. When a client's buffer is
// full the message is dropped and the client's Dropped counter is
// incremented.
func (b *Broadcaster) Broadcast(msg AlertMessage) {
	if b.closed.Load() {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		select {
		case c.send <- raw:
			// delivered
		default:
			c.Dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping alert",
				slog.String("client_id", c.id),
			)
		}
		return true
	})
}

// Subscribe registers an anonymous subscriber and returns a channel on
// which alert.Alert values will be delivered. The channel is buffered; when
// the buffer is full a subsequent Publish call drops the alert for that
// subscriber rather than blocking.
//
// The channel is closed automatically when ctx is cancelled or when Close
// is called. Call Unsubscribe to release resources before the context is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan alert.Alert {
	ch := make(chan alert.Alert, b.bufSize)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	b.subs.Store(ch, ch)

	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.Unsubscribe(ch)
		}()
	}

	return ch
}

// Unsubscribe removes the subscription associated with ch and closes the
// channel so the consumer loop exits cleanly. It is safe to call
// Unsubscribe after the broadcaster has been closed.
func (b *Broadcaster) Unsubscribe(ch <-chan alert.Alert) {
	if actual, loaded := b.subs.LoadAndDelete(ch); loaded {
		close(actual.(chan alert.Alert))
	}
}

// Publish delivers a to every anonymous subscriber and also converts it to
// an AlertMessage that is broadcast to every registered WebSocket client.
//
// The non-blocking select/default pattern ensures that a slow subscriber or
// client never stalls the sync service goroutine.
func (b *Broadcaster) Publish(a alert.Alert) {
	if b.closed.Load() {
		return
	}

	b.subs.Range(func(_, value any) bool {
		ch := value.(chan alert.Alert)
		select {
		case ch <- a:
			// delivered
		default:
			b.logger.Warn("websocket broadcaster: subscriber buffer full, dropping alert",
				slog.String("alert_id", a.ID),
				slog.String("severity", string(a.Severity)),
			)
		}
		return true
	})

	b.Broadcast(AlertMessage{
		Type: "alert",
		Data: AlertData{
			ID:            a.ID,
			Timestamp:     a.Timestamp.UTC().Format(time.RFC3339),
			Severity:      string(a.Severity),
			SourceIP:      a.SourceIP,
			DestinationIP: a.DestinationIP,
			DetectionType: string(a.DetectionType),
			Message:       a.Message,
			RiskScore:     stats.AlertRiskScore(a),
		},
	})
}

// Close removes all subscriptions and registered clients, closes every
// channel, and releases internal resources. After Close returns, Publish
// and Broadcast are no-ops and Subscribe returns a closed channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		b.subs.Range(func(key, value any) bool {
			b.subs.Delete(key)
			close(value.(chan alert.Alert))
			return true
		})

		b.clients.Range(func(key, value any) bool {
			b.clients.Delete(key)
			c := value.(*Client)
			close(c.send)
			b.clientCnt.Add(-1)
			return true
		})
	})
}
