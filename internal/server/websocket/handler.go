package websocket

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// wsGUID is the magic GUID from RFC 6455 used to derive the accept key.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0D21964E"

const writeTimeout = 10 * time.Second

// Handler upgrades HTTP requests to WebSocket connections and streams alert
// frames from a Broadcaster to the browser. It implements the minimal
// server side of RFC 6455 needed for a push-only alert feed: the dashboard
// never sends application data upstream, so inbound frames are read only to
// detect close.
type Handler struct {
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewHandler creates a Handler backed by b.
func NewHandler(b *Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broadcaster: b, logger: logger}
}

// ServeHTTP performs the WebSocket upgrade handshake, registers the
// connection with the broadcaster, and pumps alert frames until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket unsupported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		h.logger.Error("websocket handler: hijack failed", slog.Any("error", err))
		return
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	if _, err := buf.WriteString(resp); err != nil {
		conn.Close()
		return
	}
	if err := buf.Flush(); err != nil {
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	client := h.broadcaster.Register(clientID)
	h.logger.Info("websocket client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	var closed atomic.Bool
	closeConn := func() {
		if closed.CompareAndSwap(false, true) {
			h.broadcaster.Unregister(clientID)
			conn.Close()
			h.logger.Info("websocket client disconnected", slog.String("client_id", clientID))
		}
	}

	// Inbound frames are only read to notice the peer going away.
	go func() {
		defer func() {
			if recover() != nil {
				// reader raced conn.Close
			}
		}()
		readLoop(buf.Reader)
		closeConn()
	}()

	for raw := range client.Send() {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			break
		}
		if err := writeTextFrame(conn, raw); err != nil {
			break
		}
	}
	closeConn()
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}

func computeAcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// writeTextFrame writes a single unmasked server-to-client text frame.
func writeTextFrame(conn net.Conn, payload []byte) error {
	n := len(payload)
	var header []byte
	switch {
	case n < 126:
		header = []byte{0x81, byte(n)}
	case n < 65536:
		header = []byte{0x81, 126, byte(n >> 8), byte(n)}
	default:
		header = []byte{0x81, 127,
			byte(uint64(n) >> 56), byte(uint64(n) >> 48),
			byte(uint64(n) >> 40), byte(uint64(n) >> 32),
			byte(uint64(n) >> 24), byte(uint64(n) >> 16),
			byte(uint64(n) >> 8), byte(uint64(n)),
		}
	}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// readLoop consumes inbound frames until a close frame or a read error.
// Payloads are discarded; the feed is one-way.
func readLoop(r *bufio.Reader) {
	for {
		b0, err := r.ReadByte()
		if err != nil {
			return
		}
		b1, err := r.ReadByte()
		if err != nil {
			return
		}
		opcode := b0 & 0x0f
		masked := b1&0x80 != 0
		length := uint64(b1 & 0x7f)

		switch length {
		case 126:
			var ext [2]byte
			if _, err := readFull(r, ext[:]); err != nil {
				return
			}
			length = uint64(ext[0])<<8 | uint64(ext[1])
		case 127:
			var ext [8]byte
			if _, err := readFull(r, ext[:]); err != nil {
				return
			}
			length = 0
			for _, b := range ext {
				length = length<<8 | uint64(b)
			}
		}

		if masked {
			var mask [4]byte
			if _, err := readFull(r, mask[:]); err != nil {
				return
			}
		}

		if length > 0 {
			if _, err := r.Discard(int(length)); err != nil {
				return
			}
		}

		// 0x8 is the close opcode
		if opcode == 0x8 {
			return
		}
	}
}

func readFull(r *bufio.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
