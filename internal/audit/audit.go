// Package audit records every operator action that changes an IP's
// reputation state (block, whitelist, unblock) and every alert
// acknowledgment in a tamper-evident, append-only log whose entries are
// SHA-256 hash-chained.
//
// # Hash chain
//
// The event_hash for entry N is computed as:
//
//	SHA-256( JSON({seq, ts, action, prev_hash}) )
//
// where the JSON encoding of those four fields is treated as a canonical
// byte sequence. The genesis entry (seq=1) uses a prev_hash of 64 ASCII
// zero characters ("000...0"). Rewriting or deleting any historical line
// breaks the chain for every subsequent entry, which Verify detects.
//
// # Append semantics
//
// Each entry is encoded as a single JSON line terminated by '\n'. The
// underlying file is opened with os.O_APPEND | os.O_CREATE | os.O_WRONLY so
// that every write is appended atomically by the OS.
//
// # Thread safety
//
// Trail is safe for concurrent use. A mutex serialises all Append calls to
// maintain a consistent sequence number and prev_hash.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GenesisHash is the all-zero SHA-256 hex digest used as the prev_hash of
// the very first (genesis) entry in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Audited action kinds.
const (
	ActionBlock       = "block"
	ActionWhitelist   = "whitelist"
	ActionUnblock     = "unblock"
	ActionAcknowledge = "acknowledge"
)

// Action is the structured payload of one audited operator action.
//
// Kind is one of the Action* constants above. Target
// is the IP address or alert ID the action applied to. Actor identifies the
// operator (JWT subject) or "system" for auto-block decisions. Reason is
// the operator-supplied justification where the action requires one.
type Action struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// entry is the wire format for one audit log line.
type entry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	PrevHash  string    `json:"prev_hash"`
	EventHash string    `json:"event_hash"`
}

// entryContent is the subset of entry fields that are hashed to produce
// EventHash. It deliberately excludes EventHash itself.
type entryContent struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	PrevHash  string    `json:"prev_hash"`
}

// Entry is the public representation of one audit log entry returned by
// Append and Verify.
type Entry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	PrevHash  string    `json:"prev_hash"`
	EventHash string    `json:"event_hash"`
}

// Trail is a tamper-evident, append-only audit log writer. Create one with
// Open; do not copy after first use.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	seq      int64
}

// Open opens (or creates) the log file at path and prepares the Trail for
// appending. If the file already contains entries, Open reads them all to
// restore the current sequence number and prev_hash so that the chain
// continues correctly. Returns an error if the file cannot be opened, any
// existing entry is malformed, or the existing chain is broken.
func Open(path string) (*Trail, error) {
	prevHash := GenesisHash
	seq := int64(0)

	if _, err := os.Stat(path); err == nil {
		entries, err := Verify(path)
		if err != nil {
			return nil, err
		}
		if n := len(entries); n > 0 {
			prevHash = entries[n-1].EventHash
			seq = entries[n-1].Seq
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open for appending %q: %w", path, err)
	}

	return &Trail{
		file:     f,
		prevHash: prevHash,
		seq:      seq,
	}, nil
}

// Append writes a new tamper-evident entry recording action. It is safe to
// call from multiple goroutines.
//
// The returned Entry contains the assigned sequence number, timestamp,
// computed EventHash, and PrevHash so callers can log chain metadata
// without re-reading the file.
func (t *Trail) Append(action Action) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq + 1
	ts := time.Now().UTC()
	prevHash := t.prevHash

	eventHash := hashContent(entryContent{
		Seq:       seq,
		Timestamp: ts,
		Action:    action,
		PrevHash:  prevHash,
	})

	line, err := json.Marshal(entry{
		Seq:       seq,
		Timestamp: ts,
		Action:    action,
		PrevHash:  prevHash,
		EventHash: eventHash,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := t.file.Write(line); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}

	t.seq = seq
	t.prevHash = eventHash

	return Entry{
		Seq:       seq,
		Timestamp: ts,
		Action:    action,
		PrevHash:  prevHash,
		EventHash: eventHash,
	}, nil
}

// Close flushes any OS-level buffers and closes the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Sync(); err != nil {
		_ = t.file.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return t.file.Close()
}

// Verify reads the log file at path and checks the full hash chain. It
// returns the ordered slice of entries on success, or the first chain error
// encountered. An empty file is valid and returns an empty slice.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: verify open %q: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	prevHash := GenesisHash
	scanner := bufio.NewScanner(f)
	// Allow lines up to 10 MiB (large detail payloads).
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: malformed entry after seq %d: %w", len(entries), err)
		}
		computed := hashContent(entryContent{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Action:    e.Action,
			PrevHash:  e.PrevHash,
		})
		if computed != e.EventHash {
			return nil, fmt.Errorf("audit: hash mismatch at seq %d: stored %q, computed %q",
				e.Seq, e.EventHash, computed)
		}
		if e.PrevHash != prevHash {
			return nil, fmt.Errorf("audit: chain break at seq %d: expected prev_hash %q, got %q",
				e.Seq, prevHash, e.PrevHash)
		}
		prevHash = e.EventHash
		entries = append(entries, Entry{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Action:    e.Action,
			PrevHash:  e.PrevHash,
			EventHash: e.EventHash,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scanning log %q: %w", path, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// hashContent computes the SHA-256 hex digest of the canonical JSON
// encoding of c.
func hashContent(c entryContent) string {
	data, err := json.Marshal(c)
	if err != nil {
		// entryContent contains only marshalable fields; a failure here is
		// a programming error.
		panic(fmt.Sprintf("audit: marshal entry content: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
