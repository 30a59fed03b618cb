// Package reputation implements the allowed / blocked / whitelisted state
// machine for source IP addresses and the auto-block policy evaluated over
// login-attempt history.
//
// Transitions are pure functions from a Record to its successor: they never
// touch the store themselves. The caller persists the returned record with a
// single atomic upsert, so a failed validation leaves no partial state
// behind. Concurrent transitions for the same IP race at the store and the
// last write wins; no version token is tracked here.
package reputation

import (
	"fmt"
	"time"
)

// BlockType distinguishes a temporary block with an expiry from a permanent
// one.
type BlockType string

const (
	BlockTemporary BlockType = "temporary"
	BlockPermanent BlockType = "permanent"
)

// State is the derived, mutually exclusive classification of an IP.
type State string

const (
	StateAllowed     State = "allowed"
	StateBlocked     State = "blocked"
	StateWhitelisted State = "whitelisted"
)

// Record is the reputation/control state of one IP address.
//
// Blocked and Whitelisted are mutually exclusive; every transition in this
// package maintains that invariant. BlockedUntil is nil for a permanent
// block (and meaningless outside the blocked state). AlertCount is derived
// from the alert table at read time, never stored incrementally.
//
// A missing record is equivalent to the zero value with State() == allowed:
// IPs are only materialized on their first block or whitelist action.
type Record struct {
	IP              string     `json:"ip"`
	Blocked         bool       `json:"isBlocked"`
	Whitelisted     bool       `json:"isWhitelisted"`
	RiskScore       int        `json:"riskScore"`
	BlockReason     string     `json:"blockReason,omitempty"`
	WhitelistReason string     `json:"whitelistReason,omitempty"`
	BlockedUntil    *time.Time `json:"blockedUntil,omitempty"`
	LastSeen        time.Time  `json:"lastSeen"`
	Country         string     `json:"country,omitempty"`
	City            string     `json:"city,omitempty"`
	ISP             string     `json:"isp,omitempty"`
	Organization    string     `json:"organization,omitempty"`
	AlertCount      int        `json:"alertCount"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// BlockExpired reports whether a temporary block has lapsed: BlockedUntil is
// set and lies in the past. Expiry is reconciled lazily on read; the record
// itself keeps its physical flags until an explicit unblock.
func (r Record) BlockExpired(now time.Time) bool {
	return r.Blocked && r.BlockedUntil != nil && r.BlockedUntil.Before(now)
}

// State derives the display classification at the given instant. A blocked
// record whose temporary block has expired reads as allowed even though the
// stored flags have not been reset.
func (r Record) State(now time.Time) State {
	switch {
	case r.Whitelisted:
		return StateWhitelisted
	case r.Blocked && !r.BlockExpired(now):
		return StateBlocked
	default:
		return StateAllowed
	}
}

// ValidationError reports a transition requested with missing or invalid
// required parameters. It is returned before any state change is computed,
// so the caller never persists a partial transition.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reputation: invalid %s: %s", e.Field, e.Detail)
}

// Block transitions r into the blocked state, overriding a whitelist if one
// is in effect.
//
// A temporary block sets BlockedUntil to now+duration; a permanent block
// clears it. The competing whitelist flag and reason are always cleared so
// the mutual-exclusion invariant holds. An empty reason is a
// ValidationError; duration <= 0 for a temporary block likewise.
func Block(r Record, reason string, bt BlockType, duration time.Duration, now time.Time) (Record, error) {
	if reason == "" {
		return Record{}, &ValidationError{Field: "reason", Detail: "block reason is required"}
	}
	switch bt {
	case BlockTemporary:
		if duration <= 0 {
			return Record{}, &ValidationError{Field: "duration", Detail: "temporary block requires a positive duration"}
		}
	case BlockPermanent:
		// duration ignored
	default:
		return Record{}, &ValidationError{Field: "blockType", Detail: fmt.Sprintf("unrecognized block type %q", bt)}
	}

	r.Blocked = true
	r.Whitelisted = false
	r.BlockReason = reason
	r.WhitelistReason = ""
	if bt == BlockTemporary {
		until := now.Add(duration)
		r.BlockedUntil = &until
	} else {
		r.BlockedUntil = nil
	}
	r.LastSeen = now
	r.UpdatedAt = now
	return r, nil
}

// Whitelist transitions r into the whitelisted state. A whitelist always
// wins over an existing block: the block flags, reason, and expiry are
// cleared entirely. An empty reason is a ValidationError.
func Whitelist(r Record, reason string, now time.Time) (Record, error) {
	if reason == "" {
		return Record{}, &ValidationError{Field: "reason", Detail: "whitelist reason is required"}
	}
	r.Whitelisted = true
	r.Blocked = false
	r.WhitelistReason = reason
	r.BlockReason = ""
	r.BlockedUntil = nil
	r.LastSeen = now
	r.UpdatedAt = now
	return r, nil
}

// Unblock resets a blocked record to the allowed state, clearing the block
// flags and reason. Unblocking a record that is not blocked, including a
// whitelisted one, is a no-op returning r unchanged; it is not a defined
// transition and not an error.
func Unblock(r Record, now time.Time) Record {
	if !r.Blocked {
		return r
	}
	r.Blocked = false
	r.BlockReason = ""
	r.BlockedUntil = nil
	r.UpdatedAt = now
	return r
}
