package reputation

import (
	"sort"
	"time"
)

// LoginAttempt is one observed authentication attempt against a protected
// service. Attempts are the evidentiary basis for auto-block decisions; the
// decision itself is computed by AutoBlockPolicy, never stored on the
// attempt.
type LoginAttempt struct {
	ID           string     `json:"id"`
	IP           string     `json:"ip"`
	Username     string     `json:"username"`
	Timestamp    time.Time  `json:"timestamp"`
	Success      bool       `json:"success"`
	AttemptCount int        `json:"attemptCount"`
	Blocked      bool       `json:"isBlocked"`
	BlockType    BlockType  `json:"blockType,omitempty"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

// AutoBlockPolicy holds the configurable thresholds for automatic blocking.
// FailureThreshold consecutive failures make an IP eligible for a temporary
// block; PermanentThreshold failures escalate to a permanent one.
type AutoBlockPolicy struct {
	FailureThreshold   int
	PermanentThreshold int
	BlockDuration      time.Duration
}

// DefaultAutoBlockPolicy returns the observed production defaults:
// 3 consecutive failures for a temporary block, 5 for a permanent one,
// temporary blocks lasting 24 hours.
func DefaultAutoBlockPolicy() AutoBlockPolicy {
	return AutoBlockPolicy{
		FailureThreshold:   3,
		PermanentThreshold: 5,
		BlockDuration:      24 * time.Hour,
	}
}

// Decision is the outcome of evaluating one IP's login-attempt history.
type Decision struct {
	IP       string    `json:"ip"`
	Eligible bool      `json:"eligible"`
	Type     BlockType `json:"blockType,omitempty"`
	Failures int       `json:"failures"`
}

// Evaluate computes the auto-block decision for a single IP's attempts.
//
// Attempts are ordered by timestamp and the run of consecutive failures
// ending at the most recent attempt is counted; any success resets the run.
// The run length is compared against the thresholds: reaching
// PermanentThreshold yields a permanent decision, reaching FailureThreshold
// a temporary one. Attempts for other IPs in the slice are ignored, so a
// caller may pass an unpartitioned snapshot.
func (p AutoBlockPolicy) Evaluate(ip string, attempts []LoginAttempt) Decision {
	own := make([]LoginAttempt, 0, len(attempts))
	for _, a := range attempts {
		if a.IP == ip {
			own = append(own, a)
		}
	}
	sort.SliceStable(own, func(i, j int) bool {
		return own[i].Timestamp.Before(own[j].Timestamp)
	})

	failures := 0
	for _, a := range own {
		if a.Success {
			failures = 0
			continue
		}
		failures++
	}

	d := Decision{IP: ip, Failures: failures}
	switch {
	case p.PermanentThreshold > 0 && failures >= p.PermanentThreshold:
		d.Eligible = true
		d.Type = BlockPermanent
	case p.FailureThreshold > 0 && failures >= p.FailureThreshold:
		d.Eligible = true
		d.Type = BlockTemporary
	}
	return d
}

// EvaluateAll groups a login-attempt snapshot by IP and returns the decision
// for every IP that appears, keyed by IP.
func (p AutoBlockPolicy) EvaluateAll(attempts []LoginAttempt) map[string]Decision {
	seen := make(map[string]struct{})
	out := make(map[string]Decision)
	for _, a := range attempts {
		if a.IP == "" {
			continue
		}
		if _, ok := seen[a.IP]; ok {
			continue
		}
		seen[a.IP] = struct{}{}
		out[a.IP] = p.Evaluate(a.IP, attempts)
	}
	return out
}
