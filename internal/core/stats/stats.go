// Package stats reduces a bounded alert snapshot into the summary figures
// shown on the dashboard: severity totals, unique attacker counts, top-N
// attacker IPs, attack-type distributions, and hourly time buckets.
//
// Every function here is pure and operates on the snapshot it is handed,
// typically the most recent 500 to 1000 rows the store returned for a
// chosen window, never the full historical table. Callers are responsible for
// picking a representative window; these functions are safe to re-run on
// each refresh with no state retained between calls.
package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/netsentry/dashboard/internal/core/alert"
)

// SeverityTotals holds per-severity counts plus the snapshot total.
//
// For well-formed input the five enum counts sum to Total; rows carrying an
// out-of-enum severity are counted only in Total and Other.
type SeverityTotals struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Other    int `json:"-"`
	Total    int `json:"total"`
}

// Totals counts rows by severity.
func Totals(rows []alert.Alert) SeverityTotals {
	var t SeverityTotals
	for _, a := range rows {
		t.Total++
		switch a.Severity {
		case alert.SeverityCritical:
			t.Critical++
		case alert.SeverityHigh:
			t.High++
		case alert.SeverityMedium:
			t.Medium++
		case alert.SeverityLow:
			t.Low++
		case alert.SeverityInfo:
			t.Info++
		default:
			t.Other++
		}
	}
	return t
}

// UniqueAttackers returns the number of distinct non-empty source IPs in the
// snapshot. Rows with a missing source IP are excluded entirely; they do not
// collapse into one "unknown" attacker.
func UniqueAttackers(rows []alert.Alert) int {
	seen := make(map[string]struct{}, len(rows))
	for _, a := range rows {
		if a.SourceIP == "" {
			continue
		}
		seen[a.SourceIP] = struct{}{}
	}
	return len(seen)
}

// MostCommonAttackType returns the attack-type label with the highest
// occurrence count, and false for an empty snapshot.
//
// Ties are broken by first appearance in the input order, which is stable
// and deterministic given the store's descending-timestamp ordering. The
// tie-break is enforced with an explicit first-seen index rather than map
// iteration order.
func MostCommonAttackType(rows []alert.Alert) (string, bool) {
	counts := make(map[string]int, len(rows))
	firstSeen := make(map[string]int, len(rows))
	for i, a := range rows {
		label := a.TypeLabel()
		if _, ok := firstSeen[label]; !ok {
			firstSeen[label] = i
		}
		counts[label]++
	}
	best := ""
	for label, n := range counts {
		if best == "" ||
			n > counts[best] ||
			(n == counts[best] && firstSeen[label] < firstSeen[best]) {
			best = label
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// TopAttacker is one entry in the top-N attacker ranking.
type TopAttacker struct {
	IP          string         `json:"ip"`
	AlertCount  int            `json:"alert_count"`
	MaxSeverity alert.Severity `json:"severity"`
	LastSeen    time.Time      `json:"last_seen"`
}

// TopAttackers groups the snapshot by source IP, counts occurrences, and
// returns the n most frequent attackers in descending count order. Rows with
// an empty source IP are skipped.
//
// Equal counts preserve the relative first-appearance order of the IPs in
// the input (stable sort), so the ranking is deterministic across refreshes
// of the same snapshot. n < 0 is invalid input and returns an error; n == 0
// returns an empty slice.
func TopAttackers(rows []alert.Alert, n int) ([]TopAttacker, error) {
	if n < 0 {
		return nil, fmt.Errorf("stats: top-N must be non-negative, got %d", n)
	}

	idx := make(map[string]int, len(rows))
	var order []TopAttacker
	for _, a := range rows {
		if a.SourceIP == "" {
			continue
		}
		i, ok := idx[a.SourceIP]
		if !ok {
			i = len(order)
			idx[a.SourceIP] = i
			order = append(order, TopAttacker{
				IP:          a.SourceIP,
				MaxSeverity: alert.SeverityInfo,
			})
		}
		order[i].AlertCount++
		if a.Timestamp.After(order[i].LastSeen) {
			order[i].LastSeen = a.Timestamp
		}
		if a.Severity.Rank() > order[i].MaxSeverity.Rank() {
			order[i].MaxSeverity = a.Severity
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].AlertCount > order[j].AlertCount
	})
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		order = []TopAttacker{}
	}
	return order, nil
}

// DistributionEntry is one attack-type slice of the distribution chart.
// Percentage keeps full float precision; rounding to one decimal happens at
// the presentation layer.
type DistributionEntry struct {
	Type       string  `json:"type"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DefaultDistributionLimit caps the distribution at the eight largest groups
// so the chart stays readable.
const DefaultDistributionLimit = 8

// AttackDistribution groups the snapshot by attack-type label and computes
// each group's share of the snapshot total. An empty snapshot yields an
// empty slice: no division by zero, no NaN percentages.
//
// Entries are sorted by descending count (ties by first appearance) and
// truncated to limit; limit <= 0 applies DefaultDistributionLimit. A
// truncated distribution's percentages may legitimately sum below 100.
func AttackDistribution(rows []alert.Alert, limit int) []DistributionEntry {
	if limit <= 0 {
		limit = DefaultDistributionLimit
	}
	if len(rows) == 0 {
		return []DistributionEntry{}
	}

	idx := make(map[string]int, len(rows))
	var entries []DistributionEntry
	for _, a := range rows {
		label := a.TypeLabel()
		i, ok := idx[label]
		if !ok {
			i = len(entries)
			idx[label] = i
			entries = append(entries, DistributionEntry{Type: label})
		}
		entries[i].Count++
	}

	total := len(rows)
	for i := range entries {
		entries[i].Percentage = 100 * float64(entries[i].Count) / float64(total)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ProtocolDistribution groups the snapshot by transport protocol and
// computes each group's share of the snapshot total, with the same shape,
// ordering, and truncation rules as AttackDistribution. Rows with an empty
// protocol are grouped under "unknown".
func ProtocolDistribution(rows []alert.Alert, limit int) []DistributionEntry {
	if limit <= 0 {
		limit = DefaultDistributionLimit
	}
	if len(rows) == 0 {
		return []DistributionEntry{}
	}

	idx := make(map[string]int, len(rows))
	var entries []DistributionEntry
	for _, a := range rows {
		proto := a.Protocol
		if proto == "" {
			proto = "unknown"
		}
		i, ok := idx[proto]
		if !ok {
			i = len(entries)
			idx[proto] = i
			entries = append(entries, DistributionEntry{Type: proto})
		}
		entries[i].Count++
	}

	total := len(rows)
	for i := range entries {
		entries[i].Percentage = 100 * float64(entries[i].Count) / float64(total)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Bucket is one clock-hour of the alert timeline.
type Bucket struct {
	Hour  time.Time `json:"time"`
	Count int       `json:"count"`
}

// HourlyCounts produces one bucket per clock hour for the window of `hours`
// hours ending at now, ordered oldest to newest.
//
// Every hour in the window is pre-initialized to zero so quiet hours appear
// explicitly rather than being omitted. Each row is then scanned into the
// bucket containing its timestamp (truncated to the hour); rows outside the
// window or with a zero timestamp are ignored. hours <= 0 is invalid input.
func HourlyCounts(rows []alert.Alert, hours int, now time.Time) ([]Bucket, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("stats: bucket window must be positive, got %d hours", hours)
	}

	end := now.Truncate(time.Hour)
	buckets := make([]Bucket, hours)
	index := make(map[time.Time]int, hours)
	for i := 0; i < hours; i++ {
		h := end.Add(-time.Duration(hours-1-i) * time.Hour)
		buckets[i] = Bucket{Hour: h}
		index[h] = i
	}

	for _, a := range rows {
		if a.Timestamp.IsZero() {
			continue
		}
		if i, ok := index[a.Timestamp.Truncate(time.Hour)]; ok {
			buckets[i].Count++
		}
	}
	return buckets, nil
}
