package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownTimeRange is returned by TimeRange.Hours for values outside the
// enumerated set.
var ErrUnknownTimeRange = errors.New("unknown time range")

// TimeRange is one of the enumerated lookback windows the dashboard offers.
type TimeRange string

const (
	Range1Hour   TimeRange = "1hour"
	Range6Hours  TimeRange = "6hours"
	Range24Hours TimeRange = "24hours"
	Range7Days   TimeRange = "7days"

	// Range30Days is a sentinel: no lower bound is applied at all, so data
	// older than 30 days is still included. This mirrors the product's
	// observed "show everything" behavior and is deliberately not a literal
	// 720-hour window.
	Range30Days TimeRange = "30days"
)

// rangeHours resolves each bounded TimeRange to its window size in hours.
// Range30Days is absent: it means "no lower bound", not 720 hours.
var rangeHours = map[TimeRange]int{
	Range1Hour:   1,
	Range6Hours:  6,
	Range24Hours: 24,
	Range7Days:   168,
}

// Hours returns the window size for a bounded range and bounded=false for
// the Range30Days sentinel. Unrecognized values return an error; callers
// treat that as invalid input, not as data to degrade over.
func (r TimeRange) Hours() (hours int, bounded bool, err error) {
	if r == Range30Days {
		return 0, false, nil
	}
	h, ok := rangeHours[r]
	if !ok {
		return 0, false, fmt.Errorf("alert: unrecognized time range %q: %w", r, ErrUnknownTimeRange)
	}
	return h, true, nil
}

// Every filter below is a pure set intersection over the input snapshot:
// side-effect free, commutative with the other filters, and idempotent.
// None of them mutate or reorder the input slice.

// BySeverity keeps rows whose severity is a member of selected.
//
// When selected covers every member of SelectableSeverities the filter is an
// explicit pass-through returning rows unchanged. The dashboard's
// "everything selected" state must be indistinguishable from "no filter", so
// a remote query built from the same selection can omit the IN-clause
// entirely.
func BySeverity(rows []Alert, selected []Severity) []Alert {
	if coversSelectable(selected) {
		return rows
	}
	set := make(map[Severity]struct{}, len(selected))
	for _, s := range selected {
		set[s] = struct{}{}
	}
	out := make([]Alert, 0, len(rows))
	for _, a := range rows {
		if _, ok := set[a.Severity]; ok {
			out = append(out, a)
		}
	}
	return out
}

// coversSelectable reports whether selected includes every severity the
// dashboard filter offers.
func coversSelectable(selected []Severity) bool {
	seen := make(map[Severity]struct{}, len(selected))
	for _, s := range selected {
		seen[s] = struct{}{}
	}
	for _, s := range SelectableSeverities {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	return true
}

// ByDetectionType keeps rows whose detection type is a member of selected.
//
// An empty selection is a pass-through, not "reject all". Note the asymmetry
// with BySeverity (where the FULL set is the pass-through): both defaults
// come straight from the UI and are independently meaningful.
func ByDetectionType(rows []Alert, selected []DetectionType) []Alert {
	if len(selected) == 0 {
		return rows
	}
	set := make(map[DetectionType]struct{}, len(selected))
	for _, t := range selected {
		set[t] = struct{}{}
	}
	out := make([]Alert, 0, len(rows))
	for _, a := range rows {
		if _, ok := set[a.DetectionType]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ByAcknowledgment partitions on the acknowledged flag. showAcknowledged
// keeps only rows explicitly acknowledged; false keeps every row that is not
// (a zero-value flag counts as not acknowledged).
func ByAcknowledgment(rows []Alert, showAcknowledged bool) []Alert {
	out := make([]Alert, 0, len(rows))
	for _, a := range rows {
		if a.Acknowledged == showAcknowledged {
			out = append(out, a)
		}
	}
	return out
}

// BySearchText keeps rows where any of message, source IP, destination IP,
// detection type, or attack type contains query as a case-insensitive
// substring. A blank or whitespace-only query is a pass-through.
func BySearchText(rows []Alert, query string) []Alert {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return rows
	}
	out := make([]Alert, 0, len(rows))
	for _, a := range rows {
		if strings.Contains(strings.ToLower(a.Message), q) ||
			strings.Contains(strings.ToLower(a.SourceIP), q) ||
			strings.Contains(strings.ToLower(a.DestinationIP), q) ||
			strings.Contains(strings.ToLower(string(a.DetectionType)), q) ||
			strings.Contains(strings.ToLower(a.AttackType), q) {
			out = append(out, a)
		}
	}
	return out
}

// ByTimeRange keeps rows whose timestamp falls within [now−window, now].
// The Range30Days sentinel applies no lower bound and returns rows
// unchanged.
//
// A row with a zero timestamp cannot be placed in the window; it is
// conservatively excluded and counted in skipped so callers can surface the
// data-quality observation. skipped is always 0 for the unbounded range.
func ByTimeRange(rows []Alert, r TimeRange, now time.Time) (kept []Alert, skipped int, err error) {
	hours, bounded, err := r.Hours()
	if err != nil {
		return nil, 0, err
	}
	if !bounded {
		return rows, 0, nil
	}
	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	kept = make([]Alert, 0, len(rows))
	for _, a := range rows {
		if a.Timestamp.IsZero() {
			skipped++
			continue
		}
		if !a.Timestamp.Before(cutoff) && !a.Timestamp.After(now) {
			kept = append(kept, a)
		}
	}
	return kept, skipped, nil
}
