package stats

import "github.com/netsentry/dashboard/internal/core/alert"

// RiskLevel is the presentation bucket for a 0–100 risk score. The
// breakpoints are shared between IP risk scores and alert risk scores and
// must match wherever a score is displayed.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// LevelForScore buckets a 0–100 score: >=80 critical, >=60 high, >=40
// medium, below that low. A score exactly on a boundary resolves to the
// higher tier.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AlertRiskScore is the fallback heuristic for records that carry no stored
// risk score: event_count × 10, or 50 when the counter is absent. The result
// is not capped; callers that need a ceiling apply their own.
func AlertRiskScore(a alert.Alert) int {
	if a.EventCount < 1 {
		return 50
	}
	return a.EventCount * 10
}

// severityWeight is the contribution of one alert to a snapshot risk score.
var severityWeight = map[alert.Severity]int{
	alert.SeverityCritical: 10,
	alert.SeverityHigh:     7,
	alert.SeverityMedium:   4,
	alert.SeverityLow:      1,
}

// SnapshotRiskScore summarizes a snapshot as a 0–100 score: the sum of
// per-alert severity weights normalized against the maximum possible sum
// for the snapshot. An empty snapshot scores 0. Info and out-of-enum
// severities contribute nothing to the numerator.
func SnapshotRiskScore(rows []alert.Alert) int {
	if len(rows) == 0 {
		return 0
	}
	total := 0
	for _, a := range rows {
		total += severityWeight[a.Severity]
	}
	max := len(rows) * severityWeight[alert.SeverityCritical]
	return int(float64(total)/float64(max)*100 + 0.5)
}
