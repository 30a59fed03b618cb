// Package alert defines the canonical alert record used throughout the
// NetSentry dashboard server and the pure filter predicates applied to
// in-memory alert snapshots.
//
// Rows arrive from two sources, the PostgreSQL store and the Suricata eve
// log parser, with slightly different column spellings (src_ip vs
// source_ip). All aliasing is resolved at those boundaries; every function
// in this package operates on the single normalized Alert shape.
package alert

import "time"

// Severity is the five-value ordered threat level of an alert,
// critical being the highest.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every valid severity value, highest first.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// SelectableSeverities is the set the dashboard's severity filter offers.
// Info alerts are shown unconditionally, so the filter covers only the four
// actionable levels; a selection equal to this set means "no filter".
var SelectableSeverities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
}

// severityRank maps each severity to its position in the total order.
// Higher is more severe. Unknown severities rank below info.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the position of s in the severity total order (critical=4 …
// info=0). Unknown values return -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the five defined severity values.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// DetectionType is the category of signature that produced an alert.
type DetectionType string

const (
	DetectionHTTPBasicAuth DetectionType = "http_basic_auth"
	DetectionHTTPFormAuth  DetectionType = "http_form_auth"
	DetectionFTPAuth       DetectionType = "ftp_auth"
	DetectionPOP3Auth      DetectionType = "pop3_auth"
	DetectionIMAPAuth      DetectionType = "imap_auth"
	DetectionTelnetAuth    DetectionType = "telnet_auth"
	DetectionSSHBruteforce DetectionType = "ssh_bruteforce"
	DetectionSMBNTLM       DetectionType = "smb_ntlm"
	DetectionPortScan      DetectionType = "port_scan"
	DetectionMalware       DetectionType = "malware_signature"
	DetectionUnknown       DetectionType = "unknown"
)

// defaultSeverity maps each detection type to the severity assigned when a
// record arrives without one. It is a fallback only: a record's own severity
// field always takes precedence when present and valid.
var defaultSeverity = map[DetectionType]Severity{
	DetectionHTTPBasicAuth: SeverityHigh,
	DetectionHTTPFormAuth:  SeverityMedium,
	DetectionFTPAuth:       SeverityHigh,
	DetectionPOP3Auth:      SeverityHigh,
	DetectionIMAPAuth:      SeverityHigh,
	DetectionTelnetAuth:    SeverityCritical,
	DetectionSSHBruteforce: SeverityCritical,
	DetectionSMBNTLM:       SeverityHigh,
	DetectionPortScan:      SeverityMedium,
	DetectionMalware:       SeverityCritical,
	DetectionUnknown:       SeverityLow,
}

// DefaultSeverity returns the severity assigned to alerts of this detection
// type when the record carries none. Unrecognized detection types fall back
// to the "unknown" category, which defaults to low.
func (d DetectionType) DefaultSeverity() Severity {
	if s, ok := defaultSeverity[d]; ok {
		return s
	}
	return defaultSeverity[DetectionUnknown]
}

// Alert is one detected security event, normalized from whichever source
// supplied it.
//
// EventCount is the repetition counter for a signature that fired more than
// once; zero means the source omitted it and consumers should treat it as 1.
// AttackType is an alternate human-oriented label some sources attach in
// addition to (or instead of) DetectionType; it is empty when absent.
type Alert struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	SourceIP        string        `json:"source_ip"`
	DestinationIP   string        `json:"destination_ip"`
	SourcePort      int           `json:"source_port,omitempty"`
	DestinationPort int           `json:"destination_port,omitempty"`
	Protocol        string        `json:"protocol,omitempty"`
	DetectionType   DetectionType `json:"detection_type"`
	AttackType      string        `json:"attack_type,omitempty"`
	Severity        Severity      `json:"severity"`
	Message         string        `json:"message"`
	PayloadSnippet  string        `json:"payload_snippet,omitempty"`
	EventCount      int           `json:"event_count,omitempty"`
	Acknowledged    bool          `json:"is_acknowledged"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// EffectiveSeverity returns the record's own severity when it is one of the
// five defined values, otherwise the detection type's default.
func (a Alert) EffectiveSeverity() Severity {
	if a.Severity.Valid() {
		return a.Severity
	}
	return a.DetectionType.DefaultSeverity()
}

// Events returns the repetition count, normalizing an absent counter to 1.
func (a Alert) Events() int {
	if a.EventCount < 1 {
		return 1
	}
	return a.EventCount
}

// TypeLabel returns the label used for grouping in attack-type aggregations:
// the detection type, or AttackType when the detection type is absent.
// Records carrying neither are grouped under "unknown".
func (a Alert) TypeLabel() string {
	if a.DetectionType != "" {
		return string(a.DetectionType)
	}
	if a.AttackType != "" {
		return a.AttackType
	}
	return string(DetectionUnknown)
}
