// Package suricata parses Suricata eve.json log lines into canonical alert
// records. Only event_type "alert" lines are ingested; flow, dns, and stats
// records are skipped. Malformed lines are counted and skipped rather than
// aborting the parse, so one corrupt line never loses a whole log file.
package suricata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/netsentry/dashboard/internal/core/alert"
)

// eveRecord is the subset of a Suricata eve.json line this parser consumes.
type eveRecord struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip"`
	SrcPort   int    `json:"src_port"`
	DestIP    string `json:"dest_ip"`
	DestPort  int    `json:"dest_port"`
	Proto     string `json:"proto"`
	AppProto  string `json:"app_proto"`
	Alert     *struct {
		Signature string `json:"signature"`
		Category  string `json:"category"`
		Severity  int    `json:"severity"`
	} `json:"alert"`
	PayloadPrintable string `json:"payload_printable"`
}

// eveTimeLayout is Suricata's eve timestamp format
// (e.g. "2024-03-01T12:34:56.789012+0000").
const eveTimeLayout = "2006-01-02T15:04:05.999999-0700"

// maxPayloadSnippet caps the payload excerpt carried on a parsed alert.
const maxPayloadSnippet = 256

// Result summarizes one parse pass.
type Result struct {
	Parsed  int `json:"parsed"`
	Skipped int `json:"skipped"`
}

// ParseReader reads eve.json lines from r and returns the alerts found plus
// a summary of how many lines were parsed and skipped. Non-alert event
// types and malformed lines count as skipped; they are data-quality
// observations, not errors. Only a read failure on r itself is returned as
// an error.
func ParseReader(r io.Reader) ([]alert.Alert, Result, error) {
	var (
		alerts []alert.Alert
		res    Result
	)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a, ok := ParseLine(line)
		if !ok {
			res.Skipped++
			continue
		}
		alerts = append(alerts, a)
		res.Parsed++
	}
	if err := scanner.Err(); err != nil {
		return nil, res, fmt.Errorf("suricata: reading eve log: %w", err)
	}
	return alerts, res, nil
}

// ParseLine parses a single eve.json line. ok is false for non-alert event
// types, lines without an alert object, and malformed JSON or timestamps.
func ParseLine(line string) (alert.Alert, bool) {
	var rec eveRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return alert.Alert{}, false
	}
	if rec.EventType != "alert" || rec.Alert == nil {
		return alert.Alert{}, false
	}

	ts, err := time.Parse(eveTimeLayout, rec.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			return alert.Alert{}, false
		}
	}

	detection := classifySignature(rec.Alert.Signature, rec.Alert.Category, rec.AppProto, rec.DestPort)
	severity := severityFromEve(rec.Alert.Severity, detection)

	snippet := rec.PayloadPrintable
	if len(snippet) > maxPayloadSnippet {
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := maxPayloadSnippet
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	now := time.Now().UTC()
	return alert.Alert{
		ID:              uuid.NewString(),
		Timestamp:       ts.UTC(),
		SourceIP:        rec.SrcIP,
		DestinationIP:   rec.DestIP,
		SourcePort:      rec.SrcPort,
		DestinationPort: rec.DestPort,
		Protocol:        strings.ToLower(rec.Proto),
		DetectionType:   detection,
		Severity:        severity,
		Message:         rec.Alert.Signature,
		PayloadSnippet:  snippet,
		EventCount:      1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, true
}

// classifySignature infers the dashboard detection type from the eve
// signature text, category, application protocol, and destination port.
// Anything unrecognized maps to the "unknown" category.
func classifySignature(signature, category, appProto string, destPort int) alert.DetectionType {
	sig := strings.ToLower(signature)
	cat := strings.ToLower(category)

	switch {
	case strings.Contains(sig, "ssh") || appProto == "ssh" || destPort == 22:
		return alert.DetectionSSHBruteforce
	case strings.Contains(sig, "telnet") || destPort == 23:
		return alert.DetectionTelnetAuth
	case strings.Contains(sig, "ftp") || appProto == "ftp":
		return alert.DetectionFTPAuth
	case strings.Contains(sig, "pop3"):
		return alert.DetectionPOP3Auth
	case strings.Contains(sig, "imap"):
		return alert.DetectionIMAPAuth
	case strings.Contains(sig, "smb") || strings.Contains(sig, "ntlm"):
		return alert.DetectionSMBNTLM
	case strings.Contains(sig, "basic auth") || strings.Contains(sig, "authorization: basic"):
		return alert.DetectionHTTPBasicAuth
	case strings.Contains(sig, "form auth") || strings.Contains(sig, "login post"):
		return alert.DetectionHTTPFormAuth
	case strings.Contains(sig, "scan") || strings.Contains(cat, "scan"):
		return alert.DetectionPortScan
	case strings.Contains(cat, "malware") || strings.Contains(cat, "trojan"):
		return alert.DetectionMalware
	default:
		return alert.DetectionUnknown
	}
}

// severityFromEve maps Suricata's 1–3 alert severity (1 most severe) onto
// the dashboard enum, falling back to the detection type's default when the
// field is absent or out of range.
func severityFromEve(eve int, detection alert.DetectionType) alert.Severity {
	switch eve {
	case 1:
		return alert.SeverityCritical
	case 2:
		return alert.SeverityHigh
	case 3:
		return alert.SeverityMedium
	default:
		return detection.DefaultSeverity()
	}
}
