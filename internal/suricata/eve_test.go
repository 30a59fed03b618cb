package suricata

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/netsentry/dashboard/internal/core/alert"
)

const sshLine = `{"timestamp":"2026-03-01T12:34:56.789012+0000","event_type":"alert","src_ip":"203.0.113.7","src_port":51234,"dest_ip":"10.0.0.5","dest_port":22,"proto":"TCP","app_proto":"ssh","alert":{"signature":"ET SCAN Potential SSH Scan","category":"Attempted Information Leak","severity":2},"payload_printable":"SSH-2.0-libssh"}`

func TestParseLine_AlertEvent(t *testing.T) {
	a, ok := ParseLine(sshLine)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if a.ID == "" {
		t.Error("parsed alert must get an ID")
	}
	want := time.Date(2026, 3, 1, 12, 34, 56, 789012000, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", a.Timestamp, want)
	}
	if a.SourceIP != "203.0.113.7" || a.DestinationIP != "10.0.0.5" {
		t.Errorf("addresses: %s -> %s", a.SourceIP, a.DestinationIP)
	}
	if a.DestinationPort != 22 || a.Protocol != "tcp" {
		t.Errorf("port/proto: %d %s", a.DestinationPort, a.Protocol)
	}
	if a.DetectionType != alert.DetectionSSHBruteforce {
		t.Errorf("detection: got %s", a.DetectionType)
	}
	if a.Severity != alert.SeverityHigh {
		t.Errorf("eve severity 2 must map to high, got %s", a.Severity)
	}
	if a.Message != "ET SCAN Potential SSH Scan" {
		t.Errorf("message: got %q", a.Message)
	}
	if a.EventCount != 1 {
		t.Errorf("event count: got %d, want 1", a.EventCount)
	}
}

func TestParseLine_NonAlertEventSkipped(t *testing.T) {
	flow := `{"timestamp":"2026-03-01T12:34:56.789012+0000","event_type":"flow","src_ip":"1.2.3.4"}`
	if _, ok := ParseLine(flow); ok {
		t.Error("flow events must not produce alerts")
	}
}

func TestParseLine_MalformedJSON(t *testing.T) {
	if _, ok := ParseLine(`{"event_type":"alert",`); ok {
		t.Error("malformed JSON must not parse")
	}
}

func TestParseLine_BadTimestamp(t *testing.T) {
	line := `{"timestamp":"yesterday","event_type":"alert","alert":{"signature":"x","severity":1}}`
	if _, ok := ParseLine(line); ok {
		t.Error("unparseable timestamp must skip the line")
	}
}

func TestParseLine_RFC3339TimestampFallback(t *testing.T) {
	line := `{"timestamp":"2026-03-01T12:34:56.789Z","event_type":"alert","alert":{"signature":"x","severity":1}}`
	a, ok := ParseLine(line)
	if !ok {
		t.Fatal("RFC3339 timestamps must parse")
	}
	if a.Severity != alert.SeverityCritical {
		t.Errorf("eve severity 1 must map to critical, got %s", a.Severity)
	}
}

func TestParseLine_SeverityFallsBackToDetectionDefault(t *testing.T) {
	line := `{"timestamp":"2026-03-01T12:34:56.789Z","event_type":"alert","dest_port":23,"alert":{"signature":"TELNET login attempt","severity":0}}`
	a, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if a.DetectionType != alert.DetectionTelnetAuth {
		t.Errorf("detection: got %s, want telnet_auth", a.DetectionType)
	}
	if a.Severity != alert.SeverityCritical {
		t.Errorf("missing eve severity must use the telnet default, got %s", a.Severity)
	}
}

func TestParseLine_PayloadSnippetCapped(t *testing.T) {
	long := strings.Repeat("A", 2*maxPayloadSnippet)
	line := `{"timestamp":"2026-03-01T12:34:56.789Z","event_type":"alert","alert":{"signature":"x","severity":3},"payload_printable":"` + long + `"}`
	a, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if len(a.PayloadSnippet) != maxPayloadSnippet {
		t.Errorf("snippet length: got %d, want %d", len(a.PayloadSnippet), maxPayloadSnippet)
	}
}

func TestParseLine_PayloadSnippetKeepsRuneBoundary(t *testing.T) {
	// The first multi-byte rune starts one byte before the cap, so a naive
	// byte slice would cut through it.
	payload := strings.Repeat("A", maxPayloadSnippet-1) + strings.Repeat("日", 8)
	line := `{"timestamp":"2026-03-01T12:34:56.789Z","event_type":"alert","alert":{"signature":"x","severity":3},"payload_printable":"` + payload + `"}`
	a, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if !utf8.ValidString(a.PayloadSnippet) {
		t.Errorf("snippet must stay valid UTF-8, got %q", a.PayloadSnippet)
	}
	if len(a.PayloadSnippet) > maxPayloadSnippet {
		t.Errorf("snippet length: got %d, want at most %d", len(a.PayloadSnippet), maxPayloadSnippet)
	}
	if want := strings.Repeat("A", maxPayloadSnippet-1); a.PayloadSnippet != want {
		t.Errorf("truncation must back off to the last whole rune, got %d bytes", len(a.PayloadSnippet))
	}
}

func TestClassifySignature(t *testing.T) {
	tests := []struct {
		name     string
		sig      string
		cat      string
		appProto string
		destPort int
		want     alert.DetectionType
	}{
		{"ssh by signature", "ET SCAN LibSSH Based Frequent SSH Connections", "", "", 0, alert.DetectionSSHBruteforce},
		{"ssh by port", "generic signature", "", "", 22, alert.DetectionSSHBruteforce},
		{"telnet by port", "generic", "", "", 23, alert.DetectionTelnetAuth},
		{"ftp by app proto", "generic", "", "ftp", 0, alert.DetectionFTPAuth},
		{"pop3", "POP3 brute", "", "", 0, alert.DetectionPOP3Auth},
		{"imap", "IMAP login flood", "", "", 0, alert.DetectionIMAPAuth},
		{"smb", "SMB relay attempt", "", "", 0, alert.DetectionSMBNTLM},
		{"basic auth", "HTTP Basic Auth cleartext", "", "", 0, alert.DetectionHTTPBasicAuth},
		{"form auth", "suspicious login POST", "", "", 0, alert.DetectionHTTPFormAuth},
		{"port scan by category", "generic", "Attempted Scan Detection", "", 0, alert.DetectionPortScan},
		{"malware by category", "generic", "A Network Trojan was detected", "", 0, alert.DetectionMalware},
		{"unknown", "something else entirely", "Misc activity", "", 8080, alert.DetectionUnknown},
	}
	for _, tc := range tests {
		if got := classifySignature(tc.sig, tc.cat, tc.appProto, tc.destPort); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseReader_MixedLines(t *testing.T) {
	input := strings.Join([]string{
		sshLine,
		`{"event_type":"flow","timestamp":"2026-03-01T12:00:00.000Z"}`,
		"",
		"not json at all",
		sshLine,
	}, "\n")

	alerts, res, err := ParseReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if res.Parsed != 2 || len(alerts) != 2 {
		t.Errorf("parsed: got %d (%d alerts), want 2", res.Parsed, len(alerts))
	}
	// The flow event and the garbage line count as skipped; the blank
	// line is ignored entirely.
	if res.Skipped != 2 {
		t.Errorf("skipped: got %d, want 2", res.Skipped)
	}
	if alerts[0].ID == alerts[1].ID {
		t.Error("each parsed alert must get a distinct ID")
	}
}
