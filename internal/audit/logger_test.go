package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean string untouched", "get_weather", "get_weather"},
		{"tabs and newlines preserved", "line1\nline2\tend", "line1\nline2\tend"},
		{"ansi escape stripped", "evil\x1b[2Jtool", "eviltool"},
		{"control chars stripped", "tool\x00name\x07", "toolname"},
		{"bell in reason", "blocked\x07!", "blocked!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeString(tt.input); got != tt.want {
				t.Errorf("sanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogSanitizedSpan(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.LogSanitizedSpan("get_weather", "HTML_COMMENT", 42, "<!-- secret")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit output is not JSON: %v", err)
	}
	if entry["event"] != "sanitized" {
		t.Errorf("event = %v, want sanitized", entry["event"])
	}
	if entry["category"] != "HTML_COMMENT" {
		t.Errorf("category = %v, want HTML_COMMENT", entry["category"])
	}
	if entry["length"] != float64(42) {
		t.Errorf("length = %v, want 42", entry["length"])
	}
	if entry["source"] != "get_weather" {
		t.Errorf("source = %v", entry["source"])
	}
	if !strings.Contains(buf.String(), "<!-- secret") {
		t.Error("snippet missing from audit entry")
	}
}

func TestLogBlocked(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.LogBlocked("delete_account", "alignment", "alignment score=0.00", "req-1")

	out := buf.String()
	for _, want := range []string{`"event":"blocked"`, `"tool":"delete_account"`, `"layer":"alignment"`, `"request_id":"req-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("blocked entry missing %s: %s", want, out)
		}
	}
}

func TestNopLoggerSilent(t *testing.T) {
	l := NewNop()
	// Must not panic or write anywhere.
	l.LogBlocked("t", "l", "r", "id")
	l.LogSanitizedSpan("t", "BASE64", 20, "x")
	l.Close()
}
