package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newCaptureTrail(cfg Config) (*Trail, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	return New(cfg, logger), &buf
}

func TestTrailRecordsEvent(t *testing.T) {
	trail, buf := newCaptureTrail(Config{Enabled: true, Level: "standard"})

	trail.Record(Event{
		Type: EventLogin,
		Host: "kvm1.example.com",
		User: "admin",
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse audit entry: %v", err)
	}

	if entry["audit"] != "login" {
		t.Errorf("audit = %v, want login", entry["audit"])
	}
	if entry["host"] != "kvm1.example.com" {
		t.Errorf("host = %v", entry["host"])
	}
}

func TestTrailDisabled(t *testing.T) {
	trail, buf := newCaptureTrail(Config{Enabled: false, Level: "verbose"})

	trail.Record(Event{Type: EventLogin, Host: "h", User: "u"})

	if buf.Len() != 0 {
		t.Errorf("disabled trail wrote %q", buf.String())
	}
}

func TestTrailLevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		eventType EventType
		want      bool
	}{
		{"minimal drops login", "minimal", EventLogin, false},
		{"minimal keeps login failure", "minimal", EventLoginFailed, true},
		{"minimal keeps retry", "minimal", EventSecondFactorRetry, true},
		{"standard drops reuse", "standard", EventConnectionReused, false},
		{"standard keeps logout", "standard", EventLogout, true},
		{"verbose keeps reuse", "verbose", EventConnectionReused, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trail, buf := newCaptureTrail(Config{Enabled: true, Level: tt.level})
			trail.Record(Event{Type: tt.eventType, Host: "h", User: "u"})

			got := buf.Len() > 0
			if got != tt.want {
				t.Errorf("recorded = %v, want %v (output %q)", got, tt.want, strings.TrimSpace(buf.String()))
			}
		})
	}
}

func TestNilTrailIsSafe(t *testing.T) {
	var trail *Trail
	// Must not panic
	trail.Record(Event{Type: EventLogin})
}
