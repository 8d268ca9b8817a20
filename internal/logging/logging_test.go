package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "info", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("scope", "forum").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["message"] != "visible" || entry["scope"] != "forum" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "debug", "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug().Msg("loaded rule set")
	if !strings.Contains(buf.String(), "loaded rule set") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Error("expected console output not to be JSON")
	}
}

func TestNewWithWriter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{name: "bad level", level: "loud", format: "json"},
		{name: "bad format", level: "info", format: "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithWriter(&bytes.Buffer{}, tt.level, tt.format); err == nil {
				t.Error("expected error")
			}
		})
	}
}
