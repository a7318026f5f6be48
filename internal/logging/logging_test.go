package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  slog.Level
		known bool
	}{
		{in: "debug", want: slog.LevelDebug, known: true},
		{in: " INFO ", want: slog.LevelInfo, known: true},
		{in: "", want: slog.LevelInfo, known: true},
		{in: "warning", want: slog.LevelWarn, known: true},
		{in: "error", want: slog.LevelError, known: true},
		{in: "loud", want: slog.LevelInfo, known: false},
	}

	for _, tt := range tests {
		got, known := ParseLevel(tt.in)
		if got != tt.want || known != tt.known {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, known, tt.want, tt.known)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn, false)

	logger.Info("hidden")
	logger.Warn("segment dropped", "sequence", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "segment dropped") || !strings.Contains(out, "sequence=3") {
		t.Fatalf("expected warn line with attrs, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no color codes, got %q", out)
	}
}
