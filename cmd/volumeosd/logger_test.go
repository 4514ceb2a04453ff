package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"error":   slog.LevelError,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, slog.LevelWarn)

	logger.Info("hidden message")
	logger.Warn("shown message", "device", "/dev/input/event3")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Fatalf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "shown message") || !strings.Contains(out, "device=/dev/input/event3") {
		t.Fatalf("warn not logged as text: %s", out)
	}
}
