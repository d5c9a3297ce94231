package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/config"
)

func TestNewLoggerJSON(t *testing.T) {
	useWorkspace(t, t.TempDir())

	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("credential", "primary").Msg("rate limited")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" || entry["credential"] != "primary" || entry["message"] != "rate limited" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerFlagOverrides(t *testing.T) {
	useWorkspace(t, t.TempDir())
	logLevel = "debug"
	logFormat = "console"

	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "error", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %v, want debug", logger.GetLevel())
	}

	logger.Debug().Msg("pass started")
	requireContains(t, buf.String(), "pass started")
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected console output, got JSON: %s", buf.String())
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	useWorkspace(t, t.TempDir())

	if _, err := newLogger(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := newLogger(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
