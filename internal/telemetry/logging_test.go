package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/useorgx/openclaw-plugin/internal/shared"
)

func readEntries(t *testing.T, dir string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(LogPath(dir))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log json: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("sync complete", "initiatives", 3)

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "plugin" {
		t.Fatalf("component = %#v", entry["component"])
	}
	if entry["trace_id"] != "-" {
		t.Fatalf("expected trace_id='-', got %#v", entry["trace_id"])
	}

	info, err := os.Stat(LogPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("log file mode = %o", info.Mode().Perm())
	}
}

func TestNewLogger_ContextIDs(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	ctx := shared.WithTraceID(context.Background(), "trace-1")
	ctx = shared.WithSessionID(ctx, "s1")
	ctx = shared.WithRunID(ctx, "run-1")
	logger.InfoContext(ctx, "event queued")

	entry := readEntries(t, dir)[0]
	if entry["trace_id"] != "trace-1" || entry["session_id"] != "s1" || entry["run_id"] != "run-1" {
		t.Fatalf("context ids not stamped: %#v", entry)
	}
	if _, ok := entry["agent_id"]; ok {
		t.Fatalf("absent agent_id should be omitted: %#v", entry)
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("security check",
		"api_key", "abc123",
		"auth_header", "Authorization: Bearer super-secret-token",
		"detail", "request failed for oxk_abcdefghijklmnopqrstuv",
	)

	entry := readEntries(t, dir)[0]
	if entry["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redaction, got %#v", entry["api_key"])
	}
	if entry["auth_header"] != "[REDACTED]" {
		t.Fatalf("expected auth_header redaction, got %#v", entry["auth_header"])
	}
	if detail, _ := entry["detail"].(string); strings.Contains(detail, "oxk_") {
		t.Fatalf("expected key value redaction, got %q", detail)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "warn", true)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept")

	entries := readEntries(t, dir)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Fatalf("entries = %#v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
