// Package telemetry builds the plugin's structured logger.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/useorgx/openclaw-plugin/internal/filestore"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

// LogFileName is the JSON-lines log written under <dir>/logs.
const LogFileName = "plugin.jsonl"

// LogPath returns the log file path for a config dir.
func LogPath(dir string) string {
	return filepath.Join(dir, "logs", LogFileName)
}

// NewLogger returns a JSON logger appending to LogPath(dir), and to stdout
// unless quiet. The caller closes the returned io.Closer on shutdown.
func NewLogger(dir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(dir, "logs")
	if err := filestore.EnsureDir(logDir); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(LogPath(dir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filestore.FilePerm)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}
	handler := &contextHandler{Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceAttr,
	})}
	logger := slog.New(handler).With("component", "plugin")
	return logger, file, nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
		return a
	}
	if shared.SensitiveKey(a.Key) {
		return slog.String(a.Key, shared.Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if redacted, ok := redactStringValue(a.Value.String()); ok {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// contextHandler stamps trace, session, and run ids carried on the context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("trace_id", shared.TraceID(ctx)))
	if id := shared.SessionID(ctx); id != "" {
		r.AddAttrs(slog.String("session_id", id))
	}
	if id := shared.RunID(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	if id := shared.AgentID(ctx); id != "" {
		r.AddAttrs(slog.String("agent_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "authorization:") {
		return shared.Redacted, true
	}
	redacted := shared.Redact(v)
	if redacted != v {
		return redacted, true
	}
	return v, false
}

// ParseLevel maps a config log level to slog. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
