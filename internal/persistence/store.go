// Package persistence keeps the plugin's local state in small JSON files under
// the plugin config directory: agent runs, agent launch contexts, the next-up
// pin queue, and the last org snapshot. Every file goes through filestore, so
// writes are atomic and owner-only, and unreadable files read as empty.
package persistence

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/filestore"
	otelPkg "github.com/useorgx/openclaw-plugin/internal/otel"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

// File names inside the config directory.
const (
	AgentRunsFile     = "agent-runs.json"
	AgentContextsFile = "agent-contexts.json"
	NextUpQueueFile   = "next-up-queue.json"
	SnapshotFile      = "snapshot.json"
)

// Retention limits.
const (
	MaxRuns   = 240
	MaxAgents = 120
	MaxPins   = 240
)

// Store owns the JSON state files in one directory. Operations are
// read-modify-write against disk; the mutex serializes callers inside this
// process, nothing coordinates across processes.
type Store struct {
	dir     string
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otelPkg.Metrics
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for corrupt-file and best-effort warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records write and backup counts.
func WithMetrics(m *otelPkg.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open returns a Store rooted at dir. The directory is created lazily on the
// first write. b may be nil.
func Open(dir string, b *bus.Bus, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		bus:    b,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding the state files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) timestamp() time.Time { return s.now().UTC() }

// load reads name into v and reports whether v is usable. Public read paths
// call it without s.mu; if two callers race to back up the same corrupt
// file, the losing rename fails and is only logged.
func (s *Store) load(ctx context.Context, name string, v any, validate func([]byte) error) bool {
	path := s.path(name)
	res := filestore.Load(path, v, filestore.LoadOptions{Validate: validate, Now: s.now})
	switch res.Status {
	case filestore.Loaded:
		return true
	case filestore.Missing:
		return false
	case filestore.Corrupt:
		s.metrics.CorruptBackup(ctx, name)
		s.logger.Warn("state file corrupt, starting empty",
			"file", name,
			"backup", res.BackupPath,
			"trace_id", shared.TraceID(ctx),
			"error", res.Err,
		)
		if res.BackupPath != "" {
			s.bus.Publish(bus.TopicStoreCorrupt, bus.StoreCorruptEvent{Path: path, BackupPath: res.BackupPath})
		}
	default:
		s.logger.Warn("state file unreadable, starting empty", "file", name, "error", res.Err)
	}
	return false
}

func (s *Store) write(ctx context.Context, name string, v any) error {
	err := filestore.WriteJSONAtomic(s.path(name), v, filestore.FilePerm)
	s.metrics.StoreWrite(ctx, name, err)
	return err
}

// remove deletes name, logging instead of failing.
func (s *Store) remove(name string) {
	if err := filestore.Remove(s.path(name)); err != nil {
		s.logger.Debug("state file delete failed", "file", name, "error", err)
	}
}
