package persistence

import (
	"context"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/filestore"
	"github.com/useorgx/openclaw-plugin/internal/orgx"
)

// PersistedSnapshot is the last org snapshot fetched from the remote service.
type PersistedSnapshot struct {
	Snapshot  orgx.OrgSnapshot `json:"snapshot"`
	UpdatedAt string           `json:"updatedAt"`
}

// snapshotShape only pins the envelope; the snapshot body is whatever the
// last sync produced.
const snapshotShape = `{
  "type": "object",
  "required": ["updatedAt", "snapshot"],
  "properties": {
    "updatedAt": {"type": "string"},
    "snapshot": {"type": "object"}
  }
}`

var validateSnapshot = filestore.MustSchema("snapshot.schema.json", snapshotShape)

// WritePersistedSnapshot replaces the stored snapshot wholesale.
func (s *Store) WritePersistedSnapshot(ctx context.Context, snap orgx.OrgSnapshot) (PersistedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := PersistedSnapshot{Snapshot: snap, UpdatedAt: s.timestamp().Format(time.RFC3339Nano)}
	if err := s.write(ctx, SnapshotFile, rec); err != nil {
		return rec, err
	}
	s.bus.Publish(bus.TopicSnapshotUpdated, bus.SnapshotEvent{
		Initiatives: len(snap.Initiatives),
		ActiveTasks: len(snap.ActiveTasks),
	})
	return rec, nil
}

// ReadPersistedSnapshot returns the stored snapshot, or nil when it is
// missing or does not have the expected envelope.
func (s *Store) ReadPersistedSnapshot(ctx context.Context) *PersistedSnapshot {
	var rec PersistedSnapshot
	if !s.load(ctx, SnapshotFile, &rec, validateSnapshot) {
		return nil
	}
	return &rec
}

// ClearPersistedSnapshot deletes snapshot.json. Failures are ignored.
func (s *Store) ClearPersistedSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(SnapshotFile)
}
