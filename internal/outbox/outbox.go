// Package outbox buffers events for the remote service while the plugin is
// offline. Each session gets one JSON file, <sessionID>.json, holding the
// events in arrival order. Events are deduplicated by id: appending an id that
// is already queued replaces that entry where it sits.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/filestore"
	otelPkg "github.com/useorgx/openclaw-plugin/internal/otel"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

var (
	// ErrInvalidSessionID rejects session ids that are not safe file names.
	ErrInvalidSessionID = errors.New("outbox: invalid session id")
	// ErrInvalidEventType rejects events outside the known types.
	ErrInvalidEventType = errors.New("outbox: invalid event type")
)

const fileExt = ".json"

// EventType classifies an outbox event.
type EventType string

const (
	TypeProgress  EventType = "progress"
	TypeDecision  EventType = "decision"
	TypeArtifact  EventType = "artifact"
	TypeChangeset EventType = "changeset"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeProgress, TypeDecision, TypeArtifact, TypeChangeset:
		return true
	}
	return false
}

// ActivityItem is the display form of an event, shown in the activity feed
// until the event is delivered.
type ActivityItem struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	InitiativeID string         `json:"initiativeId,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Event is one queued report.
type Event struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
	ActivityItem *ActivityItem  `json:"activityItem,omitempty"`
	// Revision is bumped each time Append replaces the event, so an Ack for
	// an older copy leaves the newer one queued.
	Revision int `json:"revision,omitempty"`
}

// eventsShape requires a list of objects that carry at least an id.
const eventsShape = `{
  "type": ["array", "null"],
  "items": {
    "type": "object",
    "required": ["id"],
    "properties": {
      "id": {"type": "string"},
      "type": {"type": "string"}
    }
  }
}`

var validateEvents = filestore.MustSchema("outbox.schema.json", eventsShape)

// ValidateSessionID rejects ids that could escape the outbox directory.
func ValidateSessionID(id string) error {
	switch {
	case strings.TrimSpace(id) == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	case strings.ContainsAny(id, `/\`+"\x00"), strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Queue is the outbox rooted at one directory.
type Queue struct {
	dir     string
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otelPkg.Metrics
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Queue.
type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithMetrics(m *otelPkg.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New returns a Queue for dir. b may be nil.
func New(dir string, b *bus.Bus, opts ...Option) *Queue {
	q := &Queue{dir: dir, bus: b, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dir returns the outbox directory.
func (q *Queue) Dir() string { return q.dir }

func (q *Queue) path(sessionID string) string {
	return filepath.Join(q.dir, sessionID+fileExt)
}

// Append queues ev for sessionID. A blank ID gets a fresh one and a zero
// Timestamp is set to now. If an event with the same ID is queued it is
// replaced in place and its Revision advanced. The stored event is returned.
func (q *Queue) Append(ctx context.Context, sessionID string, ev Event) (Event, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		ev.Type = TypeProgress
	}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidEventType, ev.Type)
	}
	ev.ID = strings.TrimSpace(ev.ID)
	if ev.ID == "" {
		ev.ID = shared.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.load(ctx, sessionID)
	ev.Revision = 0
	replaced := false
	for i := range events {
		if events[i].ID == ev.ID {
			ev.Revision = events[i].Revision + 1
			events[i] = ev
			replaced = true
			break
		}
	}
	if !replaced {
		events = append(events, ev)
	}
	if err := filestore.WriteJSONAtomic(q.path(sessionID), events, filestore.FilePerm); err != nil {
		return Event{}, fmt.Errorf("outbox: append %s: %w", sessionID, err)
	}
	q.metrics.OutboxAppend(ctx, string(ev.Type))
	q.bus.Publish(bus.TopicOutboxAppended, bus.OutboxEvent{SessionID: sessionID, EventID: ev.ID, Remaining: len(events)})
	return ev, nil
}

// Read returns the queued events for sessionID. Missing and corrupt files
// read as empty; the only error is an invalid session id.
func (q *Queue) Read(ctx context.Context, sessionID string) ([]Event, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return q.load(ctx, sessionID), nil
}

// Replace overwrites the queue for sessionID. An empty list deletes the file.
func (q *Queue) Replace(ctx context.Context, sessionID string, events []Event) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(events) == 0 {
		if err := filestore.Remove(q.path(sessionID)); err != nil {
			return fmt.Errorf("outbox: clear %s: %w", sessionID, err)
		}
		return nil
	}
	if err := filestore.WriteJSONAtomic(q.path(sessionID), events, filestore.FilePerm); err != nil {
		return fmt.Errorf("outbox: replace %s: %w", sessionID, err)
	}
	return nil
}

// Ack removes the given events from sessionID's queue and returns how many
// remain. An event is removed only if its ID and Revision both match, so
// events appended or replaced while a flush was delivering are kept. When
// nothing remains the file is deleted, as with Replace.
func (q *Queue) Ack(ctx context.Context, sessionID string, acked ...Event) (int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	type version struct {
		id  string
		rev int
	}
	drop := make(map[version]bool, len(acked))
	for _, ev := range acked {
		drop[version{ev.ID, ev.Revision}] = true
	}
	events := q.load(ctx, sessionID)
	kept := events[:0]
	for _, ev := range events {
		if !drop[version{ev.ID, ev.Revision}] {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		if err := filestore.Remove(q.path(sessionID)); err != nil {
			return 0, fmt.Errorf("outbox: ack %s: %w", sessionID, err)
		}
		return 0, nil
	}
	if len(kept) == len(events) {
		return len(kept), nil
	}
	if err := filestore.WriteJSONAtomic(q.path(sessionID), kept, filestore.FilePerm); err != nil {
		return len(kept), fmt.Errorf("outbox: ack %s: %w", sessionID, err)
	}
	return len(kept), nil
}

// Clear deletes the queue for sessionID. Delete failures are logged, not
// returned.
func (q *Queue) Clear(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := filestore.Remove(q.path(sessionID)); err != nil {
		q.logger.Debug("outbox clear failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// Sessions lists the session ids that have a queue file, sorted.
func (q *Queue) Sessions() []string {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if ValidateSessionID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pending counts queued events across all sessions.
func (q *Queue) Pending(ctx context.Context) int {
	n := 0
	for _, id := range q.Sessions() {
		n += len(q.load(ctx, id))
	}
	return n
}

// ReadAllItems collects the activity items of every queued event, newest
// first. Files written during the scan may or may not be included.
func (q *Queue) ReadAllItems(ctx context.Context) []ActivityItem {
	var items []ActivityItem
	for _, id := range q.Sessions() {
		for _, ev := range q.load(ctx, id) {
			if ev.ActivityItem != nil {
				items = append(items, *ev.ActivityItem)
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items
}

// load reads a session file. Read, Pending and ReadAllItems call it without
// q.mu; if two callers race to back up the same corrupt file, the losing
// rename fails and is only logged.
func (q *Queue) load(ctx context.Context, sessionID string) []Event {
	var events []Event
	res := filestore.Load(q.path(sessionID), &events, filestore.LoadOptions{Validate: validateEvents, Now: q.now})
	switch res.Status {
	case filestore.Loaded:
		return events
	case filestore.Missing:
		return nil
	case filestore.Corrupt:
		q.metrics.CorruptBackup(ctx, "outbox")
		q.logger.Warn("outbox file corrupt, treating as empty",
			"session_id", sessionID,
			"backup", res.BackupPath,
			"trace_id", shared.TraceID(ctx),
			"error", res.Err,
		)
		if res.BackupPath != "" {
			q.bus.Publish(bus.TopicStoreCorrupt, bus.StoreCorruptEvent{Path: q.path(sessionID), BackupPath: res.BackupPath})
		}
	default:
		q.logger.Warn("outbox file unreadable, treating as empty", "session_id", sessionID, "error", res.Err)
	}
	return nil
}
