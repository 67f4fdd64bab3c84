// Package audit keeps an append-only JSONL trail of actions that lose or
// change data outside the stores: outbox events dropped after a permanent
// rejection, and API key changes.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/filestore"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

const FileName = "audit.jsonl"

// Actions recorded in the trail.
const (
	ActionEventDropped  = "outbox.event_dropped"
	ActionEventRejected = "report.event_rejected"
	ActionKeySet        = "config.api_key_set"
	ActionKeyRemoved    = "config.api_key_removed"
)

type Entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	dropCount atomic.Int64
)

// Path returns the audit log path for a config dir.
func Path(dir string) string {
	return filepath.Join(dir, "logs", FileName)
}

// Init opens the audit log under dir. Until it is called Record only counts.
func Init(dir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	if err := filestore.EnsureDir(filepath.Join(dir, "logs")); err != nil {
		return err
	}
	f, err := os.OpenFile(Path(dir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filestore.FilePerm)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DropCount returns the number of dropped events recorded since startup.
func DropCount() int64 {
	return dropCount.Load()
}

// Record appends e with secrets redacted. Write failures are ignored.
func Record(e Entry) {
	if e.Action == ActionEventDropped {
		dropCount.Add(1)
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	e.Reason = shared.Redact(e.Reason)
	e.Subject = shared.Redact(e.Subject)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	b, err := json.Marshal(e)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
