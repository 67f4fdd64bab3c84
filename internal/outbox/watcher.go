package outbox

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/filestore"
)

// Watch publishes bus.TopicOutboxChanged whenever a session file in the
// outbox directory is written, created, renamed, or removed, including by
// other processes. It returns once the watch is set up; the loop runs until
// ctx is done.
func (q *Queue) Watch(ctx context.Context) error {
	if err := filestore.EnsureDir(q.dir); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(q.dir); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				sessionID, ok := sessionFromPath(ev.Name)
				if !ok {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				remaining := 0
				if events, err := q.Read(ctx, sessionID); err == nil {
					remaining = len(events)
				}
				q.bus.Publish(bus.TopicOutboxChanged, bus.OutboxEvent{SessionID: sessionID, Remaining: remaining})
				q.logger.Debug("outbox file changed", "session_id", sessionID, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				q.logger.Error("outbox watcher error", "error", err)
			}
		}
	}()
	return nil
}

// sessionFromPath maps a watched path back to its session id. Temp files and
// corrupt backups do not map.
func sessionFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, fileExt)
	if ValidateSessionID(id) != nil {
		return "", false
	}
	return id, true
}
