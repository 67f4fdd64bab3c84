package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/useorgx/openclaw-plugin/internal/filestore"
)

// coalesceWindow folds the create and rename of one atomic save into a
// single reload.
const coalesceWindow = 100 * time.Millisecond

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes to config.yaml. It watches the config directory,
// since saves replace the file by rename and a file watch would go stale.
type Watcher struct {
	dir    string
	logger *slog.Logger
	events chan ReloadEvent
}

func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, logger: logger, events: make(chan ReloadEvent, 4)}
}

// Events is closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Start creates the config dir if needed and watches it until ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := filestore.EnsureDir(w.dir); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	var (
		pending *ReloadEvent
		flush   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isConfigSave(ev) {
				continue
			}
			if pending == nil {
				pending = &ReloadEvent{Path: ev.Name}
				flush = time.After(coalesceWindow)
			}
			pending.Op |= ev.Op
		case <-flush:
			w.logger.Info("config file changed", "path", pending.Path, "op", pending.Op.String())
			select {
			case w.events <- *pending:
			default:
				w.logger.Debug("config reload already queued")
			}
			pending, flush = nil, nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func isConfigSave(ev fsnotify.Event) bool {
	return filepath.Base(ev.Name) == FileName &&
		ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
