package main

import (
	"context"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/config"
	"github.com/useorgx/openclaw-plugin/internal/syncer"
)

func runDaemonCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("daemon")
	quiet := fs.Bool("quiet", false, "log to the log file only")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := openApp(ctx, *quiet)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}
	defer a.Close()
	logger := a.logger

	sched, err := syncer.NewScheduler(syncer.SchedulerConfig{
		Syncer:   a.syncer,
		Logger:   logger.With("component", "scheduler"),
		Schedule: a.cfg.SyncSchedule,
	})
	if err != nil {
		logger.Error("startup failure", "reason_code", "E_SCHEDULE", "error", err)
		return 1
	}

	if err := a.outbox.Watch(ctx); err != nil {
		logger.Warn("outbox watcher unavailable", "dir", a.outbox.Dir(), "error", err)
	}
	confWatcher := config.NewWatcher(a.cfg.ConfigDir, logger.With("component", "config"))
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}

	sub := a.bus.Subscribe("")
	defer a.bus.Unsubscribe(sub)

	confEvents := confWatcher.Events()
	sched.Start(ctx)
	logger.Info("daemon started",
		"version", Version,
		"config_dir", a.cfg.ConfigDir,
		"outbox_dir", a.outbox.Dir(),
		"schedule", a.cfg.SyncSchedule,
		"configured", a.cfg.Configured(),
	)

	for {
		select {
		case <-ctx.Done():
			sched.Stop()
			logger.Info("daemon stopped", "bus_events_dropped", sub.Dropped())
			return 0
		case ev, ok := <-confEvents:
			if !ok {
				confEvents = nil
				continue
			}
			logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			if next := a.reload(ctx, sched); next != nil {
				sched = next
			}
		case ev := <-sub.Ch():
			logBusEvent(a, ev)
		}
	}
}

// reload re-reads config.yaml. The entity client is rebuilt only when the
// settings it depends on changed; a new schedule replaces the scheduler,
// which is returned.
func (a *app) reload(ctx context.Context, sched *syncer.Scheduler) *syncer.Scheduler {
	cfg, err := config.LoadFrom(a.cfg.ConfigDir)
	if err != nil {
		a.logger.Error("config.yaml reload failed; keeping previous config", "error", err)
		return nil
	}
	prev := a.cfg
	a.cfg = cfg

	if cfg.Fingerprint() != prev.Fingerprint() {
		a.client = a.newClient(cfg)
		a.syncer.SetClient(entityClient(a.client))
		a.logger.Info("entity client reloaded", "configured", cfg.Configured(), "base_url", cfg.BaseURL)
	}
	if cfg.OutboxDir != prev.OutboxDir {
		a.logger.Warn("outbox_dir changed; restart the daemon to apply", "outbox_dir", cfg.OutboxDir)
	}
	if cfg.SyncSchedule == prev.SyncSchedule {
		return nil
	}
	next, err := syncer.NewScheduler(syncer.SchedulerConfig{
		Syncer:   a.syncer,
		Logger:   a.logger.With("component", "scheduler"),
		Schedule: cfg.SyncSchedule,
	})
	if err != nil {
		a.logger.Error("sync_schedule rejected; keeping previous schedule", "schedule", cfg.SyncSchedule, "error", err)
		a.cfg.SyncSchedule = prev.SyncSchedule
		return nil
	}
	sched.Stop()
	next.Start(ctx)
	a.logger.Info("sync schedule reloaded", "schedule", cfg.SyncSchedule)
	return next
}

func logBusEvent(a *app, ev bus.Event) {
	switch p := ev.Payload.(type) {
	case bus.StoreCorruptEvent:
		a.logger.Warn("corrupt file moved aside", "topic", ev.Topic, "path", p.Path, "backup", p.BackupPath)
	case bus.OutboxEvent:
		a.logger.Debug("outbox event", "topic", ev.Topic, "session_id", p.SessionID, "event_id", p.EventID, "remaining", p.Remaining)
	default:
		a.logger.Debug("bus event", "topic", ev.Topic)
	}
}
