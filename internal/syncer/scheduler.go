package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass every 30 seconds.
const DefaultSchedule = "@every 30s"

// cronParser accepts standard 5-field expressions plus descriptors such as
// "@every 1m" and "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// SchedulerConfig holds the dependencies for the sync scheduler.
type SchedulerConfig struct {
	Syncer   *Syncer
	Logger   *slog.Logger
	Schedule string // cron expression; defaults to DefaultSchedule
}

// Scheduler runs Syncer.SyncOnce on a cron schedule.
type Scheduler struct {
	syncer   *Syncer
	logger   *slog.Logger
	schedule cronlib.Schedule
	spec     string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses the schedule and returns a stopped Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("syncer: parse schedule %q: %w", spec, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{syncer: cfg.Syncer, logger: logger, schedule: sched, spec: spec}, nil
}

// Start runs a pass immediately and then on every scheduled time until ctx
// is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sync scheduler started", "schedule", s.spec)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)
	for {
		wait := time.Until(s.schedule.Next(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// tick runs one pass. Failures are logged by SyncOnce and retried on the next
// scheduled time.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = s.syncer.SyncOnce(ctx)
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(spec string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
