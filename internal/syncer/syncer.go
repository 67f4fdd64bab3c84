// Package syncer moves data between the remote service and the local stores.
// A sync pass pulls the org view, caches it as the persisted snapshot, and
// pushes task rollups back onto workstreams and milestones. Reports made
// while the remote is unreachable go to the outbox and are flushed on the
// first successful pass afterwards.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/useorgx/openclaw-plugin/internal/audit"
	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/orgx"
	otelPkg "github.com/useorgx/openclaw-plugin/internal/otel"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/persistence"
	"github.com/useorgx/openclaw-plugin/internal/rollup"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

const defaultPushConcurrency = 4

// Config holds the dependencies for a Syncer.
type Config struct {
	Client  orgx.EntityClient // may be nil until an API key is configured
	Store   *persistence.Store
	Outbox  *outbox.Queue
	Bus     *bus.Bus
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
	// PushConcurrency bounds concurrent rollup updates; defaults to 4.
	PushConcurrency int
}

// Syncer coordinates the entity client with the local stores.
type Syncer struct {
	store   *persistence.Store
	outbox  *outbox.Queue
	bus     *bus.Bus
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelPkg.Metrics
	limit   int

	clientMu sync.RWMutex
	client   orgx.EntityClient

	online atomic.Bool
	passMu sync.Mutex // one sync pass at a time
}

// New creates a Syncer. It starts offline; the first successful pass flips
// it online and flushes anything left in the outbox.
func New(cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.ScopeName)
	}
	limit := cfg.PushConcurrency
	if limit <= 0 {
		limit = defaultPushConcurrency
	}
	return &Syncer{
		store:   cfg.Store,
		outbox:  cfg.Outbox,
		bus:     cfg.Bus,
		logger:  logger,
		tracer:  tracer,
		metrics: cfg.Metrics,
		limit:   limit,
		client:  cfg.Client,
	}
}

// SetClient swaps the entity client, e.g. after a config reload. A nil
// client puts the syncer offline.
func (s *Syncer) SetClient(c orgx.EntityClient) {
	s.clientMu.Lock()
	s.client = c
	s.clientMu.Unlock()
	if c == nil {
		s.online.Store(false)
	}
}

func (s *Syncer) entityClient() orgx.EntityClient {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.client
}

// Online reports whether the last remote interaction succeeded.
func (s *Syncer) Online() bool { return s.online.Load() }

// Result describes one sync pass.
type Result struct {
	Snapshot   orgx.OrgSnapshot
	FromCache  bool // remote fetch failed; Snapshot is the persisted copy
	Pushed     int  // rollup updates accepted by the remote
	PushFailed int
	Flushed    int // outbox events delivered after coming back online
}

type orgView struct {
	initiatives []orgx.Entity
	workstreams []orgx.Entity
	milestones  []orgx.Entity
	tasks       []orgx.Entity
	agents      []orgx.Entity
	decisions   []orgx.Entity
}

// SyncOnce runs one pass. When the remote cannot be read the syncer goes
// offline and the persisted snapshot (if any) is returned with the error.
func (s *Syncer) SyncOnce(ctx context.Context) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	ctx, span := otelPkg.StartSpan(ctx, s.tracer, "syncer.sync_once")
	defer span.End()
	started := time.Now()

	res, err := s.syncOnce(ctx)
	s.metrics.SyncPass(ctx, time.Since(started), err)
	if err != nil {
		otelPkg.Fail(span, err)
		s.logger.Warn("sync pass failed",
			"trace_id", shared.TraceID(ctx),
			"from_cache", res.FromCache,
			"error", shared.Redact(err.Error()),
		)
		return res, err
	}
	s.logger.Info("sync pass complete",
		"trace_id", shared.TraceID(ctx),
		"initiatives", len(res.Snapshot.Initiatives),
		"active_tasks", len(res.Snapshot.ActiveTasks),
		"pushed", res.Pushed,
		"push_failed", res.PushFailed,
		"flushed", res.Flushed,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *Syncer) syncOnce(ctx context.Context) (Result, error) {
	client := s.entityClient()
	if client == nil {
		s.online.Store(false)
		return s.cached(ctx), orgx.ErrNotConfigured
	}

	view, err := fetchView(ctx, client)
	if err != nil {
		s.online.Store(false)
		return s.cached(ctx), fmt.Errorf("syncer: fetch: %w", err)
	}
	wasOffline := !s.online.Swap(true)

	snap := buildSnapshot(view, time.Now().UTC())
	if _, err := s.store.WritePersistedSnapshot(ctx, snap); err != nil {
		return Result{Snapshot: snap}, fmt.Errorf("syncer: persist snapshot: %w", err)
	}
	res := Result{Snapshot: snap}
	res.Pushed, res.PushFailed = s.pushRollups(ctx, client, view)

	if wasOffline && s.outbox != nil {
		flushed, err := s.FlushOutbox(ctx)
		res.Flushed = flushed.Delivered
		if err != nil {
			s.logger.Warn("outbox flush after reconnect failed", "trace_id", shared.TraceID(ctx), "error", err)
		}
	}
	return res, nil
}

func (s *Syncer) cached(ctx context.Context) Result {
	if p := s.store.ReadPersistedSnapshot(ctx); p != nil {
		return Result{Snapshot: p.Snapshot, FromCache: true}
	}
	return Result{FromCache: true}
}

// fetchView lists everything a pass needs, concurrently. The first failure
// cancels the rest.
func fetchView(ctx context.Context, client orgx.EntityClient) (orgView, error) {
	var v orgView
	g, gctx := errgroup.WithContext(ctx)
	list := func(dst *[]orgx.Entity, entityType string, filters map[string]string) {
		g.Go(func() error {
			out, err := client.ListEntities(gctx, entityType, filters)
			if err != nil {
				return fmt.Errorf("list %s: %w", entityType, err)
			}
			*dst = out
			return nil
		})
	}
	list(&v.initiatives, orgx.TypeInitiative, nil)
	list(&v.workstreams, orgx.TypeWorkstream, nil)
	list(&v.milestones, orgx.TypeMilestone, nil)
	list(&v.tasks, orgx.TypeTask, nil)
	list(&v.agents, orgx.TypeAgent, nil)
	list(&v.decisions, orgx.TypeDecision, map[string]string{"status": "pending"})
	return v, g.Wait()
}

func buildSnapshot(v orgView, now time.Time) orgx.OrgSnapshot {
	snap := orgx.OrgSnapshot{
		Initiatives:      make([]orgx.Initiative, 0, len(v.initiatives)),
		Agents:           make([]orgx.Agent, 0, len(v.agents)),
		ActiveTasks:      []orgx.Task{},
		PendingDecisions: []orgx.Decision{},
		SyncedAt:         now,
	}
	for _, e := range v.initiatives {
		snap.Initiatives = append(snap.Initiatives, e.Initiative())
	}
	for _, e := range v.agents {
		snap.Agents = append(snap.Agents, e.Agent())
	}
	for _, e := range v.tasks {
		if rollup.ClassifyTaskState(e.Status) == rollup.StateActive {
			snap.ActiveTasks = append(snap.ActiveTasks, e.Task())
		}
	}
	for _, e := range v.decisions {
		if rollup.ClassifyTaskState(e.Status) != rollup.StateDone {
			snap.PendingDecisions = append(snap.PendingDecisions, e.Decision())
		}
	}
	return snap
}

type rollupUpdate struct {
	entityType string
	id         string
	rollup     rollup.Rollup
}

// planRollups returns updates for parents whose stored status or progress
// differs from what their tasks imply. Parents without tasks are left alone.
func planRollups(v orgView) []rollupUpdate {
	byWorkstream := map[string][]string{}
	byMilestone := map[string][]string{}
	for _, t := range v.tasks {
		if t.WorkstreamID != "" {
			byWorkstream[t.WorkstreamID] = append(byWorkstream[t.WorkstreamID], t.Status)
		}
		if t.MilestoneID != "" {
			byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t.Status)
		}
	}

	var updates []rollupUpdate
	check := func(entityType string, parents []orgx.Entity, statuses map[string][]string, compute func([]string) rollup.Rollup) {
		for _, p := range parents {
			children, ok := statuses[p.ID]
			if !ok {
				continue
			}
			r := compute(children)
			if p.Status == r.Status && p.Progress != nil && *p.Progress == r.ProgressPct {
				continue
			}
			updates = append(updates, rollupUpdate{entityType: entityType, id: p.ID, rollup: r})
		}
	}
	check(orgx.TypeWorkstream, v.workstreams, byWorkstream, rollup.ComputeWorkstreamRollup)
	check(orgx.TypeMilestone, v.milestones, byMilestone, rollup.ComputeMilestoneRollup)
	return updates
}

func (s *Syncer) pushRollups(ctx context.Context, client orgx.EntityClient, v orgView) (pushed, failed int) {
	updates := planRollups(v)
	if len(updates) == 0 {
		return 0, 0
	}
	var ok, bad atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, u := range updates {
		g.Go(func() error {
			pctx, span := otelPkg.StartSpan(gctx, s.tracer, "syncer.push_rollup", rollupAttrs(u)...)
			defer span.End()
			_, err := client.UpdateEntity(pctx, u.entityType, u.id, map[string]any{
				"status":   u.rollup.Status,
				"progress": u.rollup.ProgressPct,
			})
			if err != nil {
				otelPkg.Fail(span, err)
				bad.Add(1)
				s.logger.Warn("rollup push failed",
					"entity_type", u.entityType,
					"entity_id", u.id,
					"trace_id", shared.TraceID(ctx),
					"error", err,
				)
				return nil
			}
			ok.Add(1)
			s.metrics.RollupPushed(ctx, u.entityType, 1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// Report delivers ev for sessionID now if the remote is reachable, and queues
// it in the outbox otherwise. It reports whether the event was delivered.
func (s *Syncer) Report(ctx context.Context, sessionID string, ev outbox.Event) (bool, error) {
	if err := outbox.ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	if ev.ID == "" {
		ev.ID = shared.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ctx = shared.WithSessionID(ctx, sessionID)
	ctx, span := otelPkg.StartSpan(ctx, s.tracer, "syncer.report",
		otelPkg.AttrSessionID.String(sessionID),
		otelPkg.AttrEventType.String(string(ev.Type)),
	)
	defer span.End()

	client := s.entityClient()
	if client != nil && s.Online() {
		err := deliver(ctx, client, ev)
		if err == nil {
			return true, nil
		}
		if permanent(err) {
			otelPkg.Fail(span, err)
			audit.Record(audit.Entry{
				Action:    audit.ActionEventRejected,
				SessionID: sessionID,
				EventID:   ev.ID,
				Subject:   string(ev.Type),
				Reason:    err.Error(),
			})
			return false, fmt.Errorf("syncer: report: %w", err)
		}
		s.online.Store(false)
		s.logger.Warn("report failed, queueing in outbox",
			"session_id", sessionID,
			"event_id", ev.ID,
			"error", shared.Redact(err.Error()),
		)
	}
	if s.outbox == nil {
		return false, errors.New("syncer: report: offline and no outbox configured")
	}
	if _, err := s.outbox.Append(ctx, sessionID, ev); err != nil {
		return false, fmt.Errorf("syncer: queue event: %w", err)
	}
	return false, nil
}

// FlushResult summarizes an outbox flush.
type FlushResult struct {
	Delivered int
	Dropped   int // rejected by the remote as invalid; never retried
	Remaining int
}

// FlushOutbox delivers queued events session by session, oldest first. A
// transient failure stops the flush and leaves that event and everything
// after it queued, so order within a session is preserved.
func (s *Syncer) FlushOutbox(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	client := s.entityClient()
	if client == nil {
		return res, orgx.ErrNotConfigured
	}
	if s.outbox == nil {
		return res, nil
	}

	var flushErr error
	for _, sessionID := range s.outbox.Sessions() {
		events, err := s.outbox.Read(ctx, sessionID)
		if err != nil {
			continue
		}
		var done []outbox.Event
		for _, ev := range events {
			if flushErr != nil {
				break
			}
			err := deliver(shared.WithSessionID(ctx, sessionID), client, ev)
			switch {
			case err == nil:
				done = append(done, ev)
				res.Delivered++
			case permanent(err):
				s.logger.Warn("dropping outbox event rejected by remote",
					"session_id", sessionID,
					"event_id", ev.ID,
					"error", err,
				)
				audit.Record(audit.Entry{
					Action:    audit.ActionEventDropped,
					SessionID: sessionID,
					EventID:   ev.ID,
					Subject:   string(ev.Type),
					Reason:    err.Error(),
				})
				done = append(done, ev)
				res.Dropped++
			default:
				flushErr = fmt.Errorf("syncer: flush %s: %w", sessionID, err)
			}
		}
		remaining := len(events) - len(done)
		if len(done) > 0 {
			if remaining, err = s.outbox.Ack(ctx, sessionID, done...); err != nil {
				flushErr = errors.Join(flushErr, err)
			}
			s.bus.Publish(bus.TopicOutboxFlushed, bus.OutboxEvent{SessionID: sessionID, Remaining: remaining})
		}
		res.Remaining += remaining
	}

	failed := res.Dropped
	if flushErr != nil {
		failed++
	}
	s.metrics.OutboxFlush(ctx, res.Delivered, failed)
	if flushErr != nil {
		s.online.Store(false)
		return res, flushErr
	}
	return res, nil
}

// RecordLaunch stores a new agent run and the agent's launch scope. A blank
// RunID is generated; scope fields missing from launch are taken from run.
func (s *Syncer) RecordLaunch(ctx context.Context, run persistence.AgentRun, launch persistence.AgentLaunchContext) (persistence.AgentRun, error) {
	if strings.TrimSpace(run.RunID) == "" {
		run.RunID = shared.NewRunID()
	}
	run.Status = persistence.RunRunning
	run.StoppedAt = nil
	ctx = shared.WithRunID(shared.WithAgentID(ctx, run.AgentID), run.RunID)
	ctx, span := otelPkg.StartSpan(ctx, s.tracer, "syncer.record_launch", otelPkg.AttrRunID.String(run.RunID))
	defer span.End()

	state, err := s.store.UpsertAgentRun(ctx, run)
	if err != nil {
		return run, fmt.Errorf("syncer: record launch: %w", err)
	}
	stored, ok := state.Runs[strings.TrimSpace(run.RunID)]
	if !ok {
		return run, fmt.Errorf("syncer: record launch: run id and agent id are required")
	}

	launch.AgentID = stored.AgentID
	if launch.InitiativeID == "" {
		launch.InitiativeID = stored.InitiativeID
	}
	if launch.WorkstreamID == "" {
		launch.WorkstreamID = stored.WorkstreamID
	}
	if launch.TaskID == "" {
		launch.TaskID = stored.TaskID
	}
	if _, err := s.store.UpsertAgentContext(ctx, launch); err != nil {
		return stored, fmt.Errorf("syncer: record launch context: %w", err)
	}
	s.logger.Info("agent launch recorded",
		"run_id", stored.RunID,
		"agent_id", stored.AgentID,
		"initiative_id", launch.InitiativeID,
		"trace_id", shared.TraceID(ctx),
	)
	return stored, nil
}

// RecordStop marks a run stopped. Unknown runs return nil.
func (s *Syncer) RecordStop(ctx context.Context, runID string) (*persistence.AgentRun, error) {
	run, err := s.store.MarkAgentRunStopped(shared.WithRunID(ctx, runID), runID)
	if err != nil {
		return nil, fmt.Errorf("syncer: record stop: %w", err)
	}
	return run, nil
}

func deliver(ctx context.Context, client orgx.EntityClient, ev outbox.Event) error {
	if ev.Type == outbox.TypeChangeset {
		cs, err := changesetFromEvent(ev)
		if err != nil {
			return err
		}
		return client.ApplyChangeset(ctx, cs)
	}
	return client.EmitActivity(ctx, activityFromEvent(ev))
}

// errMalformedEvent marks events that can never be delivered.
var errMalformedEvent = errors.New("syncer: malformed event")

func changesetFromEvent(ev outbox.Event) (orgx.Changeset, error) {
	ops, ok := ev.Payload["operations"]
	if !ok {
		return orgx.Changeset{}, fmt.Errorf("%w: changeset %s has no operations", errMalformedEvent, ev.ID)
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return orgx.Changeset{}, fmt.Errorf("%w: changeset %s: %v", errMalformedEvent, ev.ID, err)
	}
	return orgx.Changeset{
		IdempotencyKey: ev.ID,
		InitiativeID:   payloadString(ev.Payload, "initiativeId", "initiative_id"),
		Operations:     raw,
	}, nil
}

func activityFromEvent(ev outbox.Event) orgx.Activity {
	a := orgx.Activity{
		ID:           ev.ID,
		Type:         string(ev.Type),
		Message:      payloadString(ev.Payload, "summary", "message"),
		InitiativeID: payloadString(ev.Payload, "initiativeId", "initiative_id"),
		AgentID:      payloadString(ev.Payload, "agentId", "agent_id"),
		Timestamp:    ev.Timestamp,
		Payload:      ev.Payload,
	}
	if item := ev.ActivityItem; item != nil {
		if a.Message == "" {
			a.Message = firstNonEmpty(item.Summary, item.Title)
		}
		a.InitiativeID = firstNonEmpty(a.InitiativeID, item.InitiativeID)
		a.AgentID = firstNonEmpty(a.AgentID, item.AgentID)
	}
	return a
}

// permanent reports errors that retrying later will not fix.
func permanent(err error) bool {
	if errors.Is(err, errMalformedEvent) {
		return true
	}
	var se *orgx.StatusError
	if errors.As(err, &se) {
		return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests
	}
	return false
}

func payloadString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func rollupAttrs(u rollupUpdate) []attribute.KeyValue {
	return []attribute.KeyValue{
		otelPkg.AttrEntityType.String(u.entityType),
		otelPkg.AttrEntityID.String(u.id),
	}
}
