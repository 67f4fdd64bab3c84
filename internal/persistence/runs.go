package persistence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
)

// RunStatus is the lifecycle state of an agent launch.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunStopped RunStatus = "stopped"
)

// AgentRun records one agent launch made through the plugin.
type AgentRun struct {
	RunID        string     `json:"runId"`
	AgentID      string     `json:"agentId"`
	PID          int        `json:"pid,omitempty"`
	Message      string     `json:"message,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	InitiativeID string     `json:"initiativeId,omitempty"`
	WorkstreamID string     `json:"workstreamId,omitempty"`
	TaskID       string     `json:"taskId,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	StoppedAt    *time.Time `json:"stoppedAt,omitempty"`
	Status       RunStatus  `json:"status"`
}

// AgentRunState is the on-disk shape of agent-runs.json.
type AgentRunState struct {
	UpdatedAt time.Time           `json:"updatedAt"`
	Runs      map[string]AgentRun `json:"runs"`
}

// ReadAgentRuns returns every stored run. Never fails; a missing or corrupt
// file reads as no runs.
func (s *Store) ReadAgentRuns(ctx context.Context) AgentRunState {
	var raw AgentRunState
	if !s.load(ctx, AgentRunsFile, &raw, nil) {
		return AgentRunState{Runs: map[string]AgentRun{}}
	}
	state := AgentRunState{UpdatedAt: raw.UpdatedAt, Runs: make(map[string]AgentRun, len(raw.Runs))}
	for key, run := range raw.Runs {
		if norm, ok := normalizeRun(key, run); ok {
			state.Runs[norm.RunID] = norm
		}
	}
	return state
}

// GetAgentRun returns the run with runID, or nil.
func (s *Store) GetAgentRun(ctx context.Context, runID string) *AgentRun {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil
	}
	run, ok := s.ReadAgentRuns(ctx).Runs[runID]
	if !ok {
		return nil
	}
	return &run
}

// ListAgentRuns returns all runs, most recently started first.
func (s *Store) ListAgentRuns(ctx context.Context) []AgentRun {
	state := s.ReadAgentRuns(ctx)
	runs := make([]AgentRun, 0, len(state.Runs))
	for _, r := range state.Runs {
		runs = append(runs, r)
	}
	sortRunsNewestFirst(runs)
	return runs
}

// UpsertAgentRun merges run into the stored record with the same RunID.
// Zero-valued fields keep the stored value. Status and StoppedAt are kept
// together and only when run omits Status; a running result has no StoppedAt. A blank RunID or AgentID
// is a no-op that returns the current state. Write failures are returned.
func (s *Store) UpsertAgentRun(ctx context.Context, run AgentRun) (AgentRunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, _, err := s.upsertRunLocked(ctx, run)
	return state, err
}

func (s *Store) upsertRunLocked(ctx context.Context, run AgentRun) (AgentRunState, AgentRun, error) {
	state := s.ReadAgentRuns(ctx)
	run.RunID = strings.TrimSpace(run.RunID)
	run.AgentID = strings.TrimSpace(run.AgentID)
	if run.RunID == "" || run.AgentID == "" {
		return state, AgentRun{}, nil
	}

	now := s.timestamp()
	var prev *AgentRun
	if p, ok := state.Runs[run.RunID]; ok {
		prev = &p
	}
	merged := mergeRun(prev, run, now)
	state.Runs[merged.RunID] = merged
	state.UpdatedAt = now
	pruneRuns(state.Runs, MaxRuns)

	if err := s.write(ctx, AgentRunsFile, state); err != nil {
		return state, merged, err
	}
	s.bus.Publish(bus.TopicAgentRunUpserted, bus.AgentRunEvent{RunID: merged.RunID, AgentID: merged.AgentID, Status: string(merged.Status)})
	return state, merged, nil
}

// MarkAgentRunStopped flips a known run to stopped with StoppedAt=now. An
// unknown runID returns nil and touches nothing on disk.
func (s *Store) MarkAgentRunStopped(ctx context.Context, runID string) (*AgentRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.ReadAgentRuns(ctx).Runs[runID]
	if !ok {
		return nil, nil
	}
	stoppedAt := s.timestamp()
	existing.Status = RunStopped
	existing.StoppedAt = &stoppedAt

	_, merged, err := s.upsertRunLocked(ctx, existing)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TopicAgentRunStopped, bus.AgentRunEvent{RunID: merged.RunID, AgentID: merged.AgentID, Status: string(merged.Status)})
	return &merged, nil
}

// ClearAgentRuns deletes agent-runs.json. Failures are ignored.
func (s *Store) ClearAgentRuns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(AgentRunsFile)
}

func mergeRun(prev *AgentRun, in AgentRun, now time.Time) AgentRun {
	out := in
	out.Message = strings.TrimSpace(in.Message)
	out.Provider = strings.TrimSpace(in.Provider)
	out.Model = strings.TrimSpace(in.Model)
	out.InitiativeID = strings.TrimSpace(in.InitiativeID)
	out.WorkstreamID = strings.TrimSpace(in.WorkstreamID)
	out.TaskID = strings.TrimSpace(in.TaskID)

	if prev != nil {
		out.Message = firstNonEmpty(out.Message, prev.Message)
		out.Provider = firstNonEmpty(out.Provider, prev.Provider)
		out.Model = firstNonEmpty(out.Model, prev.Model)
		out.InitiativeID = firstNonEmpty(out.InitiativeID, prev.InitiativeID)
		out.WorkstreamID = firstNonEmpty(out.WorkstreamID, prev.WorkstreamID)
		out.TaskID = firstNonEmpty(out.TaskID, prev.TaskID)
		if out.PID == 0 {
			out.PID = prev.PID
		}
		if out.StartedAt.IsZero() {
			out.StartedAt = prev.StartedAt
		}
		if in.Status == "" {
			out.Status = prev.Status
			if out.StoppedAt == nil {
				out.StoppedAt = prev.StoppedAt
			}
		}
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = now
	}
	if out.Status != RunRunning && out.Status != RunStopped {
		out.Status = RunRunning
	}
	if out.Status == RunRunning {
		out.StoppedAt = nil
	}
	return out
}

// normalizeRun cleans a record read from disk. Records without an agent id
// are dropped.
func normalizeRun(key string, r AgentRun) (AgentRun, bool) {
	r.RunID = firstNonEmpty(strings.TrimSpace(r.RunID), strings.TrimSpace(key))
	r.AgentID = strings.TrimSpace(r.AgentID)
	if r.RunID == "" || r.AgentID == "" {
		return AgentRun{}, false
	}
	switch r.Status {
	case RunRunning, RunStopped:
	default:
		if r.StoppedAt != nil {
			r.Status = RunStopped
		} else {
			r.Status = RunRunning
		}
	}
	return r, true
}

func pruneRuns(runs map[string]AgentRun, limit int) {
	if len(runs) <= limit {
		return
	}
	all := make([]AgentRun, 0, len(runs))
	for _, r := range runs {
		all = append(all, r)
	}
	sortRunsNewestFirst(all)
	for _, r := range all[limit:] {
		delete(runs, r.RunID)
	}
}

func sortRunsNewestFirst(runs []AgentRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
