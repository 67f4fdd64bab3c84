package persistence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
)

// AgentLaunchContext is the last known work scope of one agent.
type AgentLaunchContext struct {
	AgentID         string    `json:"agentId"`
	InitiativeID    string    `json:"initiativeId,omitempty"`
	InitiativeTitle string    `json:"initiativeTitle,omitempty"`
	WorkstreamID    string    `json:"workstreamId,omitempty"`
	TaskID          string    `json:"taskId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AgentContextState is the on-disk shape of agent-contexts.json.
type AgentContextState struct {
	UpdatedAt time.Time                     `json:"updatedAt"`
	Agents    map[string]AgentLaunchContext `json:"agents"`
}

// ReadAgentContexts returns every stored context.
func (s *Store) ReadAgentContexts(ctx context.Context) AgentContextState {
	var raw AgentContextState
	if !s.load(ctx, AgentContextsFile, &raw, nil) {
		return AgentContextState{Agents: map[string]AgentLaunchContext{}}
	}
	state := AgentContextState{UpdatedAt: raw.UpdatedAt, Agents: make(map[string]AgentLaunchContext, len(raw.Agents))}
	for key, c := range raw.Agents {
		c.AgentID = firstNonEmpty(strings.TrimSpace(c.AgentID), strings.TrimSpace(key))
		if c.AgentID == "" {
			continue
		}
		state.Agents[c.AgentID] = c
	}
	return state
}

// GetAgentContext returns the context for agentID, or nil.
func (s *Store) GetAgentContext(ctx context.Context, agentID string) *AgentLaunchContext {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil
	}
	c, ok := s.ReadAgentContexts(ctx).Agents[agentID]
	if !ok {
		return nil
	}
	return &c
}

// UpsertAgentContext replaces the context stored for c.AgentID and prunes
// the collection to MaxAgents by UpdatedAt. A blank AgentID is a no-op.
func (s *Store) UpsertAgentContext(ctx context.Context, c AgentLaunchContext) (AgentContextState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.ReadAgentContexts(ctx)
	c.AgentID = strings.TrimSpace(c.AgentID)
	if c.AgentID == "" {
		return state, nil
	}
	now := s.timestamp()
	c.InitiativeID = strings.TrimSpace(c.InitiativeID)
	c.InitiativeTitle = strings.TrimSpace(c.InitiativeTitle)
	c.WorkstreamID = strings.TrimSpace(c.WorkstreamID)
	c.TaskID = strings.TrimSpace(c.TaskID)
	c.UpdatedAt = now

	state.Agents[c.AgentID] = c
	state.UpdatedAt = now
	pruneContexts(state.Agents, MaxAgents)

	if err := s.write(ctx, AgentContextsFile, state); err != nil {
		return state, err
	}
	s.bus.Publish(bus.TopicAgentContextUpdated, bus.AgentContextEvent{
		AgentID:      c.AgentID,
		InitiativeID: c.InitiativeID,
		WorkstreamID: c.WorkstreamID,
		TaskID:       c.TaskID,
	})
	return state, nil
}

// ClearAgentContexts deletes agent-contexts.json. Failures are ignored.
func (s *Store) ClearAgentContexts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(AgentContextsFile)
}

func pruneContexts(agents map[string]AgentLaunchContext, limit int) {
	if len(agents) <= limit {
		return
	}
	all := make([]AgentLaunchContext, 0, len(agents))
	for _, c := range agents {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].AgentID < all[j].AgentID
	})
	for _, c := range all[limit:] {
		delete(agents, c.AgentID)
	}
}
