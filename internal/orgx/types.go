package orgx

import (
	"encoding/json"
	"time"
)

// Entity type names understood by the remote service.
const (
	TypeInitiative = "initiative"
	TypeWorkstream = "workstream"
	TypeMilestone  = "milestone"
	TypeTask       = "task"
	TypeAgent      = "agent"
	TypeDecision   = "decision"
)

// Entity is the generic record returned by the entity API. Fields the plugin
// does not model are kept in Extra so updates can round-trip them.
type Entity struct {
	ID           string         `json:"id"`
	Type         string         `json:"type,omitempty"`
	Title        string         `json:"title,omitempty"`
	Status       string         `json:"status,omitempty"`
	InitiativeID string         `json:"initiative_id,omitempty"`
	WorkstreamID string         `json:"workstream_id,omitempty"`
	MilestoneID  string         `json:"milestone_id,omitempty"`
	AssigneeID   string         `json:"assignee_id,omitempty"`
	Progress     *int           `json:"progress,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
	Extra        map[string]any `json:"-"`
}

// OrgSnapshot is the full org view cached locally for offline display.
type OrgSnapshot struct {
	Initiatives      []Initiative `json:"initiatives"`
	Agents           []Agent      `json:"agents"`
	ActiveTasks      []Task       `json:"activeTasks"`
	PendingDecisions []Decision   `json:"pendingDecisions"`
	SyncedAt         time.Time    `json:"syncedAt"`
}

type Initiative struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	InitiativeID string `json:"initiativeId,omitempty"`
	TaskID       string `json:"taskId,omitempty"`
}

type Task struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	InitiativeID string `json:"initiativeId,omitempty"`
	WorkstreamID string `json:"workstreamId,omitempty"`
	MilestoneID  string `json:"milestoneId,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
}

type Decision struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	InitiativeID string `json:"initiativeId,omitempty"`
}

// Changeset is a batch of entity operations applied atomically remotely.
type Changeset struct {
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	InitiativeID   string          `json:"initiative_id,omitempty"`
	Operations     json.RawMessage `json:"operations"`
}

// Activity is a progress/decision/artifact report shown in the remote feed.
type Activity struct {
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Message      string         `json:"message,omitempty"`
	InitiativeID string         `json:"initiative_id,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Initiative converts an entity into its snapshot form.
func (e Entity) Initiative() Initiative {
	in := Initiative{ID: e.ID, Title: e.Title, Status: e.Status}
	if e.Progress != nil {
		in.Progress = *e.Progress
	}
	return in
}

func (e Entity) Agent() Agent {
	return Agent{ID: e.ID, Name: e.Title, Status: e.Status, InitiativeID: e.InitiativeID, TaskID: stringField(e.Extra, "task_id")}
}

func (e Entity) Task() Task {
	return Task{
		ID:           e.ID,
		Title:        e.Title,
		Status:       e.Status,
		InitiativeID: e.InitiativeID,
		WorkstreamID: e.WorkstreamID,
		MilestoneID:  e.MilestoneID,
		AgentID:      e.AssigneeID,
	}
}

func (e Entity) Decision() Decision {
	return Decision{ID: e.ID, Title: e.Title, Status: e.Status, InitiativeID: e.InitiativeID}
}

// UnmarshalJSON keeps unknown fields in Extra.
func (e *Entity) UnmarshalJSON(data []byte) error {
	type plain Entity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"id", "type", "title", "status", "initiative_id", "workstream_id", "milestone_id", "assignee_id", "progress", "updated_at"} {
		delete(all, k)
	}
	*e = Entity(p)
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
