// Package rollup derives milestone and workstream status from the statuses of
// their tasks. Everything here is pure.
package rollup

import (
	"math"
	"strings"
)

// TaskState is the bucket a raw task status falls into.
type TaskState string

const (
	StateDone    TaskState = "done"
	StateBlocked TaskState = "blocked"
	StateActive  TaskState = "active"
	StateTodo    TaskState = "todo"
)

var stateByStatus = map[string]TaskState{
	"done":          StateDone,
	"completed":     StateDone,
	"cancelled":     StateDone,
	"canceled":      StateDone,
	"archived":      StateDone,
	"deleted":       StateDone,
	"blocked":       StateBlocked,
	"at_risk":       StateBlocked,
	"in_progress":   StateActive,
	"active":        StateActive,
	"running":       StateActive,
	"queued":        StateActive,
	"retry_pending": StateActive,
}

// ClassifyTaskState maps a raw status string to its bucket. Matching ignores
// case and surrounding space; anything unrecognized is todo.
func ClassifyTaskState(status string) TaskState {
	if s, ok := stateByStatus[strings.ToLower(strings.TrimSpace(status))]; ok {
		return s
	}
	return StateTodo
}

// Counts tallies tasks per bucket.
type Counts struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Blocked int `json:"blocked"`
	Active  int `json:"active"`
	Todo    int `json:"todo"`
}

// SummarizeTaskStatuses counts statuses by bucket.
func SummarizeTaskStatuses(statuses []string) Counts {
	var c Counts
	for _, s := range statuses {
		c.Total++
		switch ClassifyTaskState(s) {
		case StateDone:
			c.Done++
		case StateBlocked:
			c.Blocked++
		case StateActive:
			c.Active++
		default:
			c.Todo++
		}
	}
	return c
}

// ProgressPct is done/total as a rounded percentage in [0,100]. It is 0 when
// total is not positive.
func ProgressPct(done, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(done) / float64(total) * 100))
	return max(0, min(100, pct))
}

// Rollup is the derived status of a parent entity.
type Rollup struct {
	Status      string `json:"status"`
	ProgressPct int    `json:"progressPct"`
	Counts
}

// Milestone statuses.
const (
	MilestonePlanned    = "planned"
	MilestoneCompleted  = "completed"
	MilestoneAtRisk     = "at_risk"
	MilestoneInProgress = "in_progress"
)

// Workstream statuses.
const (
	WorkstreamNotStarted = "not_started"
	WorkstreamDone       = "done"
	WorkstreamBlocked    = "blocked"
	WorkstreamActive     = "active"
)

type vocabulary struct {
	idle, finished, stuck, moving string
}

var (
	milestoneWords  = vocabulary{MilestonePlanned, MilestoneCompleted, MilestoneAtRisk, MilestoneInProgress}
	workstreamWords = vocabulary{WorkstreamNotStarted, WorkstreamDone, WorkstreamBlocked, WorkstreamActive}
)

// ComputeMilestoneRollup derives a milestone status from its task statuses.
func ComputeMilestoneRollup(statuses []string) Rollup {
	return compute(SummarizeTaskStatuses(statuses), milestoneWords)
}

// ComputeWorkstreamRollup derives a workstream status from its task statuses.
func ComputeWorkstreamRollup(statuses []string) Rollup {
	return compute(SummarizeTaskStatuses(statuses), workstreamWords)
}

// compute applies the precedence rules in order. A blocked task with nothing
// active marks the parent stuck even when most siblings are done.
func compute(c Counts, v vocabulary) Rollup {
	r := Rollup{Counts: c, ProgressPct: ProgressPct(c.Done, c.Total)}
	switch {
	case c.Total == 0:
		r.Status = v.idle
	case c.Done == c.Total:
		r.Status = v.finished
	case c.Blocked > 0 && c.Active == 0:
		r.Status = v.stuck
	case c.Active > 0 || c.Done > 0:
		r.Status = v.moving
	default:
		r.Status = v.idle
	}
	return r
}
