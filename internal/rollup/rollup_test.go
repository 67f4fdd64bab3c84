package rollup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassifyTaskState(t *testing.T) {
	tests := []struct {
		in   string
		want TaskState
	}{
		{"done", StateDone},
		{"  Completed ", StateDone},
		{"CANCELLED", StateDone},
		{"canceled", StateDone},
		{"archived", StateDone},
		{"deleted", StateDone},
		{"blocked", StateBlocked},
		{"At_Risk", StateBlocked},
		{"in_progress", StateActive},
		{"active", StateActive},
		{"running", StateActive},
		{"queued", StateActive},
		{"retry_pending", StateActive},
		{"todo", StateTodo},
		{"", StateTodo},
		{"in progress", StateTodo},
		{"whatever", StateTodo},
	}
	for _, tt := range tests {
		if got := ClassifyTaskState(tt.in); got != tt.want {
			t.Errorf("ClassifyTaskState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarizeTaskStatuses(t *testing.T) {
	got := SummarizeTaskStatuses([]string{"done", "blocked", "running", "todo", "?", "completed"})
	want := Counts{Total: 6, Done: 2, Blocked: 1, Active: 1, Todo: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestProgressPct(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 0, 0},
		{3, -1, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{5, 5, 100},
		{7, 5, 100},
		{-2, 5, 0},
	}
	for _, tt := range tests {
		if got := ProgressPct(tt.done, tt.total); got != tt.want {
			t.Errorf("ProgressPct(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestComputeWorkstreamRollup(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     Rollup
	}{
		{"empty", nil, Rollup{Status: "not_started"}},
		{"all done", []string{"done", "done"}, Rollup{Status: "done", ProgressPct: 100, Counts: Counts{Total: 2, Done: 2}}},
		{"blocked beats done", []string{"blocked", "done"}, Rollup{Status: "blocked", ProgressPct: 50, Counts: Counts{Total: 2, Done: 1, Blocked: 1}}},
		{"active", []string{"active", "todo"}, Rollup{Status: "active", Counts: Counts{Total: 2, Active: 1, Todo: 1}}},
		{"blocked but moving", []string{"blocked", "running"}, Rollup{Status: "active", Counts: Counts{Total: 2, Blocked: 1, Active: 1}}},
		{"some done", []string{"done", "todo", "todo"}, Rollup{Status: "active", ProgressPct: 33, Counts: Counts{Total: 3, Done: 1, Todo: 2}}},
		{"only todo", []string{"todo", ""}, Rollup{Status: "not_started", Counts: Counts{Total: 2, Todo: 2}}},
		{
			"one blocked among many done",
			[]string{"done", "done", "done", "done", "blocked"},
			Rollup{Status: "blocked", ProgressPct: 80, Counts: Counts{Total: 5, Done: 4, Blocked: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ComputeWorkstreamRollup(tt.statuses)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeMilestoneRollup(t *testing.T) {
	tests := []struct {
		statuses []string
		want     string
	}{
		{nil, "planned"},
		{[]string{"completed", "cancelled"}, "completed"},
		{[]string{"at_risk", "done"}, "at_risk"},
		{[]string{"queued"}, "in_progress"},
		{[]string{"todo"}, "planned"},
	}
	for _, tt := range tests {
		if got := ComputeMilestoneRollup(tt.statuses).Status; got != tt.want {
			t.Errorf("ComputeMilestoneRollup(%v) = %q, want %q", tt.statuses, got, tt.want)
		}
	}
}
