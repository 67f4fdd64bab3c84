package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
)

func TestUpsertAgentRun_RoundTrip(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()
	sub := b.Subscribe("agent.run.")
	defer b.Unsubscribe(sub)

	_, err := s.UpsertAgentRun(ctx, AgentRun{
		RunID:        " r1 ",
		AgentID:      "a1",
		PID:          4242,
		Message:      "ship the docs",
		Provider:     "anthropic",
		InitiativeID: "i1",
	})
	if err != nil {
		t.Fatalf("UpsertAgentRun: %v", err)
	}

	got := s.GetAgentRun(ctx, "r1")
	if got == nil {
		t.Fatal("run not found")
	}
	if got.RunID != "r1" || got.AgentID != "a1" || got.Status != RunRunning {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.StartedAt.IsZero() {
		t.Fatal("StartedAt not stamped")
	}
	assertMode(t, filepath.Join(s.Dir(), AgentRunsFile), 0o600)

	ev := <-sub.Ch()
	if ev.Topic != bus.TopicAgentRunUpserted {
		t.Fatalf("topic = %q", ev.Topic)
	}
}

func TestUpsertAgentRun_MergePreservesOmittedFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertAgentRun(ctx, AgentRun{RunID: "r1", AgentID: "a1", PID: 7, Model: "m1", TaskID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	startedAt := first.Runs["r1"].StartedAt

	if _, err := s.MarkAgentRunStopped(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	state, err := s.UpsertAgentRun(ctx, AgentRun{RunID: "r1", AgentID: "a1", Message: "follow-up"})
	if err != nil {
		t.Fatal(err)
	}

	got := state.Runs["r1"]
	if !got.StartedAt.Equal(startedAt) {
		t.Fatalf("StartedAt changed: %v -> %v", startedAt, got.StartedAt)
	}
	if got.Status != RunStopped || got.StoppedAt == nil {
		t.Fatalf("stop state lost: %+v", got)
	}
	if got.PID != 7 || got.Model != "m1" || got.TaskID != "t1" || got.Message != "follow-up" {
		t.Fatalf("merge lost fields: %+v", got)
	}
	if !state.UpdatedAt.After(*got.StoppedAt) {
		t.Fatalf("UpdatedAt did not advance: %v", state.UpdatedAt)
	}
}

func TestUpsertAgentRun_RestartClearsStoppedAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertAgentRun(ctx, AgentRun{RunID: "r1", AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkAgentRunStopped(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		run  AgentRun
	}{
		{name: "explicit_running", run: AgentRun{RunID: "r1", AgentID: "a1", Status: RunRunning}},
		{name: "unknown_status_normalized", run: AgentRun{RunID: "r1", AgentID: "a1", Status: "booting"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state, err := s.UpsertAgentRun(ctx, tc.run)
			if err != nil {
				t.Fatal(err)
			}
			got := state.Runs["r1"]
			if got.Status != RunRunning || got.StoppedAt != nil {
				t.Fatalf("restarted run = status %q stoppedAt %v", got.Status, got.StoppedAt)
			}
			if _, err := s.MarkAgentRunStopped(ctx, "r1"); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestUpsertAgentRun_BlankKeysAreNoop(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, run := range []AgentRun{{AgentID: "a1"}, {RunID: "r1"}, {RunID: "  ", AgentID: "a1"}} {
		if _, err := s.UpsertAgentRun(ctx, run); err != nil {
			t.Fatalf("UpsertAgentRun(%+v): %v", run, err)
		}
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), AgentRunsFile)); !os.IsNotExist(err) {
		t.Fatalf("blank keys should not write, stat err = %v", err)
	}
	if s.GetAgentRun(ctx, "") != nil || s.GetAgentRun(ctx, "   ") != nil {
		t.Fatal("blank id should return nil")
	}
}

func TestMarkAgentRunStopped(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		got, err := s.MarkAgentRunStopped(ctx, "nope")
		if err != nil || got != nil {
			t.Fatalf("got %+v, %v", got, err)
		}
		if _, err := os.Stat(filepath.Join(s.Dir(), AgentRunsFile)); !os.IsNotExist(err) {
			t.Fatalf("unknown id created a file, stat err = %v", err)
		}
	})

	t.Run("known id", func(t *testing.T) {
		if _, err := s.UpsertAgentRun(ctx, AgentRun{RunID: "r1", AgentID: "a1", Provider: "p"}); err != nil {
			t.Fatal(err)
		}
		sub := b.Subscribe(bus.TopicAgentRunStopped)
		defer b.Unsubscribe(sub)

		got, err := s.MarkAgentRunStopped(ctx, "r1")
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.Status != RunStopped || got.StoppedAt == nil || got.Provider != "p" {
			t.Fatalf("unexpected stopped run: %+v", got)
		}
		if stored := s.GetAgentRun(ctx, "r1"); stored.Status != RunStopped {
			t.Fatalf("stored status = %q", stored.Status)
		}
		select {
		case <-sub.Ch():
		default:
			t.Fatal("no stop event")
		}
	})
}

func TestUpsertAgentRun_PrunesToMaxRuns(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	total := MaxRuns + 15
	for i := 0; i < total; i++ {
		run := AgentRun{
			RunID:     fmt.Sprintf("r%03d", i),
			AgentID:   "a1",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.UpsertAgentRun(ctx, run); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	runs := s.ListAgentRuns(ctx)
	if len(runs) != MaxRuns {
		t.Fatalf("len = %d, want %d", len(runs), MaxRuns)
	}
	if runs[0].RunID != fmt.Sprintf("r%03d", total-1) {
		t.Fatalf("newest first violated: %s", runs[0].RunID)
	}
	for i := 0; i < total-MaxRuns; i++ {
		if s.GetAgentRun(ctx, fmt.Sprintf("r%03d", i)) != nil {
			t.Fatalf("oldest run r%03d should have been pruned", i)
		}
	}
}

func TestReadAgentRuns_NormalizesDiskRecords(t *testing.T) {
	s, _ := newTestStore(t)
	raw := `{"updatedAt":"2026-01-01T00:00:00Z","runs":{
  "r1":{"agentId":"a1","startedAt":"2026-01-01T00:00:00Z","status":"weird"},
  "r2":{"runId":"r2","startedAt":"2026-01-01T00:00:00Z"},
  "r3":{"runId":"r3","agentId":"a3","startedAt":"2026-01-01T00:00:00Z","stoppedAt":"2026-01-01T01:00:00Z"}
}}`
	if err := os.WriteFile(filepath.Join(s.Dir(), AgentRunsFile), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	state := s.ReadAgentRuns(context.Background())
	if len(state.Runs) != 2 {
		t.Fatalf("expected record without agentId dropped, got %v", state.Runs)
	}
	if r := state.Runs["r1"]; r.RunID != "r1" || r.Status != RunRunning {
		t.Fatalf("r1 = %+v", r)
	}
	if r := state.Runs["r3"]; r.Status != RunStopped {
		t.Fatalf("r3 = %+v", r)
	}
}

func TestClearAgentRuns(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertAgentRun(ctx, AgentRun{RunID: "r1", AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}
	s.ClearAgentRuns()
	if got := s.ListAgentRuns(ctx); len(got) != 0 {
		t.Fatalf("expected no runs, got %d", len(got))
	}
	s.ClearAgentRuns()
}
