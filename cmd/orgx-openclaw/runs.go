package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/useorgx/openclaw-plugin/internal/persistence"
)

var runHeaders = []string{"RUN", "AGENT", "PID", "STATUS", "INITIATIVE", "TASK", "STARTED", "STOPPED"}

func runRows(runs []persistence.AgentRun, limit int) [][]string {
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		stopped := "-"
		if r.StoppedAt != nil {
			stopped = formatTime(*r.StoppedAt)
		}
		rows = append(rows, []string{
			r.RunID, r.AgentID, pidString(r.PID), string(r.Status), orDash(r.InitiativeID), orDash(r.TaskID),
			formatTime(r.StartedAt), stopped,
		})
	}
	return rows
}

func runRunsCommand(ctx context.Context, args []string) int {
	action := "list"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}
	switch action {
	case "list":
		return withApp(ctx, func(a *app) int {
			fmt.Fprint(stdout, renderTable(runHeaders, runRows(a.store.ListAgentRuns(ctx), 0)))
			return 0
		})
	case "contexts":
		return withApp(ctx, func(a *app) int {
			state := a.store.ReadAgentContexts(ctx)
			ids := make([]string, 0, len(state.Agents))
			for id := range state.Agents {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				c := state.Agents[id]
				rows = append(rows, []string{
					c.AgentID, orDash(c.InitiativeID), orDash(c.InitiativeTitle),
					orDash(c.WorkstreamID), orDash(c.TaskID), formatTime(c.UpdatedAt),
				})
			}
			fmt.Fprint(stdout, renderTable([]string{"AGENT", "INITIATIVE", "TITLE", "WORKSTREAM", "TASK", "UPDATED"}, rows))
			return 0
		})
	case "launch":
		return runLaunch(ctx, args)
	case "stop":
		if len(args) != 1 {
			fmt.Fprintln(stderr, "usage: orgx-openclaw runs stop <run-id>")
			return 2
		}
		return withApp(ctx, func(a *app) int {
			run, err := a.syncer.RecordStop(ctx, args[0])
			if err != nil {
				fmt.Fprintf(stderr, "stop: %v\n", err)
				return 1
			}
			if run == nil {
				fmt.Fprintf(stderr, "no run %q\n", args[0])
				return 1
			}
			fmt.Fprintf(stdout, "stopped %s (agent %s)\n", run.RunID, run.AgentID)
			return 0
		})
	case "clear":
		return withApp(ctx, func(a *app) int {
			a.store.ClearAgentRuns()
			a.store.ClearAgentContexts()
			fmt.Fprintln(stdout, "cleared agent runs and launch contexts")
			return 0
		})
	default:
		fmt.Fprintf(stderr, "unknown runs action %q (list, contexts, launch, stop, clear)\n", action)
		return 2
	}
}

func runLaunch(ctx context.Context, args []string) int {
	fs := newFlagSet("runs launch")
	runID := fs.String("run", "", "run id (generated when empty)")
	agentID := fs.String("agent", "", "agent id (required)")
	pid := fs.Int("pid", 0, "agent process id")
	message := fs.String("message", "", "launch message")
	provider := fs.String("provider", "", "model provider")
	model := fs.String("model", "", "model name")
	initiative := fs.String("initiative", "", "initiative id")
	initiativeTitle := fs.String("initiative-title", "", "initiative title")
	workstream := fs.String("workstream", "", "workstream id")
	task := fs.String("task", "", "task id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" {
		fmt.Fprintln(stderr, "runs launch: -agent is required")
		return 2
	}
	return withApp(ctx, func(a *app) int {
		run, err := a.syncer.RecordLaunch(ctx, persistence.AgentRun{
			RunID:        *runID,
			AgentID:      *agentID,
			PID:          *pid,
			Message:      *message,
			Provider:     *provider,
			Model:        *model,
			InitiativeID: *initiative,
			WorkstreamID: *workstream,
			TaskID:       *task,
		}, persistence.AgentLaunchContext{InitiativeTitle: *initiativeTitle})
		if err != nil {
			fmt.Fprintf(stderr, "launch: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, run.RunID)
		return 0
	})
}

func pidString(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}
