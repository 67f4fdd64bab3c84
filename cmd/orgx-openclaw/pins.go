package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/useorgx/openclaw-plugin/internal/persistence"
)

var pinHeaders = []string{"#", "INITIATIVE", "WORKSTREAM", "TASK", "MILESTONE", "UPDATED"}

func pinRows(pins []persistence.NextUpPin) [][]string {
	rows := make([][]string, 0, len(pins))
	for i, p := range pins {
		rows = append(rows, []string{
			fmt.Sprint(i + 1), p.InitiativeID, p.WorkstreamID,
			orDash(p.PreferredTaskID), orDash(p.PreferredMilestoneID), formatTime(p.UpdatedAt),
		})
	}
	return rows
}

// parsePinKey parses "initiative/workstream".
func parsePinKey(s string) (persistence.PinKey, error) {
	initiative, workstream, ok := strings.Cut(s, "/")
	key := persistence.PinKey{InitiativeID: initiative, WorkstreamID: workstream}
	if !ok || !key.Valid() {
		return key, fmt.Errorf("invalid pin %q, want <initiative>/<workstream>", s)
	}
	return key, nil
}

func runPinsCommand(ctx context.Context, args []string) int {
	action := "list"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}
	switch action {
	case "list":
		return withApp(ctx, func(a *app) int {
			fmt.Fprint(stdout, renderTable(pinHeaders, pinRows(a.store.ReadNextUpQueue(ctx).Pins)))
			return 0
		})
	case "add":
		fs := newFlagSet("pins add")
		initiative := fs.String("initiative", "", "initiative id (required)")
		workstream := fs.String("workstream", "", "workstream id (required)")
		task := fs.String("task", "", "preferred task id")
		milestone := fs.String("milestone", "", "preferred milestone id")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if !(persistence.PinKey{InitiativeID: *initiative, WorkstreamID: *workstream}).Valid() {
			fmt.Fprintln(stderr, "pins add: -initiative and -workstream are required")
			return 2
		}
		return withApp(ctx, func(a *app) int {
			state, err := a.store.UpsertNextUpQueuePin(ctx, persistence.NextUpPin{
				InitiativeID:         *initiative,
				WorkstreamID:         *workstream,
				PreferredTaskID:      *task,
				PreferredMilestoneID: *milestone,
			})
			if err != nil {
				fmt.Fprintf(stderr, "pin: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "pinned %s (%d pin(s))\n", state.Pins[0].Key(), len(state.Pins))
			return 0
		})
	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: orgx-openclaw pins remove <initiative> <workstream>")
			return 2
		}
		return withApp(ctx, func(a *app) int {
			state, err := a.store.RemoveNextUpQueuePin(ctx, persistence.PinKey{InitiativeID: args[0], WorkstreamID: args[1]})
			if err != nil {
				fmt.Fprintf(stderr, "unpin: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "%d pin(s) remaining\n", len(state.Pins))
			return 0
		})
	case "order":
		keys := make([]persistence.PinKey, 0, len(args))
		for _, arg := range args {
			key, err := parsePinKey(arg)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return 2
			}
			keys = append(keys, key)
		}
		return withApp(ctx, func(a *app) int {
			state, err := a.store.SetNextUpQueuePinOrder(ctx, keys)
			if err != nil {
				fmt.Fprintf(stderr, "reorder: %v\n", err)
				return 1
			}
			fmt.Fprint(stdout, renderTable(pinHeaders, pinRows(state.Pins)))
			return 0
		})
	case "clear":
		return withApp(ctx, func(a *app) int {
			a.store.ClearNextUpQueue()
			fmt.Fprintln(stdout, "cleared next-up queue")
			return 0
		})
	default:
		fmt.Fprintf(stderr, "unknown pins action %q (list, add, remove, order, clear)\n", action)
		return 2
	}
}
