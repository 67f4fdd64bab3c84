package main

import (
	"context"
	"fmt"

	"github.com/useorgx/openclaw-plugin/internal/outbox"
)

func eventRows(events []outbox.Event) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		title := "-"
		if ev.ActivityItem != nil {
			title = orDash(ev.ActivityItem.Title)
		}
		rows = append(rows, []string{ev.ID, string(ev.Type), formatTime(ev.Timestamp), title})
	}
	return rows
}

func runOutboxCommand(ctx context.Context, args []string) int {
	action := "list"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}
	switch action {
	case "list":
		if len(args) > 1 {
			fmt.Fprintln(stderr, "usage: orgx-openclaw outbox list [session]")
			return 2
		}
		return withApp(ctx, func(a *app) int {
			sessions := a.outbox.Sessions()
			if len(args) == 1 {
				if err := outbox.ValidateSessionID(args[0]); err != nil {
					fmt.Fprintln(stderr, err)
					return 2
				}
				sessions = []string{args[0]}
			}
			if len(sessions) == 0 {
				fmt.Fprintln(stdout, "outbox empty")
				return 0
			}
			for _, id := range sessions {
				events, err := a.outbox.Read(ctx, id)
				if err != nil {
					fmt.Fprintf(stderr, "read %s: %v\n", id, err)
					return 1
				}
				fmt.Fprintf(stdout, "%s (%d)\n", heading(id), len(events))
				fmt.Fprint(stdout, renderTable([]string{"ID", "TYPE", "TIMESTAMP", "TITLE"}, eventRows(events)))
			}
			return 0
		})
	case "items":
		return withApp(ctx, func(a *app) int {
			items := a.outbox.ReadAllItems(ctx)
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					formatTime(it.Timestamp), string(it.Type), orDash(it.AgentID), orDash(it.InitiativeID), orDash(it.Title),
				})
			}
			fmt.Fprint(stdout, renderTable([]string{"TIMESTAMP", "TYPE", "AGENT", "INITIATIVE", "TITLE"}, rows))
			return 0
		})
	case "pending":
		return withApp(ctx, func(a *app) int {
			fmt.Fprintln(stdout, a.outbox.Pending(ctx))
			return 0
		})
	case "flush":
		return withApp(ctx, func(a *app) int {
			res, err := a.syncer.FlushOutbox(ctx)
			fmt.Fprintf(stdout, "delivered %d, dropped %d, remaining %d\n", res.Delivered, res.Dropped, res.Remaining)
			if err != nil {
				fmt.Fprintf(stderr, "flush: %v\n", err)
				return 1
			}
			return 0
		})
	case "clear":
		if len(args) != 1 {
			fmt.Fprintln(stderr, "usage: orgx-openclaw outbox clear <session>")
			return 2
		}
		return withApp(ctx, func(a *app) int {
			if err := a.outbox.Clear(args[0]); err != nil {
				fmt.Fprintf(stderr, "clear: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "cleared %s\n", args[0])
			return 0
		})
	default:
		fmt.Fprintf(stderr, "unknown outbox action %q (list, items, pending, flush, clear)\n", action)
		return 2
	}
}
