package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleGray   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// styledOutput reports whether stdout is a terminal worth drawing tables on.
// Pipes get tab-separated rows.
var styledOutput = func() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderTable draws rows as a bordered table on a terminal, or as
// tab-separated lines otherwise.
func renderTable(headers []string, rows [][]string) string {
	if !styledOutput() {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteByte('\n')
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		return b.String()
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleGray).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String() + "\n"
}

func heading(s string) string {
	if !styledOutput() {
		return "# " + s
	}
	return styleTitle.Render(s)
}

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "usage: orgx-openclaw status")
		return 2
	}
	return withApp(ctx, func(a *app) int {
		state := "not configured"
		if a.cfg.Configured() {
			state = "configured (" + a.cfg.BaseURL + ")"
		}
		fmt.Fprintf(stdout, "%s %s\n\n", heading("OrgX:"), state)

		snap := a.store.ReadPersistedSnapshot(ctx)
		if snap == nil {
			fmt.Fprintln(stdout, styleGray.Render("No cached snapshot yet; run `orgx-openclaw sync`."))
		} else {
			fmt.Fprintf(stdout, "%s (cached %s)\n", heading("Initiatives"), snap.UpdatedAt)
			rows := make([][]string, 0, len(snap.Snapshot.Initiatives))
			for _, in := range snap.Snapshot.Initiatives {
				rows = append(rows, []string{in.ID, in.Title, in.Status, strconv.Itoa(in.Progress) + "%"})
			}
			fmt.Fprint(stdout, renderTable([]string{"ID", "TITLE", "STATUS", "PROGRESS"}, rows))
			fmt.Fprintf(stdout, "%d active task(s), %d pending decision(s), %d agent(s)\n\n",
				len(snap.Snapshot.ActiveTasks), len(snap.Snapshot.PendingDecisions), len(snap.Snapshot.Agents))
		}

		runs := a.store.ListAgentRuns(ctx)
		fmt.Fprintln(stdout, heading("Agent runs"))
		fmt.Fprint(stdout, renderTable(runHeaders, runRows(runs, 10)))

		pins := a.store.ReadNextUpQueue(ctx).Pins
		fmt.Fprintln(stdout, heading("Next up"))
		fmt.Fprint(stdout, renderTable(pinHeaders, pinRows(pins)))

		if n := a.outbox.Pending(ctx); n > 0 {
			fmt.Fprintln(stdout, styleWarn.Render(fmt.Sprintf("%d event(s) waiting in the outbox", n)))
		} else {
			fmt.Fprintln(stdout, styleGray.Render("Outbox empty"))
		}
		return 0
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
