package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/orgx"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

type reportFlags struct {
	session    string
	eventType  string
	title      string
	summary    string
	initiative string
	agent      string
	payload    string
	sync       bool
}

// buildEvent turns report flags into an outbox event with its activity item.
func buildEvent(f reportFlags, now time.Time) (outbox.Event, error) {
	ev := outbox.Event{
		ID:        shared.NewEventID(),
		Type:      outbox.EventType(f.eventType),
		Timestamp: now.UTC(),
	}
	if ev.Type == "" {
		ev.Type = outbox.TypeProgress
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("%w: %q", outbox.ErrInvalidEventType, f.eventType)
	}
	if f.payload != "" {
		if err := json.Unmarshal([]byte(f.payload), &ev.Payload); err != nil {
			return ev, fmt.Errorf("parse -payload: %w", err)
		}
	}
	if f.title != "" || f.summary != "" {
		ev.ActivityItem = &outbox.ActivityItem{
			ID:           ev.ID,
			Type:         string(ev.Type),
			Title:        f.title,
			Summary:      f.summary,
			InitiativeID: f.initiative,
			AgentID:      f.agent,
			Timestamp:    ev.Timestamp,
		}
	}
	if f.initiative != "" || f.agent != "" {
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		if f.initiative != "" {
			ev.Payload["initiativeId"] = f.initiative
		}
		if f.agent != "" {
			ev.Payload["agentId"] = f.agent
		}
	}
	return ev, nil
}

func runReportCommand(ctx context.Context, args []string) int {
	var f reportFlags
	fs := newFlagSet("report")
	fs.StringVar(&f.session, "session", "", "outbox session id (required)")
	fs.StringVar(&f.eventType, "type", string(outbox.TypeProgress), "progress, decision, artifact, or changeset")
	fs.StringVar(&f.title, "title", "", "activity title")
	fs.StringVar(&f.summary, "summary", "", "activity summary")
	fs.StringVar(&f.initiative, "initiative", "", "initiative id")
	fs.StringVar(&f.agent, "agent", "", "agent id")
	fs.StringVar(&f.payload, "payload", "", "event payload as a JSON object")
	fs.BoolVar(&f.sync, "sync", false, "run a sync pass first so the event can be delivered directly")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := outbox.ValidateSessionID(f.session); err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 2
	}
	ev, err := buildEvent(f, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 2
	}

	return withApp(ctx, func(a *app) int {
		if f.sync {
			if _, err := a.syncer.SyncOnce(ctx); err != nil && !errors.Is(err, orgx.ErrNotConfigured) {
				a.logger.Warn("sync before report failed", "error", err)
			}
		}
		delivered, err := a.syncer.Report(ctx, f.session, ev)
		if err != nil {
			fmt.Fprintf(stderr, "report: %v\n", err)
			return 1
		}
		if delivered {
			fmt.Fprintf(stdout, "delivered %s\n", ev.ID)
		} else {
			fmt.Fprintf(stdout, "queued %s in outbox session %s\n", ev.ID, f.session)
		}
		return 0
	})
}
