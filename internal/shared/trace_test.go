package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTraceID_DefaultDash(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}
	ctx := WithTraceID(context.Background(), "abc")
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestContextIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if SessionID(ctx) != "" || RunID(ctx) != "" || AgentID(ctx) != "" {
		t.Fatal("expected empty ids on bare context")
	}
	ctx = WithSessionID(ctx, "s1")
	ctx = WithRunID(ctx, "r1")
	ctx = WithAgentID(ctx, "a1")
	if got := SessionID(ctx); got != "s1" {
		t.Fatalf("session: got %q", got)
	}
	if got := RunID(ctx); got != "r1" {
		t.Fatalf("run: got %q", got)
	}
	if got := AgentID(ctx); got != "a1" {
		t.Fatalf("agent: got %q", got)
	}
}

func TestNewIDs_AreUUIDs(t *testing.T) {
	for _, id := range []string{NewTraceID(), NewRunID(), NewEventID()} {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("expected uuid, got %q: %v", id, err)
		}
	}
	if NewEventID() == NewEventID() {
		t.Fatal("expected distinct event ids")
	}
}
