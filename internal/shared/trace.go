package shared

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey indexes the correlation ids carried on a context.
type ctxKey int

const (
	traceKey ctxKey = iota
	sessionKey
	runKey
	agentKey
)

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, traceKey, traceID)
}

// TraceID returns the context's trace_id, or "-" so log lines always carry one.
func TraceID(ctx context.Context) string {
	if v := value(ctx, traceKey); v != "" {
		return v
	}
	return "-"
}

// WithSessionID tags the context with the outbox session being worked on.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return withValue(ctx, sessionKey, sessionID)
}

func SessionID(ctx context.Context) string { return value(ctx, sessionKey) }

// WithRunID tags the context with an agent run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withValue(ctx, runKey, runID)
}

func RunID(ctx context.Context) string { return value(ctx, runKey) }

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return withValue(ctx, agentKey, agentID)
}

func AgentID(ctx context.Context) string { return value(ctx, agentKey) }

// NewTraceID, NewRunID and NewEventID return random UUIDs.
func NewTraceID() string { return uuid.NewString() }

func NewRunID() string { return uuid.NewString() }

func NewEventID() string { return uuid.NewString() }
