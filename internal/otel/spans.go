package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/useorgx/openclaw-plugin/internal/shared"
)

// Span attribute keys.
var (
	AttrSessionID  = attribute.Key("orgx.outbox.session_id")
	AttrEventType  = attribute.Key("orgx.outbox.event_type")
	AttrEntityType = attribute.Key("orgx.entity.type")
	AttrEntityID   = attribute.Key("orgx.entity.id")
	AttrRunID      = attribute.Key("orgx.agent.run_id")
)

// StartSpan starts an internal span for local work such as a sync pass.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

// StartClientSpan starts a span around a call to the OrgX API.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// Fail marks span as errored. The description is redacted since remote
// errors can echo request headers.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	msg := shared.Redact(err.Error())
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
}
