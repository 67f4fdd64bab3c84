package otel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if p.TracerProvider != nil {
		t.Fatal("disabled provider should not build an SDK tracer provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_StdoutExporterWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{
		Enabled:        true,
		Exporter:       ExporterStdout,
		ServiceVersion: "v-test",
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("Init stdout: %v", err)
	}
	_, span := StartSpan(context.Background(), p.Tracer, "outbox.flush",
		AttrSessionID.String("s1"),
		AttrEventType.String("progress"),
	)
	span.End()
	_, client := StartClientSpan(context.Background(), p.Tracer, "orgx.list_entities",
		AttrEntityType.String("task"),
	)
	client.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"outbox.flush", "orgx.list_entities", "orgx.outbox.session_id", "v-test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: ExporterNone, SampleRate: 0.5})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())
	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("expected unknown exporter error, got %v", err)
	}
}

func TestProvider_NilShutdown(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil provider shutdown: %v", err)
	}
}

func TestFail_RedactsDescription(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: ExporterStdout, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	_, span := StartClientSpan(context.Background(), p.Tracer, "orgx.emit_activity")
	Fail(span, errors.New("status 401: Bearer abcdefghijklmnopqrstuvwxyz"))
	Fail(span, nil)
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Fatalf("exported span leaks token:\n%s", out)
	}
	if !strings.Contains(out, "Bearer [REDACTED]") {
		t.Fatalf("expected redacted error on span:\n%s", out)
	}
}
