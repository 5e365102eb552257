package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "svc", "v1", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	ctx, span := tr.StartWorkflowSpan(context.Background(), "process_order", "wf-1")
	span.End()
	if id := TraceID(ctx); id != "" {
		t.Errorf("TraceID() = %q, want empty for noop tracer", id)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewTracer_NoExporter(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "svc", "v1", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartWorkflowSpan(context.Background(), "process_order", "wf-1")
	RecordError(span, errors.New("boom"))
	span.End()
	if TraceID(ctx) == "" {
		t.Error("TraceID() is empty for a sampled span")
	}
}

func TestNewTracer_UnknownExporter(t *testing.T) {
	if _, err := NewTracer(TracingConfig{Enabled: true, Exporter: "zipkin"}, "svc", "v1", "test"); err == nil {
		t.Error("NewTracer() with unknown exporter succeeded")
	}
}
