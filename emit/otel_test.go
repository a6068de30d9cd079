package emit

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer("workflow-engine-test"), exporter
}

func TestTracerStartWorkflowRecordsSpanWithAttributes(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	ctx, end := tracer.StartWorkflow(context.Background(), "wf-1", "order")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	end("completed")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "workflow.run" {
		t.Fatalf("expected span name workflow.run, got %s", spans[0].Name)
	}
	attrs := attrMap(spans[0].Attributes)
	if attrs["workflow.id"] != "wf-1" || attrs["workflow.definition_key"] != "order" {
		t.Fatalf("unexpected attributes: %+v", attrs)
	}
}

func TestTracerStartStepRecordsErrorStatus(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	_, end := tracer.StartStep(context.Background(), "wf-1", "validate", 2)
	end(errors.New("boom"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status.Code)
	}
	attrs := attrMap(spans[0].Attributes)
	if attrs["workflow.step"] != "validate" || attrs["workflow.attempt"] != int64(2) {
		t.Fatalf("unexpected attributes: %+v", attrs)
	}
}

func attrMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.AsInterface()
	}
	return m
}
