package emit

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the spans an actor emits around
// step execution: one span per step attempt, tagged with the workflow and
// step identity so a trace backend can correlate retries.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer using the given instrumentation name,
// resolved against the globally configured TracerProvider.
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartStep opens a span for one step execution attempt. Callers must call
// the returned end function exactly once, passing the step's outcome.
func (t *Tracer) StartStep(ctx context.Context, workflowID, stepName string, attempt int) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.step", stepName),
			attribute.Int("workflow.attempt", attempt),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// StartWorkflow opens a span covering an entire workflow run, from start to
// terminal status.
func (t *Tracer) StartWorkflow(ctx context.Context, workflowID, definitionKey string) (context.Context, func(status string)) {
	ctx, span := t.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.definition_key", definitionKey),
		),
	)
	return ctx, func(status string) {
		span.SetAttributes(attribute.String("workflow.status", status))
		if status == "failed" {
			span.SetStatus(codes.Error, "workflow failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
