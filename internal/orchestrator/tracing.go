// Tracing instrumentation for the engine.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ShayCichocki/taskloom/internal/orchestrator"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startRunSpan starts a span for a run or a resumed run.
func (e *Engine) startRunSpan(ctx context.Context, op, runID, userID string, tasks int) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "run."+op)
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.user", userID),
		attribute.Int("run.tasks", tasks),
	)
	return ctx, span
}

// endRunSpan ends the run span with its final status.
func (e *Engine) endRunSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("run.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// startGroupSpan starts a span for one execution group.
func (e *Engine) startGroupSpan(ctx context.Context, index int, ids []string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "group.dispatch")
	span.SetAttributes(
		attribute.Int("group.index", index),
		attribute.StringSlice("group.tasks", ids),
	)
	return ctx, span
}

// startTaskSpan starts a span for one task, covering any fallback attempt.
func (e *Engine) startTaskSpan(ctx context.Context, taskID, tool string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "task."+tool)
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.tool", tool),
	)
	return ctx, span
}

// endTaskSpan ends the task span with the outcome kind.
func (e *Engine) endTaskSpan(span trace.Span, res dispatchResult) {
	span.SetAttributes(
		attribute.String("task.outcome", string(res.outcome.Kind)),
		attribute.String("task.tool_used", res.tool),
		attribute.Bool("task.used_fallback", res.usedFallback),
	)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	span.End()
}
