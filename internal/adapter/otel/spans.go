package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentopt"

// StartTaskSpan starts a span covering one task execution.
func StartTaskSpan(ctx context.Context, taskID, sessionID string, optimized bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("session.id", sessionID),
			attribute.Bool("task.optimized", optimized),
		),
	)
}

// StartCycleSpan starts a span for a background or forced cycle.
func StartCycleSpan(ctx context.Context, name string, forced bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cycle."+name,
		trace.WithAttributes(
			attribute.String("cycle.name", name),
			attribute.Bool("cycle.forced", forced),
		),
	)
}
