package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "foreman"

// StartRunSpan starts a span for one orchestrator run.
func StartRunSpan(ctx context.Context, runID, epicID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("epic.id", epicID),
		),
	)
}

// StartPhaseSpan starts a span for one execution phase.
func StartPhaseSpan(ctx context.Context, order int, parallel bool, items int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase",
		trace.WithAttributes(
			attribute.Int("phase.order", order),
			attribute.Bool("phase.parallel", parallel),
			attribute.Int("phase.items", items),
		),
	)
}

// StartAgentSpan starts a span for one agent session.
func StartAgentSpan(ctx context.Context, agentID, taskID, branch string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
			attribute.String("git.branch", branch),
		),
	)
}

// StartMergeSpan starts a span for one branch merge.
func StartMergeSpan(ctx context.Context, source, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "merge",
		trace.WithAttributes(
			attribute.String("merge.source", source),
			attribute.String("merge.target", target),
		),
	)
}
