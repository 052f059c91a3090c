package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "engram"

// StartExtractionSpan starts a span for one extraction pipeline run.
func StartExtractionSpan(ctx context.Context, sessionID, agentID, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "extraction",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("agent.id", agentID),
			attribute.String("user.id", userID),
		),
	)
}

// StartReflectSpan starts a span for a reflector maintenance pass.
func StartReflectSpan(ctx context.Context, userID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reflect",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("agent.id", agentID),
		),
	)
}
