package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for TaskDeck spans.
var (
	AttrAgentID       = attribute.Key("taskdeck.agent.id")
	AttrSessionID     = attribute.Key("taskdeck.session.id")
	AttrCorrelationID = attribute.Key("taskdeck.correlation.id")
	AttrCommand       = attribute.Key("taskdeck.command")
	AttrAction        = attribute.Key("taskdeck.command.action")
	AttrTargetType    = attribute.Key("taskdeck.command.target_type")
	AttrErrorCode     = attribute.Key("taskdeck.error.code")
	AttrBatchSize     = attribute.Key("taskdeck.batch.size")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway, MCP).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
