package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for om spans.
var (
	AttrTranscript = attribute.Key("om.transcript")
	AttrEventName  = attribute.Key("om.event.name")
	AttrEventKind  = attribute.Key("om.event.kind")
	AttrSource     = attribute.Key("om.source")
	AttrRunID      = attribute.Key("om.run.id")
	AttrDecision   = attribute.Key("om.decision")
	AttrReason     = attribute.Key("om.reason")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for the compression subprocess invocation.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
