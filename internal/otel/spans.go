package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for engine spans.
var (
	AttrOwnerID     = attribute.Key("workmem.owner.id")
	AttrSessionID   = attribute.Key("workmem.session.id")
	AttrStoreName   = attribute.Key("workmem.store.name")
	AttrToolName    = attribute.Key("workmem.tool.name")
	AttrTriggerType = attribute.Key("workmem.trigger.type")
	AttrRecallDepth = attribute.Key("workmem.recall.depth")
	AttrResultCount = attribute.Key("workmem.search.results")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
