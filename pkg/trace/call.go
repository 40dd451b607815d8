package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentCall creates the root span of a phone call.
func InstrumentCall(ctx context.Context, callSid, streamSid string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call",
		trace.WithAttributes(CallAttrs(callSid, streamSid)...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// InstrumentTurn creates a span for one pass through the conversation graph.
func InstrumentTurn(ctx context.Context, callSid string) (context.Context, trace.Span) {
	return StartSpan(ctx, "turn",
		trace.WithAttributes(attribute.String(AttrCallSID, callSid)),
	)
}

// InstrumentNode creates a span for one graph node.
func InstrumentNode(ctx context.Context, node string) (context.Context, trace.Span) {
	return StartSpan(ctx, "node."+node,
		trace.WithAttributes(attribute.String(AttrTurnNode, node)),
	)
}
