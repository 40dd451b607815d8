package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentLLMRequest creates a span for LLM requests
func InstrumentLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "llm.request",
		trace.WithAttributes(
			LLMAttrs(provider, model)...,
		),
	)
}

// InstrumentSTTRequest creates a span for STT (Speech-to-Text) requests
func InstrumentSTTRequest(ctx context.Context, provider string, audioSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stt.request",
		trace.WithAttributes(
			attribute.String(AttrSTTProvider, provider),
			attribute.Int(AttrAudioBytes, audioSize),
		),
	)
}

// InstrumentTTSRequest creates a span for TTS (Text-to-Speech) requests
func InstrumentTTSRequest(ctx context.Context, provider, voice, text string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tts.request",
		trace.WithAttributes(
			attribute.String(AttrTTSProvider, provider),
			attribute.String(AttrTTSVoice, voice),
			attribute.Int("text.length", len(text)),
		),
	)
}

// InstrumentRAGRequest creates a span for a call to the RAG service.
func InstrumentRAGRequest(ctx context.Context, operation, conversationID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "rag."+operation,
		trace.WithAttributes(
			attribute.String(AttrRAGOperation, operation),
			attribute.String(AttrRAGConversation, conversationID),
		),
	)
}

// InstrumentCRMRequest creates a span for a CRM REST call.
func InstrumentCRMRequest(ctx context.Context, operation, object string) (context.Context, trace.Span) {
	return StartSpan(ctx, "crm."+operation,
		trace.WithAttributes(
			attribute.String(AttrCRMOperation, operation),
			attribute.String(AttrCRMObject, object),
		),
	)
}

// InstrumentLeadSubmission creates a span for a lead API POST.
func InstrumentLeadSubmission(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, "lead.submit")
}
