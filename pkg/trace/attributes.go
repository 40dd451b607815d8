package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Call attributes
	AttrCallSID    = "call.sid"
	AttrStreamSID  = "stream.sid"
	AttrTurnLabel  = "turn.label"
	AttrTurnNode   = "turn.node"
	AttrAudioBytes = "audio.size"

	// AI/LLM attributes
	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMResponseType = "llm.response_type"

	// STT/TTS attributes
	AttrSTTProvider = "stt.provider"
	AttrTTSProvider = "tts.provider"
	AttrTTSVoice    = "tts.voice"

	// External services
	AttrRAGOperation    = "rag.operation"
	AttrRAGConversation = "rag.conversation_id"
	AttrCRMOperation    = "crm.operation"
	AttrCRMObject       = "crm.object"
	AttrHTTPStatus      = "http.status_code"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// CallAttrs creates attributes identifying a phone call.
func CallAttrs(callSid, streamSid string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallSID, callSid),
		attribute.String(AttrStreamSID, streamSid),
	}
}

// LLMAttrs creates attributes for LLM operations
func LLMAttrs(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	}
}

// ErrorAttrs creates attributes for errors
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
