// Package asr turns caller utterances into text.
//
// Providers transcribe one complete PCM16 buffer at a time; the Gateway in
// front of them rejects silent buffers, normalises the rest and filters the
// spurious transcripts some models produce on near-silence.
package asr

import (
	"context"
	"io"
	"time"
)

// RecognitionResult represents the output of speech recognition.
type RecognitionResult struct {
	// Text is the recognized text
	Text string

	// Confidence score (0.0-1.0) if available, otherwise -1
	Confidence float32

	// Language detected or used for recognition
	Language string

	// Duration of the provider call
	Duration time.Duration

	// Provider that produced the text
	Provider string

	Metadata map[string]interface{}
}

// AudioConfig specifies the audio format for recognition.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	Encoding      string // "pcm" for raw PCM16 LE, otherwise a container format
	BitsPerSample int
}

// TelephonyAudio is the format of buffers produced by the call leg.
var TelephonyAudio = AudioConfig{SampleRate: 8000, Channels: 1, Encoding: "pcm", BitsPerSample: 16}

// RecognitionConfig contains settings for speech recognition.
type RecognitionConfig struct {
	// Language code (e.g., "fr"); empty lets the provider detect it
	Language string

	// Model to use (provider-specific, e.g., "whisper-1")
	Model string

	// Prompt or context to guide the recognition (if supported)
	Prompt string

	// Temperature for sampling (Whisper specific, 0.0-1.0)
	Temperature float32
}

// Provider transcribes complete audio segments.
type Provider interface {
	// Name returns the provider name (e.g., "openai-whisper", "elevenlabs")
	Name() string

	// Recognize performs speech recognition on a complete audio segment.
	Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*RecognitionResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Error types for ASR operations
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeAuthenticationFailed
	ErrCodeQuotaExceeded
	ErrCodeNetworkError
	ErrCodeProviderError
)
