// Package tts turns assistant text into PCM16 speech.
package tts

import (
	"context"
	"fmt"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
)

// AudioFormat defines the audio format configuration
type AudioFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 24000, 16000)
	Channels   int    // Number of audio channels (1 for mono)
	Encoding   string // Audio encoding format (e.g., "pcm_s16le")
}

// SynthesizeRequest represents a request to synthesize speech
type SynthesizeRequest struct {
	Text     string  // Text to synthesize
	Voice    string  // Voice ID or name
	Language string  // Language code (e.g., "fr-FR")
	Speed    float64 // 0 keeps the provider default
}

// SynthesizeResponse represents the response from speech synthesis
type SynthesizeResponse struct {
	AudioData   []byte      // Raw PCM16 LE audio
	AudioFormat AudioFormat // Format of the audio data
}

// Provider defines the interface that all TTS services must implement.
type Provider interface {
	// Name returns the name of the TTS provider (e.g., "openai", "google", "elevenlabs")
	Name() string

	// Synthesize converts text to speech. Implementations return PCM16 LE mono.
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// GetDefaultVoice returns the default voice for this provider
	GetDefaultVoice() string

	// ValidateConfig returns an error if credentials or required settings are missing
	ValidateConfig() error
}

// StreamingProvider extends Provider with streaming capabilities.
type StreamingProvider interface {
	Provider

	// StreamSynthesize streams audio data as it's generated
	StreamSynthesize(ctx context.Context, req *SynthesizeRequest) (<-chan []byte, <-chan error)
}

// SynthesizeAt synthesizes text and resamples the result to sampleRate.
// Telephony callers pass 8000.
func SynthesizeAt(ctx context.Context, p Provider, text, voice, language string, sampleRate int) ([]byte, error) {
	if voice == "" {
		voice = p.GetDefaultVoice()
	}
	ctx, span := trace.InstrumentTTSRequest(ctx, p.Name(), voice, text)
	defer span.End()

	resp, err := p.Synthesize(ctx, &SynthesizeRequest{Text: text, Voice: voice, Language: language})
	if err != nil {
		trace.RecordError(span, err)
		return nil, fmt.Errorf("%s synthesis: %w", p.Name(), err)
	}
	if resp.AudioFormat.Encoding != "" && resp.AudioFormat.Encoding != "pcm_s16le" {
		return nil, fmt.Errorf("%s returned %s, want pcm_s16le", p.Name(), resp.AudioFormat.Encoding)
	}
	return audio.Resample(resp.AudioData, resp.AudioFormat.SampleRate, sampleRate), nil
}

func pcmFormat(sampleRate int) AudioFormat {
	return AudioFormat{SampleRate: sampleRate, Channels: 1, Encoding: "pcm_s16le"}
}
