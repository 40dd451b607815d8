package tts

import (
	"context"
	"fmt"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
)

// FromConfig builds the provider selected by TTS_PROVIDER.
func FromConfig(ctx context.Context, cfg config.TTSConfig, openAIBaseURL string) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		p := NewOpenAITTSProvider(OpenAITTSConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, Voice: cfg.Voice, BaseURL: openAIBaseURL})
		return p, p.ValidateConfig()
	case "elevenlabs":
		return NewElevenLabsHTTPTTSProvider(ElevenLabsHTTPTTSConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			VoiceID:      cfg.ElevenLabsVoice,
			LanguageCode: "fr",
		})
	case "google":
		return NewGoogleTTSProvider(ctx, GoogleTTSConfig{Language: cfg.GoogleLanguage})
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.Provider)
	}
}
