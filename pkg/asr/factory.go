package asr

import (
	"fmt"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
)

// FromConfig builds the provider selected by STT_PROVIDER.
func FromConfig(cfg config.STTConfig, openAIBaseURL string) (Provider, error) {
	whisper := func() (Provider, error) {
		return NewWhisperProvider(WhisperConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: openAIBaseURL, Model: cfg.Model})
	}
	scribe := func() (Provider, error) {
		return NewScribeProvider(ScribeConfig{APIKey: cfg.ElevenLabsAPIKey})
	}

	switch cfg.Provider {
	case "", "whisper":
		return whisper()
	case "elevenlabs":
		return scribe()
	case "hybrid":
		w, err := whisper()
		if err != nil {
			return nil, err
		}
		s, err := scribe()
		if err != nil {
			return nil, err
		}
		return NewHybridProvider(w, s)
	default:
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("unknown STT provider %q", cfg.Provider)}
	}
}
