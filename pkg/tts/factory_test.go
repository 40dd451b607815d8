package tts

import (
	"context"
	"testing"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		p, err := FromConfig(context.Background(), config.TTSConfig{Provider: "openai", OpenAIAPIKey: "sk-test", Voice: "nova"}, "")
		require.NoError(t, err)
		assert.Equal(t, "nova", p.GetDefaultVoice())
	})

	t.Run("elevenlabs", func(t *testing.T) {
		p, err := FromConfig(context.Background(), config.TTSConfig{Provider: "elevenlabs", ElevenLabsAPIKey: "xi", ElevenLabsVoice: "v1"}, "")
		require.NoError(t, err)
		assert.Equal(t, "elevenlabs", p.Name())
	})

	t.Run("elevenlabs without key", func(t *testing.T) {
		_, err := FromConfig(context.Background(), config.TTSConfig{Provider: "elevenlabs"}, "")
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := FromConfig(context.Background(), config.TTSConfig{Provider: "espeak"}, "")
		assert.ErrorContains(t, err, "espeak")
	})
}
