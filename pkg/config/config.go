// Package config loads the phone assistant configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	// Server
	Port      string
	StreamURL string

	LogLevel  string
	LogFormat string

	LLM   LLMConfig
	STT   STTConfig
	TTS   TTSConfig
	VAD   VADConfig
	Audio AudioConfig
	RAG   RAGConfig
	Lead  LeadConfig
	CRM   CRMConfig

	RedisURL string

	TraceExporter     string
	OTLPEndpoint      string
	Environment       string
	PrometheusEnabled bool
}

// LLMConfig selects the chat model used for routing and extraction.
type LLMConfig struct {
	Provider      string // openai | gemini
	Model         string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

// STTConfig selects the transcription provider(s).
type STTConfig struct {
	Provider         string // whisper | elevenlabs | hybrid
	Model            string
	Language         string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
}

// TTSConfig selects the speech synthesis provider.
type TTSConfig struct {
	Provider         string // openai | elevenlabs | google
	Voice            string
	Model            string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	GoogleLanguage   string
}

// VADConfig holds the utterance detector tunables.
type VADConfig struct {
	SpeechThreshold    float64
	MinAudioBytes      int
	MaxAudioBytes      int
	RequiredSilenceMs  int
	PreRollMs          int
	BargeInSensitivity float64
	BargeInTrigger     float64
	ModelPath          string
}

// AudioConfig tunes the outgoing audio manager.
type AudioConfig struct {
	ChunkDuration time.Duration
	SendInterval  time.Duration
	QueueSize     int
	HoldMusicFile string
}

// RAGConfig points at the external question answering service.
type RAGConfig struct {
	BaseURL       string
	StreamTimeout time.Duration
}

// LeadConfig points at the lead capture API.
type LeadConfig struct {
	URL    string
	APIKey string
}

// CRMConfig holds the Salesforce connection settings.
type CRMConfig struct {
	InstanceURL    string
	AuthURL        string
	APIVersion     string
	AuthMethod     string // jwt | password
	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	PrivateKeyFile string
	DefaultOwnerID string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	// a missing .env is normal in containers
	_ = godotenv.Load()

	openAIKey := os.Getenv("OPENAI_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")

	return &Config{
		Port:      getEnv("PORT", "8080"),
		StreamURL: os.Getenv("TWILIO_STREAM_URL"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		LLM: LLMConfig{
			Provider:      getEnv("LLM_PROVIDER", "openai"),
			Model:         getEnv("LLM_MODEL", "gpt-4o-mini"),
			OpenAIAPIKey:  openAIKey,
			OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
			GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		},
		STT: STTConfig{
			Provider:         getEnv("STT_PROVIDER", "whisper"),
			Model:            getEnv("STT_MODEL", "whisper-1"),
			Language:         getEnv("STT_LANGUAGE", "fr"),
			OpenAIAPIKey:     openAIKey,
			ElevenLabsAPIKey: elevenKey,
		},
		TTS: TTSConfig{
			Provider:         getEnv("TTS_PROVIDER", "openai"),
			Voice:            getEnv("TTS_VOICE", "nova"),
			Model:            getEnv("TTS_MODEL", "tts-1"),
			OpenAIAPIKey:     openAIKey,
			ElevenLabsAPIKey: elevenKey,
			ElevenLabsVoice:  getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
			GoogleLanguage:   getEnv("GOOGLE_TTS_LANGUAGE", "fr-FR"),
		},
		VAD: VADConfig{
			SpeechThreshold:    getEnvFloat("VAD_SPEECH_THRESHOLD", 250),
			MinAudioBytes:      getEnvInt("VAD_MIN_AUDIO_BYTES", 6400),
			MaxAudioBytes:      getEnvInt("VAD_MAX_AUDIO_BYTES", 150000),
			RequiredSilenceMs:  getEnvInt("VAD_REQUIRED_SILENCE_MS", 300),
			PreRollMs:          getEnvInt("VAD_PREROLL_MS", 0),
			BargeInSensitivity: getEnvFloat("VAD_BARGE_IN_SENSITIVITY", 0.8),
			BargeInTrigger:     getEnvFloat("VAD_BARGE_IN_TRIGGER", 1.2),
			ModelPath:          os.Getenv("VAD_MODEL_PATH"),
		},
		Audio: AudioConfig{
			ChunkDuration: getEnvDuration("AUDIO_CHUNK_DURATION", 500*time.Millisecond),
			SendInterval:  getEnvDuration("AUDIO_SEND_INTERVAL", 40*time.Millisecond),
			QueueSize:     getEnvInt("AUDIO_QUEUE_SIZE", 64),
			HoldMusicFile: os.Getenv("HOLD_MUSIC_FILE"),
		},
		RAG: RAGConfig{
			BaseURL:       strings.TrimRight(os.Getenv("RAG_API_BASE_URL"), "/"),
			StreamTimeout: getEnvDuration("RAG_STREAM_TIMEOUT", 120*time.Second),
		},
		Lead: LeadConfig{
			URL:    os.Getenv("LEAD_API_URL"),
			APIKey: os.Getenv("LEAD_API_KEY"),
		},
		CRM: CRMConfig{
			InstanceURL:    strings.TrimRight(os.Getenv("SALESFORCE_INSTANCE_URL"), "/"),
			AuthURL:        getEnv("SALESFORCE_AUTH_URL", "https://login.salesforce.com"),
			APIVersion:     getEnv("SALESFORCE_API_VERSION", "v60.0"),
			AuthMethod:     getEnv("SALESFORCE_AUTH_METHOD", "jwt"),
			ClientID:       os.Getenv("SALESFORCE_CLIENT_ID"),
			ClientSecret:   os.Getenv("SALESFORCE_CLIENT_SECRET"),
			Username:       os.Getenv("SALESFORCE_USERNAME"),
			Password:       os.Getenv("SALESFORCE_PASSWORD"),
			PrivateKeyFile: os.Getenv("SALESFORCE_PRIVATE_KEY_FILE"),
			DefaultOwnerID: os.Getenv("SALESFORCE_DEFAULT_OWNER_ID"),
		},

		RedisURL: os.Getenv("REDIS_URL"),

		TraceExporter:     getEnv("TRACE_EXPORTER", "none"),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", true),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missing []string
	need := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	need(c.StreamURL, "TWILIO_STREAM_URL")
	need(c.RAG.BaseURL, "RAG_API_BASE_URL")
	need(c.Lead.URL, "LEAD_API_URL")

	switch c.LLM.Provider {
	case "openai":
		need(c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	case "gemini":
		need(c.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}

	switch c.STT.Provider {
	case "whisper":
		need(c.STT.OpenAIAPIKey, "OPENAI_API_KEY")
	case "elevenlabs":
		need(c.STT.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	case "hybrid":
		need(c.STT.OpenAIAPIKey, "OPENAI_API_KEY")
		need(c.STT.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.STT.Provider)
	}

	switch c.TTS.Provider {
	case "openai":
		need(c.TTS.OpenAIAPIKey, "OPENAI_API_KEY")
	case "elevenlabs":
		need(c.TTS.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	case "google":
		// credentials come from GOOGLE_APPLICATION_CREDENTIALS
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTS.Provider)
	}

	need(c.CRM.InstanceURL, "SALESFORCE_INSTANCE_URL")
	need(c.CRM.ClientID, "SALESFORCE_CLIENT_ID")
	need(c.CRM.Username, "SALESFORCE_USERNAME")
	switch c.CRM.AuthMethod {
	case "jwt":
		need(c.CRM.PrivateKeyFile, "SALESFORCE_PRIVATE_KEY_FILE")
	case "password":
		need(c.CRM.ClientSecret, "SALESFORCE_CLIENT_SECRET")
		need(c.CRM.Password, "SALESFORCE_PASSWORD")
	default:
		return fmt.Errorf("unsupported SALESFORCE_AUTH_METHOD %q", c.CRM.AuthMethod)
	}

	if c.VAD.MinAudioBytes <= 0 || c.VAD.MaxAudioBytes <= c.VAD.MinAudioBytes {
		return fmt.Errorf("VAD_MAX_AUDIO_BYTES (%d) must exceed VAD_MIN_AUDIO_BYTES (%d)",
			c.VAD.MaxAudioBytes, c.VAD.MinAudioBytes)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(dedupe(missing), ", "))
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
