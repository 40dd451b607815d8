package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openAITTSEndpoint       = "https://api.openai.com/v1/audio/speech"
	openAIDefaultModel      = "tts-1"
	openAIDefaultVoice      = "nova"
	openAIDefaultSampleRate = 24000
)

// OpenAITTSProvider implements Provider for OpenAI's speech endpoint. It
// always requests raw PCM so the audio can be resampled for the phone line.
type OpenAITTSProvider struct {
	apiKey     string
	model      string
	voice      string
	endpoint   string
	httpClient *http.Client
}

// OpenAITTSRequest represents the request payload for OpenAI TTS API
type OpenAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// OpenAITTSConfig configures the OpenAI provider. BaseURL points at an
// OpenAI compatible server when set.
type OpenAITTSConfig struct {
	APIKey  string
	Model   string
	Voice   string
	BaseURL string
}

// NewOpenAITTSProvider creates a new OpenAI TTS provider
func NewOpenAITTSProvider(cfg OpenAITTSConfig) *OpenAITTSProvider {
	p := &OpenAITTSProvider{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		voice:      cfg.Voice,
		endpoint:   openAITTSEndpoint,
		httpClient: &http.Client{},
	}
	if p.model == "" {
		p.model = openAIDefaultModel
	}
	if p.voice == "" {
		p.voice = openAIDefaultVoice
	}
	if cfg.BaseURL != "" {
		p.endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/audio/speech"
	}
	return p
}

// Name returns the provider name
func (p *OpenAITTSProvider) Name() string {
	return "openai"
}

// Synthesize converts text to speech using OpenAI TTS API
func (p *OpenAITTSProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	payloadBytes, err := json.Marshal(OpenAITTSRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "pcm",
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &SynthesizeResponse{
		AudioData:   audioData,
		AudioFormat: pcmFormat(openAIDefaultSampleRate),
	}, nil
}

// GetDefaultVoice returns the default voice
func (p *OpenAITTSProvider) GetDefaultVoice() string {
	return p.voice
}

// ValidateConfig validates the provider configuration
func (p *OpenAITTSProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("OpenAI API key is not set. Please set OPENAI_API_KEY environment variable")
	}
	return nil
}

var _ Provider = (*OpenAITTSProvider)(nil)
