package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	elevenLabsSTTModel    = "scribe_v1"
)

// ScribeConfig configures the ElevenLabs transcription provider.
type ScribeConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ScribeProvider implements Provider with the ElevenLabs batch
// speech-to-text endpoint.
type ScribeProvider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewScribeProvider creates an ElevenLabs Scribe provider.
func NewScribeProvider(cfg ScribeConfig) (*ScribeProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "ElevenLabs API key is required"}
	}
	model := cfg.Model
	if model == "" {
		model = elevenLabsSTTModel
	}
	endpoint := elevenLabsSTTEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &ScribeProvider{
		apiKey:     cfg.APIKey,
		model:      model,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name returns the provider name.
func (s *ScribeProvider) Name() string {
	return "elevenlabs"
}

type scribeResponse struct {
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float32 `json:"language_probability"`
	Text                string  `json:"text"`
}

// Recognize uploads the segment as a WAV file.
func (s *ScribeProvider) Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*RecognitionResult, error) {
	fileBytes, err := readAudioFile(audio, audioConfig)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(fileBytes); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	model := config.Model
	if model == "" || strings.HasPrefix(model, "whisper") {
		model = s.model
	}
	if err := mw.WriteField("model_id", model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if config.Language != "" {
		if err := mw.WriteField("language_code", config.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.WriteField("tag_audio_events", "false"); err != nil {
		return nil, fmt.Errorf("write tag field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: ErrCodeNetworkError, Message: "ElevenLabs request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := ErrCodeProviderError
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = ErrCodeAuthenticationFailed
		case http.StatusTooManyRequests:
			code = ErrCodeQuotaExceeded
		}
		return nil, &Error{
			Code:    code,
			Message: fmt.Sprintf("ElevenLabs returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var out scribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Code: ErrCodeProviderError, Message: "decode ElevenLabs response", Err: err}
	}

	return &RecognitionResult{
		Text:       out.Text,
		Confidence: out.LanguageProbability,
		Language:   out.LanguageCode,
		Duration:   time.Since(start),
		Provider:   s.Name(),
		Metadata:   map[string]interface{}{"model": model},
	}, nil
}

// Close releases any resources held by the provider.
func (s *ScribeProvider) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
