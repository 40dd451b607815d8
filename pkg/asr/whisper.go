package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// WhisperConfig configures the OpenAI transcription provider.
type WhisperConfig struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible gateways
	Model   string
}

// WhisperProvider implements the Provider interface using OpenAI's Whisper API.
type WhisperProvider struct {
	client *openai.Client
	model  string
}

// NewWhisperProvider creates a new OpenAI Whisper ASR provider.
func NewWhisperProvider(cfg WhisperConfig) (*WhisperProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "OpenAI API key is required",
		}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (w *WhisperProvider) Name() string {
	return "openai-whisper"
}

// Recognize performs speech recognition on a complete audio segment.
func (w *WhisperProvider) Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*RecognitionResult, error) {
	fileBytes, err := readAudioFile(audio, audioConfig)
	if err != nil {
		return nil, err
	}

	req := openai.AudioRequest{
		Model:    config.Model,
		FilePath: "audio.wav", // Filename hint for API
		Reader:   bytes.NewReader(fileBytes),
		Prompt:   config.Prompt,
		Language: config.Language,
	}
	if req.Model == "" {
		req.Model = w.model
	}
	if config.Temperature > 0 {
		req.Temperature = config.Temperature
	}

	startTime := time.Now()
	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	return &RecognitionResult{
		Text:       resp.Text,
		Confidence: -1, // Whisper API doesn't provide confidence scores
		Language:   config.Language,
		Duration:   time.Since(startTime),
		Provider:   w.Name(),
		Metadata: map[string]interface{}{
			"model": req.Model,
		},
	}, nil
}

// Close releases any resources held by the provider.
func (w *WhisperProvider) Close() error {
	return nil
}

func classifyOpenAIError(err error) error {
	code := ErrCodeProviderError
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = ErrCodeAuthenticationFailed
		case http.StatusTooManyRequests:
			code = ErrCodeQuotaExceeded
		}
	} else {
		var reqErr *openai.RequestError
		if !errors.As(err, &reqErr) {
			code = ErrCodeNetworkError
		}
	}
	return &Error{Code: code, Message: "Whisper API request failed", Err: err}
}

// readAudioFile reads the segment and wraps raw PCM into a WAV container.
func readAudioFile(audio io.Reader, audioConfig AudioConfig) ([]byte, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "failed to read audio data",
			Err:     err,
		}
	}
	if len(audioData) == 0 {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "audio data is empty",
		}
	}
	if audioConfig.Encoding != "pcm" && audioConfig.Encoding != "" {
		return audioData, nil
	}
	return convertPCMToWAV(audioData, audioConfig), nil
}

// convertPCMToWAV prepends a 44-byte RIFF header to raw PCM audio.
func convertPCMToWAV(pcmData []byte, config AudioConfig) []byte {
	var buf bytes.Buffer

	channels := config.Channels
	if channels == 0 {
		channels = 1
	}
	bitsPerSample := config.BitsPerSample
	if bitsPerSample == 0 {
		bitsPerSample = 16
	}

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(config.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(config.SampleRate*channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
