package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestWhisperProvider_Name(t *testing.T) {
	provider, err := NewWhisperProvider(WhisperConfig{APIKey: "test-api-key"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if provider.Name() != "openai-whisper" {
		t.Errorf("Expected name 'openai-whisper', got '%s'", provider.Name())
	}
}

func TestNewWhisperProvider_NoAPIKey(t *testing.T) {
	_, err := NewWhisperProvider(WhisperConfig{})
	if err == nil {
		t.Fatal("Expected error when API key is empty")
	}

	var asrErr *Error
	if !errors.As(err, &asrErr) {
		t.Errorf("Expected *Error, got %T", err)
	} else if asrErr.Code != ErrCodeInvalidConfig {
		t.Errorf("Expected ErrCodeInvalidConfig, got %v", asrErr.Code)
	}
}

func TestConvertPCMToWAV(t *testing.T) {
	pcmData := make([]byte, 8000*2)

	wavData := convertPCMToWAV(pcmData, TelephonyAudio)

	if len(wavData) != 44+len(pcmData) {
		t.Errorf("WAV data has %d bytes, want %d", len(wavData), 44+len(pcmData))
	}
	if string(wavData[0:4]) != "RIFF" {
		t.Error("Invalid RIFF header")
	}
	if string(wavData[8:12]) != "WAVE" {
		t.Error("Invalid WAVE format")
	}
	if string(wavData[12:16]) != "fmt " {
		t.Error("Invalid fmt chunk")
	}
	if string(wavData[36:40]) != "data" {
		t.Error("Invalid data chunk")
	}
	if rate := binary.LittleEndian.Uint32(wavData[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
}

func TestWhisperProvider_Recognize_EmptyAudio(t *testing.T) {
	provider, err := NewWhisperProvider(WhisperConfig{APIKey: "test-api-key"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Recognize(context.Background(), bytes.NewReader(nil), TelephonyAudio, RecognitionConfig{Language: "fr"})
	if err == nil {
		t.Fatal("Expected error for empty audio")
	}

	var asrErr *Error
	if errors.As(err, &asrErr) && asrErr.Code != ErrCodeInvalidAudio {
		t.Errorf("Expected ErrCodeInvalidAudio, got %v", asrErr.Code)
	}
}

func TestWhisperProvider_Recognize(t *testing.T) {
	var gotPath, gotModel, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Bonjour, je voudrais un rendez-vous."}`))
	}))
	defer srv.Close()

	provider, err := NewWhisperProvider(WhisperConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	res, err := provider.Recognize(context.Background(), bytes.NewReader(make([]byte, 640)), TelephonyAudio, RecognitionConfig{Language: "fr"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "Bonjour, je voudrais un rendez-vous." {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Provider != "openai-whisper" {
		t.Errorf("unexpected provider %q", res.Provider)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotModel != "whisper-1" || gotLanguage != "fr" {
		t.Errorf("unexpected form model=%q language=%q", gotModel, gotLanguage)
	}
}

func TestWhisperProvider_Recognize_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	provider, _ := NewWhisperProvider(WhisperConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := provider.Recognize(context.Background(), bytes.NewReader(make([]byte, 640)), TelephonyAudio, RecognitionConfig{})

	var asrErr *Error
	if !errors.As(err, &asrErr) {
		t.Fatalf("Expected *Error, got %T (%v)", err, err)
	}
	if asrErr.Code != ErrCodeAuthenticationFailed {
		t.Errorf("Expected ErrCodeAuthenticationFailed, got %v", asrErr.Code)
	}
}

// TestWhisperProvider_Recognize_Integration requires a valid OpenAI API key.
func TestWhisperProvider_Recognize_Integration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping integration test: OPENAI_API_KEY not set")
	}

	provider, err := NewWhisperProvider(WhisperConfig{APIKey: apiKey, BaseURL: os.Getenv("OPENAI_BASE_URL")})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := provider.Recognize(ctx, bytes.NewReader(make([]byte, 16000)), TelephonyAudio, RecognitionConfig{Language: "fr"})
	if err != nil {
		t.Logf("Recognition failed (expected for silence): %v", err)
	} else {
		t.Logf("Recognition result: %+v", result)
	}
}
