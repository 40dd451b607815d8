package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAITTSProvider_Defaults(t *testing.T) {
	provider := NewOpenAITTSProvider(OpenAITTSConfig{APIKey: "test-key"})
	if provider.Name() != "openai" {
		t.Errorf("Expected name 'openai', got '%s'", provider.Name())
	}
	if provider.GetDefaultVoice() != "nova" {
		t.Errorf("Expected default voice 'nova', got '%s'", provider.GetDefaultVoice())
	}
	if provider.model != "tts-1" {
		t.Errorf("Expected default model 'tts-1', got '%s'", provider.model)
	}
	if provider.endpoint != openAITTSEndpoint {
		t.Errorf("Expected default endpoint, got '%s'", provider.endpoint)
	}
}

func TestOpenAITTSProvider_ValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantError bool
	}{
		{name: "Valid API key", apiKey: "sk-test-key", wantError: false},
		{name: "Empty API key", apiKey: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewOpenAITTSProvider(OpenAITTSConfig{APIKey: tt.apiKey}).ValidateConfig()
			if tt.wantError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestOpenAITTSProvider_Synthesize(t *testing.T) {
	var got OpenAITTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write(make([]byte, 4800))
	}))
	defer srv.Close()

	provider := NewOpenAITTSProvider(OpenAITTSConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Voice: "shimmer"})
	resp, err := provider.Synthesize(context.Background(), &SynthesizeRequest{Text: "Bonjour"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Input != "Bonjour" || got.Voice != "shimmer" || got.ResponseFormat != "pcm" {
		t.Errorf("unexpected request %+v", got)
	}
	if resp.AudioFormat.SampleRate != 24000 || len(resp.AudioData) != 4800 {
		t.Errorf("unexpected response format %+v, %d bytes", resp.AudioFormat, len(resp.AudioData))
	}

	// 24kHz -> 8kHz divides the byte count by three
	pcm, err := SynthesizeAt(context.Background(), provider, "Bonjour", "", "fr-FR", 8000)
	if err != nil {
		t.Fatalf("SynthesizeAt: %v", err)
	}
	if len(pcm) != 1600 {
		t.Errorf("Expected 1600 bytes at 8kHz, got %d", len(pcm))
	}
}

func TestOpenAITTSProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	provider := NewOpenAITTSProvider(OpenAITTSConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if _, err := provider.Synthesize(context.Background(), &SynthesizeRequest{Text: "x"}); err == nil {
		t.Error("Expected error for 429 response")
	}
}
