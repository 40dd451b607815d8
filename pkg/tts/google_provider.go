package tts

import (
	"context"
	"encoding/binary"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

const (
	googleDefaultLanguage   = "fr-FR"
	googleDefaultVoice      = "fr-FR-Neural2-A"
	googleDefaultSampleRate = 8000
	wavHeaderSize           = 44
)

type synthesizeFunc func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// GoogleTTSProvider synthesizes LINEAR16 speech directly at the telephony
// rate with Google Cloud Text-to-Speech. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS.
type GoogleTTSProvider struct {
	client     *texttospeech.Client
	synthesize synthesizeFunc
	language   string
	voice      string
	sampleRate int
}

// GoogleTTSConfig configures the Google provider.
type GoogleTTSConfig struct {
	Language   string
	Voice      string
	SampleRate int
}

// NewGoogleTTSProvider dials the Text-to-Speech API.
func NewGoogleTTSProvider(ctx context.Context, cfg GoogleTTSConfig) (*GoogleTTSProvider, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create texttospeech client: %w", err)
	}
	p := newGoogleTTSProvider(cfg, func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return client.SynthesizeSpeech(ctx, req)
	})
	p.client = client
	return p, nil
}

func newGoogleTTSProvider(cfg GoogleTTSConfig, fn synthesizeFunc) *GoogleTTSProvider {
	p := &GoogleTTSProvider{
		synthesize: fn,
		language:   cfg.Language,
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
	}
	if p.language == "" {
		p.language = googleDefaultLanguage
	}
	if p.voice == "" {
		p.voice = googleDefaultVoice
	}
	if p.sampleRate == 0 {
		p.sampleRate = googleDefaultSampleRate
	}
	return p
}

func (p *GoogleTTSProvider) Name() string {
	return "google"
}

func (p *GoogleTTSProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	language := req.Language
	if language == "" {
		language = p.language
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
		SampleRateHertz: int32(p.sampleRate),
	}
	if req.Speed > 0 {
		audioCfg.SpeakingRate = req.Speed
	}

	resp, err := p.synthesize(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
		},
		AudioConfig: audioCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}

	return &SynthesizeResponse{
		AudioData:   stripWAVHeader(resp.GetAudioContent()),
		AudioFormat: pcmFormat(p.sampleRate),
	}, nil
}

func (p *GoogleTTSProvider) GetDefaultVoice() string {
	return p.voice
}

func (p *GoogleTTSProvider) ValidateConfig() error {
	if p.synthesize == nil {
		return fmt.Errorf("google texttospeech client is not initialized")
	}
	return nil
}

// Close releases the gRPC connection.
func (p *GoogleTTSProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// stripWAVHeader drops the RIFF header LINEAR16 responses carry.
func stripWAVHeader(data []byte) []byte {
	if len(data) >= wavHeaderSize && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		// the data chunk normally starts at 36; honour its declared size
		if string(data[36:40]) == "data" {
			size := int(binary.LittleEndian.Uint32(data[40:44]))
			if size > 0 && wavHeaderSize+size <= len(data) {
				return data[wavHeaderSize : wavHeaderSize+size]
			}
		}
		return data[wavHeaderSize:]
	}
	return data
}

var _ Provider = (*GoogleTTSProvider)(nil)
