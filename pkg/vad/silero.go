//go:build vad

package vad

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"
)

const (
	sileroSampleRate = 16000
	sileroWindow     = 512 // 32ms at 16kHz
)

// SileroConfig configures the Silero frame classifier.
type SileroConfig struct {
	ModelPath       string
	Threshold       float32
	MinSilenceDurMs int
	SpeechPadMs     int
}

// SileroClassifier scores telephony frames with the Silero VAD model.
// Frames arrive at 8kHz and are upsampled to the model's 16kHz windows.
type SileroClassifier struct {
	mu       sync.Mutex
	detector *speech.Detector
	pending  []float32
	speaking bool
}

// NewSileroClassifier loads the ONNX model.
func NewSileroClassifier(cfg SileroConfig) (*SileroClassifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilenceDurMs == 0 {
		cfg.MinSilenceDurMs = 100
	}
	if cfg.SpeechPadMs == 0 {
		cfg.SpeechPadMs = 30
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           sileroSampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("create silero detector: %w", err)
	}
	return &SileroClassifier{detector: detector}, nil
}

// Infer returns 1 while the model considers the caller to be speaking.
func (s *SileroClassifier) Infer(samples []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, upsample2x(samples)...)
	for len(s.pending) >= sileroWindow {
		window := s.pending[:sileroWindow]
		segments, err := s.detector.Detect(window)
		s.pending = s.pending[sileroWindow:]
		if err != nil {
			return 0, fmt.Errorf("silero detect: %w", err)
		}
		for _, seg := range segments {
			// an open segment has no end yet
			s.speaking = seg.SpeechEndAt == 0
		}
	}

	if s.speaking {
		return 1, nil
	}
	return 0, nil
}

func (s *SileroClassifier) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	s.speaking = false
	return s.detector.Reset()
}

func (s *SileroClassifier) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detector == nil {
		return nil
	}
	err := s.detector.Destroy()
	s.detector = nil
	return err
}

func upsample2x(in []float32) []float32 {
	out := make([]float32, 2*len(in))
	for i, v := range in {
		next := v
		if i+1 < len(in) {
			next = in[i+1]
		}
		out[2*i] = v
		out[2*i+1] = (v + next) / 2
	}
	return out
}

var _ FrameClassifier = (*SileroClassifier)(nil)
