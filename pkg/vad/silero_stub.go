//go:build !vad

package vad

import "errors"

// ErrSileroUnavailable is returned when the binary was built without the
// vad tag.
var ErrSileroUnavailable = errors.New("silero classifier requires building with -tags vad")

// SileroConfig configures the Silero frame classifier.
type SileroConfig struct {
	ModelPath       string
	Threshold       float32
	MinSilenceDurMs int
	SpeechPadMs     int
}

// SileroClassifier is unavailable without the vad build tag.
type SileroClassifier struct{}

// NewSileroClassifier always fails without the vad build tag.
func NewSileroClassifier(cfg SileroConfig) (*SileroClassifier, error) {
	return nil, ErrSileroUnavailable
}

func (s *SileroClassifier) Infer(samples []float32) (float32, error) { return 0, ErrSileroUnavailable }
func (s *SileroClassifier) Reset() error                              { return nil }
func (s *SileroClassifier) Destroy() error                            { return nil }

var _ FrameClassifier = (*SileroClassifier)(nil)
