// Package vad segments caller audio into utterances and detects barge-in.
//
// The Detector works on PCM16 LE mono frames as they arrive from the
// telephony leg. Each frame is scored by RMS energy and, when present, by a
// FrameClassifier; a frame is speech when both agree. Frames are
// accumulated once speech has started. An
// utterance is released when enough silence follows enough speech, or when
// the buffer grows past the maximum length.
//
// While the assistant is speaking the detector uses a lower threshold to
// notice the caller, and raises BargeIn once the energy clears a stricter
// trigger. The interrupted audio becomes the start of the next utterance.
package vad

import (
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"go.uber.org/zap"
)

// Reason says why an utterance was released.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonSilence - enough silence followed enough speech
	ReasonSilence
	// ReasonMaxLength - the buffer grew past MaxAudioBytes
	ReasonMaxLength
)

func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxLength:
		return "max_length"
	default:
		return "none"
	}
}

// Config holds the detector tunables.
type Config struct {
	SampleRate      int
	SpeechThreshold float64
	MinAudioBytes   int
	MaxAudioBytes   int
	RequiredSilence time.Duration
	PreRoll         time.Duration

	// BargeInSensitivity scales SpeechThreshold while the assistant speaks.
	BargeInSensitivity float64
	// BargeInTrigger scales SpeechThreshold to decide an interruption.
	BargeInTrigger float64

	// ClassifierThreshold is the minimum FrameClassifier score for speech.
	ClassifierThreshold float32
}

// DefaultConfig returns the telephony defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:          audio.TelephonySampleRate,
		SpeechThreshold:     250,
		MinAudioBytes:       6400,
		MaxAudioBytes:       150000,
		RequiredSilence:     300 * time.Millisecond,
		BargeInSensitivity:  0.8,
		BargeInTrigger:      1.2,
		ClassifierThreshold: 0.5,
	}
}

// Result is the outcome of one processed frame.
type Result struct {
	// Utterance is set when an utterance was released.
	Utterance []byte
	Reason    Reason

	// BargeIn is set when the caller spoke over the assistant.
	BargeIn bool

	Speech bool
	RMS    float64
}

// Detector owns the utterance buffer and the silence counter of one call.
// It is not safe for concurrent use; the call's inbound loop drives it.
type Detector struct {
	cfg        Config
	classifier FrameClassifier
	logger     *zap.Logger

	buffer  []byte
	silence time.Duration
	preRoll *audio.RingBuffer
}

// NewDetector creates a detector. classifier may be nil.
func NewDetector(cfg Config, classifier FrameClassifier, logger *zap.Logger) *Detector {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = def.MinAudioBytes
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = def.MaxAudioBytes
	}
	if cfg.RequiredSilence <= 0 {
		cfg.RequiredSilence = def.RequiredSilence
	}
	if cfg.BargeInSensitivity <= 0 {
		cfg.BargeInSensitivity = def.BargeInSensitivity
	}
	if cfg.BargeInTrigger <= 0 {
		cfg.BargeInTrigger = def.BargeInTrigger
	}
	if cfg.ClassifierThreshold <= 0 {
		cfg.ClassifierThreshold = def.ClassifierThreshold
	}

	return &Detector{
		cfg:        cfg,
		classifier: classifier,
		logger:     logging.OrNop(logger).Named("vad"),
		preRoll:    audio.NewRingBuffer(cfg.SampleRate, int(cfg.PreRoll/time.Millisecond)),
	}
}

// Process consumes one inbound frame. speaking tells the detector whether
// the assistant is currently playing audio to the caller.
func (d *Detector) Process(pcm []byte, speaking bool) Result {
	if len(pcm) == 0 {
		return Result{}
	}

	rms := audio.RMS(pcm)
	res := Result{RMS: rms}

	threshold := d.cfg.SpeechThreshold
	if speaking {
		threshold *= d.cfg.BargeInSensitivity
	}
	// the classifier scores every frame so its state follows the pauses
	voiced := d.classify(pcm)
	res.Speech = rms > threshold && voiced

	if speaking && res.Speech && rms >= d.cfg.SpeechThreshold*d.cfg.BargeInTrigger {
		res.BargeIn = true
		d.logger.Debug("barge-in detected",
			zap.Float64("rms", rms),
			zap.Int("discarded_bytes", len(d.buffer)))
		d.buffer = d.buffer[:0]
		d.silence = 0
	}

	if res.Speech {
		d.silence = 0
	} else {
		d.silence += audio.DurationOf(pcm, d.cfg.SampleRate)
	}

	switch {
	case len(d.buffer) > 0:
		d.buffer = append(d.buffer, pcm...)
	case res.Speech:
		d.buffer = append(d.buffer, d.preRoll.Drain()...)
		d.buffer = append(d.buffer, pcm...)
	default:
		d.preRoll.Write(pcm)
	}

	switch {
	case len(d.buffer) > d.cfg.MaxAudioBytes:
		res.Utterance, res.Reason = d.release(), ReasonMaxLength
	case len(d.buffer) >= d.cfg.MinAudioBytes && d.silence >= d.cfg.RequiredSilence:
		res.Utterance, res.Reason = d.release(), ReasonSilence
	}

	if res.Reason != ReasonNone {
		d.logger.Debug("utterance ready",
			zap.Stringer("reason", res.Reason),
			zap.Int("bytes", len(res.Utterance)))
	}
	return res
}

// classify applies the optional frame classifier. Classifier errors fall
// back to the energy decision.
func (d *Detector) classify(pcm []byte) bool {
	if d.classifier == nil {
		return true
	}
	prob, err := d.classifier.Infer(toFloat32(pcm))
	if err != nil {
		d.logger.Warn("frame classifier failed", zap.Error(err))
		return true
	}
	return prob >= d.cfg.ClassifierThreshold
}

func (d *Detector) release() []byte {
	out := make([]byte, len(d.buffer))
	copy(out, d.buffer)
	d.buffer = d.buffer[:0]
	d.silence = 0
	if d.classifier != nil {
		_ = d.classifier.Reset()
	}
	return out
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}
