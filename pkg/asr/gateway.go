package asr

import (
	"bytes"
	"context"
	"strings"
	"unicode"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.uber.org/zap"
)

// DefaultWatermarks are closed-caption taglines Whisper-family models emit
// on near-silent French audio.
var DefaultWatermarks = []string{
	"Sous-titres réalisés par la communauté d'Amara.org",
	"Sous-titres réalisés para la communauté d'Amara.org",
	"Sous-titrage ST' 501",
	"Sous-titrage Société Radio-Canada",
	"Merci d'avoir regardé cette vidéo",
}

// GatewayConfig configures the Gateway.
type GatewayConfig struct {
	// SpeechThreshold is the RMS below which a buffer is not sent at all.
	SpeechThreshold float64
	// MinChars is the shortest transcript kept.
	MinChars   int
	Watermarks []string
	Audio      AudioConfig
	Recognize  RecognitionConfig
}

// DefaultGatewayConfig returns the telephony defaults for French callers.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SpeechThreshold: 250,
		MinChars:        2,
		Watermarks:      DefaultWatermarks,
		Audio:           TelephonyAudio,
		Recognize:       RecognitionConfig{Language: "fr"},
	}
}

// Gateway filters utterances around a Provider.
type Gateway struct {
	provider   Provider
	cfg        GatewayConfig
	watermarks []string
	logger     *zap.Logger
	latency    *metrics.Tracker
}

// NewGateway wraps provider. latency may be nil.
func NewGateway(provider Provider, cfg GatewayConfig, latency *metrics.Tracker, logger *zap.Logger) *Gateway {
	def := DefaultGatewayConfig()
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.Watermarks == nil {
		cfg.Watermarks = def.Watermarks
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = def.Audio
	}

	g := &Gateway{
		provider: provider,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("stt"),
		latency:  latency,
	}
	for _, w := range cfg.Watermarks {
		if n := normalizeText(w); n != "" {
			g.watermarks = append(g.watermarks, n)
		}
	}
	return g
}

// Transcribe returns the caller's words, or false when the buffer holds
// no usable speech. Provider failures are logged and reported as no speech.
func (g *Gateway) Transcribe(ctx context.Context, pcm []byte, labels metrics.Labels) (string, bool) {
	rms := audio.RMS(pcm)
	if rms < g.cfg.SpeechThreshold {
		g.logger.Debug("utterance below speech threshold", zap.Float64("rms", rms), zap.Int("bytes", len(pcm)))
		return "", false
	}

	ctx, span := trace.InstrumentSTTRequest(ctx, g.provider.Name(), len(pcm))
	defer span.End()

	labels.Provider = g.provider.Name()
	timer := g.latency.Start(metrics.OpSTT, "transcribe", labels)
	res, err := g.provider.Recognize(ctx, bytes.NewReader(audio.Normalize(pcm)), g.cfg.Audio, g.cfg.Recognize)
	timer.Done(err)
	if err != nil {
		trace.RecordError(span, err)
		g.logger.Warn("transcription failed", zap.Error(err))
		return "", false
	}

	text := strings.TrimSpace(res.Text)
	if g.IsWatermark(text) {
		g.logger.Info("dropped watermark transcript", zap.String("text", text))
		return "", false
	}
	if len([]rune(text)) < g.cfg.MinChars {
		g.logger.Debug("dropped short transcript", zap.String("text", text))
		return "", false
	}
	return text, true
}

// IsWatermark reports whether text contains one of the blacklisted taglines.
func (g *Gateway) IsWatermark(text string) bool {
	n := normalizeText(text)
	if n == "" {
		return false
	}
	for _, w := range g.watermarks {
		if strings.Contains(n, w) {
			return true
		}
	}
	return false
}

// Close closes the provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}

// normalizeText lowercases, unifies apostrophes and drops punctuation other
// than apostrophes and dots so that "Amara.org." still matches.
func normalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '’' || r == '`' || r == '\'':
			b.WriteRune('\'')
			space = false
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-':
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteRune(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(strings.TrimSpace(b.String()), ".")
}
