// Package outgoing paces synthesized speech to the caller.
//
// A Manager owns a bounded FIFO of PCM chunks and a single sender goroutine
// that drains it one chunk per tick. Text is synthesized, resampled to the
// telephony rate, cut into fixed-duration chunks and queued; enqueueing
// blocks while the queue is full so utterances never reorder or drop.
//
// Interrupt (barge-in) drops everything queued, clears the audio Twilio
// has already buffered, and rejects further enqueues until
// ResetInterruption is called for the next answer.
package outgoing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/connection"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/tts"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInterrupted is returned by enqueue calls made after an interruption
	// and before ResetInterruption.
	ErrInterrupted = errors.New("outgoing audio interrupted")
	// ErrClosed is returned once the manager is closed.
	ErrClosed = errors.New("outgoing audio manager closed")
	// ErrNoSynthesizer is returned by EnqueueText without a TTS provider.
	ErrNoSynthesizer = errors.New("no speech synthesizer configured")
)

// Config tunes the manager.
type Config struct {
	SampleRate    int
	ChunkDuration time.Duration
	// Interval is the minimum pause between two chunks.
	Interval  time.Duration
	QueueSize int
	Voice     string
	Language  string
}

// DefaultConfig returns the telephony defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:    audio.TelephonySampleRate,
		ChunkDuration: 500 * time.Millisecond,
		Interval:      40 * time.Millisecond,
		QueueSize:     64,
		Language:      "fr-FR",
	}
}

type chunkKind int

const (
	kindSpeech chunkKind = iota
	kindMusic
	kindMark
	kindClear
)

type chunk struct {
	kind     chunkKind
	pcm      []byte
	mark     string
	musicGen uint64
}

// Manager owns the outgoing audio queue of one call.
type Manager struct {
	sink    connection.AudioSink
	tts     tts.Provider
	cfg     Config
	logger  *zap.Logger
	latency *metrics.Tracker
	labels  metrics.Labels

	queue       chan chunk
	pending     atomic.Int64
	interrupted atomic.Bool
	musicGen    atomic.Uint64

	mu            sync.Mutex
	speakingUntil time.Time
	lastMark      string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLatency records TTS latency on tracker under labels.
func WithLatency(tracker *metrics.Tracker, labels metrics.Labels) Option {
	return func(m *Manager) {
		m.latency = tracker
		m.labels = labels
	}
}

// NewManager starts the sender goroutine. synth may be nil when only raw
// audio is played.
func NewManager(sink connection.AudioSink, synth tts.Provider, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = def.ChunkDuration
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}

	m := &Manager{
		sink:   sink,
		tts:    synth,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("outgoing"),
		queue:  make(chan chunk, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.sendLoop()
	return m
}

// EnqueueText synthesizes text and queues the audio.
func (m *Manager) EnqueueText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if m.tts == nil {
		return ErrNoSynthesizer
	}
	if m.interrupted.Load() {
		return ErrInterrupted
	}

	timer := m.latency.Start(metrics.OpTTS, "synthesize", m.withProvider())
	pcm, err := tts.SynthesizeAt(ctx, m.tts, text, m.cfg.Voice, m.cfg.Language, m.cfg.SampleRate)
	timer.Done(err)
	if err != nil {
		return err
	}
	return m.EnqueueAudio(ctx, pcm)
}

func (m *Manager) withProvider() metrics.Labels {
	l := m.labels
	l.Provider = m.tts.Name()
	return l
}

// EnqueueAudio cuts PCM16 at the telephony rate into chunks and queues
// them, followed by a mark. It blocks while the queue is full.
func (m *Manager) EnqueueAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	for _, c := range audio.Split(pcm, audio.BytesFor(m.cfg.ChunkDuration, m.cfg.SampleRate)) {
		if m.interrupted.Load() {
			return ErrInterrupted
		}
		if err := m.enqueue(ctx, chunk{kind: kindSpeech, pcm: c}); err != nil {
			return err
		}
	}

	name := "utt-" + uuid.NewString()
	m.mu.Lock()
	m.lastMark = name
	m.mu.Unlock()
	return m.enqueue(ctx, chunk{kind: kindMark, mark: name})
}

func (m *Manager) enqueue(ctx context.Context, c chunk) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	m.pending.Add(1)
	select {
	case m.queue <- c:
		return nil
	case <-ctx.Done():
		m.pending.Add(-1)
		return ctx.Err()
	case <-m.done:
		m.pending.Add(-1)
		return ErrClosed
	}
}

func (m *Manager) sendLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case c := <-m.queue:
			sent := m.send(c)
			m.pending.Add(-1)
			if sent && m.cfg.Interval > 0 {
				select {
				case <-time.After(m.cfg.Interval):
				case <-m.done:
					return
				}
			}
		}
	}
}

// send transmits one chunk and reports whether audio went out.
func (m *Manager) send(c chunk) bool {
	switch c.kind {
	case kindClear:
		if err := m.sink.ClearAudio(); err != nil {
			m.logger.Warn("clear failed", zap.Error(err))
		}
		return false
	case kindMark:
		if m.interrupted.Load() {
			return false
		}
		if err := m.sink.SendMark(c.mark); err != nil {
			m.logger.Debug("mark failed", zap.Error(err))
		}
		return false
	case kindMusic:
		if c.musicGen != m.musicGen.Load() {
			return false
		}
	}
	if m.interrupted.Load() {
		return false
	}

	if err := m.sink.SendAudio(c.pcm); err != nil {
		m.logger.Warn("send audio failed", zap.Error(err), zap.Int("bytes", len(c.pcm)))
		return false
	}

	d := audio.DurationOf(c.pcm, m.cfg.SampleRate)
	m.mu.Lock()
	now := time.Now()
	if m.speakingUntil.Before(now) {
		m.speakingUntil = now
	}
	m.speakingUntil = m.speakingUntil.Add(d)
	m.mu.Unlock()
	return true
}

// Interrupt stops the current utterance: queued chunks are dropped, the
// provider buffer is cleared and enqueues fail until ResetInterruption.
func (m *Manager) Interrupt() {
	m.interrupted.Store(true)
	m.musicGen.Add(1)
	dropped := m.drain()

	m.mu.Lock()
	m.speakingUntil = time.Time{}
	m.lastMark = ""
	m.mu.Unlock()

	if err := m.sink.ClearAudio(); err != nil {
		m.logger.Debug("clear after interruption failed", zap.Error(err))
	}
	m.logger.Info("speech interrupted", zap.Int("dropped_chunks", dropped))
}

// ResetInterruption allows enqueueing again.
func (m *Manager) ResetInterruption() {
	m.interrupted.Store(false)
}

// Interrupted reports whether an interruption is pending.
func (m *Manager) Interrupted() bool {
	return m.interrupted.Load()
}

func (m *Manager) drain() int {
	n := 0
	for {
		select {
		case <-m.queue:
			m.pending.Add(-1)
			n++
		default:
			return n
		}
	}
}

// OnMark is fed the marks echoed by the provider. The echo of the last
// utterance mark means playback finished.
func (m *Manager) OnMark(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name != "" && name == m.lastMark {
		m.speakingUntil = time.Time{}
		m.lastMark = ""
	}
}

// IsSending reports whether a chunk is queued or in flight.
func (m *Manager) IsSending() bool {
	return m.pending.Load() > 0
}

// IsSpeaking reports whether the caller is still hearing the assistant:
// audio queued, in flight, or sent but not yet played out.
func (m *Manager) IsSpeaking() bool {
	if m.IsSending() {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.speakingUntil)
}

// WaitUntilPlayed blocks until the caller has heard everything sent.
func (m *Manager) WaitUntilPlayed(ctx context.Context) error {
	return m.waitFor(ctx, m.IsSpeaking)
}

func (m *Manager) waitFor(ctx context.Context, busy func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for busy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the sender goroutine. Queued audio is discarded.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.drain()
	})
}
