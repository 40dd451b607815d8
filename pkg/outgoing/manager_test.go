package outgoing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sinkEvent struct {
	kind string
	pcm  []byte
	mark string
}

type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
	delay  time.Duration
	err    error
}

func (s *fakeSink) SendAudio(pcm []byte) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, sinkEvent{kind: "audio", pcm: append([]byte(nil), pcm...)})
	return nil
}

func (s *fakeSink) SendMark(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{kind: "mark", mark: name})
	return nil
}

func (s *fakeSink) ClearAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{kind: "clear"})
	return nil
}

func (s *fakeSink) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

func (s *fakeSink) audio() [][]byte {
	var out [][]byte
	for _, ev := range s.snapshot() {
		if ev.kind == "audio" {
			out = append(out, ev.pcm)
		}
	}
	return out
}

type fakeTTS struct {
	rate int
	err  error
	last string
}

func (f *fakeTTS) Name() string            { return "fake" }
func (f *fakeTTS) GetDefaultVoice() string { return "v" }
func (f *fakeTTS) ValidateConfig() error   { return nil }

func (f *fakeTTS) Synthesize(_ context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	f.last = req.Text
	if f.err != nil {
		return nil, f.err
	}
	pcm := audio.Tone(440, 8000, 250*time.Millisecond, f.rate)
	return &tts.SynthesizeResponse{
		AudioData:   pcm,
		AudioFormat: tts.AudioFormat{SampleRate: f.rate, Channels: 1, Encoding: "pcm_s16le"},
	}, nil
}

func testConfig() Config {
	return Config{
		SampleRate:    8000,
		ChunkDuration: 20 * time.Millisecond,
		Interval:      time.Millisecond,
		QueueSize:     4,
	}
}

func tagged(tag byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = tag
	}
	return b
}

func TestManager_FIFOOrder(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, nil, testConfig(), zaptest.NewLogger(t))
	defer m.Close()

	ctx := context.Background()
	chunkBytes := audio.BytesFor(20*time.Millisecond, 8000)
	require.NoError(t, m.EnqueueAudio(ctx, tagged(1, chunkBytes*3)))
	require.NoError(t, m.EnqueueAudio(ctx, tagged(2, chunkBytes*2+10)))
	require.NoError(t, waitUntilIdle(ctx, m))

	got := sink.audio()
	require.Len(t, got, 6)
	for i, want := range []byte{1, 1, 1, 2, 2, 2} {
		assert.Equal(t, want, got[i][0], "chunk %d", i)
	}
	assert.Len(t, got[5], 10)

	var marks int
	for _, ev := range sink.snapshot() {
		if ev.kind == "mark" {
			marks++
		}
	}
	assert.Equal(t, 2, marks)
}

func TestManager_InterruptStopsQueuedChunks(t *testing.T) {
	sink := &fakeSink{delay: 5 * time.Millisecond}
	cfg := testConfig()
	cfg.QueueSize = 64
	cfg.Interval = 10 * time.Millisecond
	m := NewManager(sink, nil, cfg, zaptest.NewLogger(t))
	defer m.Close()

	ctx := context.Background()
	chunkBytes := audio.BytesFor(cfg.ChunkDuration, cfg.SampleRate)
	require.NoError(t, m.EnqueueAudio(ctx, tagged(1, chunkBytes*40)))
	assert.True(t, m.IsSending())

	time.Sleep(30 * time.Millisecond)
	m.Interrupt()
	sentAtInterrupt := len(sink.audio())

	assert.Eventually(t, func() bool { return !m.IsSending() }, cfg.Interval*5, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.LessOrEqual(t, len(sink.audio()), sentAtInterrupt+1, "only the in-flight chunk may follow")
	assert.Less(t, len(sink.audio()), 40)
	assert.False(t, m.IsSpeaking())
	assert.True(t, m.Interrupted())

	var cleared bool
	for _, ev := range sink.snapshot() {
		cleared = cleared || ev.kind == "clear"
	}
	assert.True(t, cleared)

	assert.ErrorIs(t, m.EnqueueAudio(ctx, tagged(3, chunkBytes)), ErrInterrupted)

	m.ResetInterruption()
	require.NoError(t, m.EnqueueAudio(ctx, tagged(3, chunkBytes)))
	require.NoError(t, waitUntilIdle(ctx, m))
	got := sink.audio()
	assert.Equal(t, byte(3), got[len(got)-1][0])
}

func TestManager_EnqueueText(t *testing.T) {
	sink := &fakeSink{}
	synth := &fakeTTS{rate: 16000}
	tracker := metrics.NewTracker(metrics.Config{}, nil)
	m := NewManager(sink, synth, testConfig(), zaptest.NewLogger(t),
		WithLatency(tracker, metrics.Labels{CallSid: "CA1"}))
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.EnqueueText(ctx, "Bonjour"))
	require.NoError(t, waitUntilIdle(ctx, m))
	assert.Equal(t, "Bonjour", synth.last)

	var total int
	for _, c := range sink.audio() {
		total += len(c)
	}
	assert.Equal(t, audio.BytesFor(250*time.Millisecond, 8000), total)

	stats, ok := tracker.Stats(metrics.OpTTS, "synthesize")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)

	assert.NoError(t, m.EnqueueText(ctx, ""))

	synth.err = errors.New("quota")
	assert.Error(t, m.EnqueueText(ctx, "encore"))
	stats, _ = tracker.Stats(metrics.OpTTS, "synthesize")
	assert.Equal(t, 1, stats.Errors)
}

func TestManager_EnqueueTextWithoutSynthesizer(t *testing.T) {
	m := NewManager(&fakeSink{}, nil, testConfig(), nil)
	defer m.Close()
	assert.ErrorIs(t, m.EnqueueText(context.Background(), "x"), ErrNoSynthesizer)
}

func TestManager_BlocksWhenFullAndHonoursContext(t *testing.T) {
	sink := &fakeSink{delay: 50 * time.Millisecond}
	cfg := testConfig()
	cfg.QueueSize = 1
	m := NewManager(sink, nil, cfg, nil)
	defer m.Close()

	chunkBytes := audio.BytesFor(cfg.ChunkDuration, cfg.SampleRate)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.EnqueueAudio(ctx, tagged(1, chunkBytes*10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_SpeakingCoversPlayback(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, nil, testConfig(), nil)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.EnqueueAudio(ctx, tagged(1, audio.BytesFor(time.Second, 8000))))
	require.NoError(t, waitUntilIdle(ctx, m))
	assert.False(t, m.IsSending())
	assert.True(t, m.IsSpeaking(), "audio still playing at the provider")

	var mark string
	for _, ev := range sink.snapshot() {
		if ev.kind == "mark" {
			mark = ev.mark
		}
	}
	require.NotEmpty(t, mark)
	m.OnMark("unrelated")
	assert.True(t, m.IsSpeaking())
	m.OnMark(mark)
	assert.False(t, m.IsSpeaking())
}

func TestManager_SendErrorsDoNotStopTheLoop(t *testing.T) {
	sink := &fakeSink{err: errors.New("socket gone")}
	m := NewManager(sink, nil, testConfig(), zaptest.NewLogger(t))
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.EnqueueAudio(ctx, tagged(1, 640)))
	require.NoError(t, waitUntilIdle(ctx, m))
	assert.False(t, m.IsSpeaking())
}

func TestManager_Close(t *testing.T) {
	m := NewManager(&fakeSink{}, nil, testConfig(), nil)
	m.Close()
	m.Close()
	assert.ErrorIs(t, m.EnqueueAudio(context.Background(), []byte{1, 2}), ErrClosed)
}

// waitUntilIdle blocks until nothing is queued or in flight.
func waitUntilIdle(ctx context.Context, m *Manager) error {
	return m.waitFor(ctx, m.IsSending)
}
