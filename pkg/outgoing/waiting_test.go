package outgoing

import (
	"context"
	"testing"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingMusic_LoopsUntilStopped(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, nil, testConfig(), nil)
	defer m.Close()

	ctx := context.Background()
	loop := tagged(9, audio.BytesFor(40*time.Millisecond, 8000))
	w := m.StartWaitingMusic(ctx, loop)

	assert.Eventually(t, func() bool { return len(sink.audio()) >= 4 }, time.Second, 5*time.Millisecond,
		"the 2-chunk loop should repeat")

	w.Stop()
	w.Stop()

	require.NoError(t, m.EnqueueAudio(ctx, tagged(5, 320)))
	require.NoError(t, waitUntilIdle(ctx, m))

	events := sink.snapshot()
	clearAt, speechAt := -1, -1
	for i, ev := range events {
		if ev.kind == "clear" && clearAt < 0 {
			clearAt = i
		}
		if ev.kind == "audio" && ev.pcm[0] == 5 {
			speechAt = i
		}
	}
	require.GreaterOrEqual(t, clearAt, 0)
	require.Greater(t, speechAt, clearAt, "speech follows the music clear")
	for _, ev := range events[clearAt:] {
		if ev.kind == "audio" {
			assert.Equal(t, byte(5), ev.pcm[0], "no music after stop")
		}
	}
}

func TestWaitingMusic_InterruptEndsLoop(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, nil, testConfig(), nil)
	defer m.Close()

	w := m.StartWaitingMusic(context.Background(), tagged(9, 640))
	assert.Eventually(t, func() bool { return len(sink.audio()) > 0 }, time.Second, 5*time.Millisecond)
	m.Interrupt()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("music loop still running after interruption")
	}
	w.Stop()
}

func TestWaitingMusic_EmptyLoop(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, nil, testConfig(), nil)
	defer m.Close()
	w := m.StartWaitingMusic(context.Background(), nil)
	w.Stop()
	require.NoError(t, waitUntilIdle(context.Background(), m))
	assert.Empty(t, sink.audio())
}
