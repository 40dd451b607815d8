package outgoing

import (
	"context"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"go.uber.org/zap"
)

// musicLead is how many music chunks may wait in the queue. Keeping it
// small lets real speech follow the music quickly.
const musicLead = 2

// WaitingMusic is a hold-music loop started before a slow operation.
type WaitingMusic struct {
	m      *Manager
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartWaitingMusic loops pcm (PCM16 at the telephony rate) until Stop.
func (m *Manager) StartWaitingMusic(ctx context.Context, pcm []byte) *WaitingMusic {
	ctx, cancel := context.WithCancel(ctx)
	w := &WaitingMusic{
		m:      m,
		gen:    m.musicGen.Add(1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if len(pcm) == 0 {
		close(w.done)
		return w
	}

	chunks := audio.Split(pcm, audio.BytesFor(m.cfg.ChunkDuration, m.cfg.SampleRate))
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(m.cfg.ChunkDuration / 4)
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(chunks) {
			for m.pending.Load() >= musicLead {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			if ctx.Err() != nil || m.musicGen.Load() != w.gen || m.interrupted.Load() {
				return
			}
			if err := m.enqueue(ctx, chunk{kind: kindMusic, pcm: chunks[i], musicGen: w.gen}); err != nil {
				return
			}
		}
	}()

	m.logger.Debug("waiting music started")
	return w
}

// Stop ends the loop and waits for it to exit. Queued music is discarded
// and the provider buffer cleared, so audio enqueued afterwards plays next.
func (w *WaitingMusic) Stop() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
		w.m.musicGen.CompareAndSwap(w.gen, w.gen+1)
		if err := w.m.enqueue(context.Background(), chunk{kind: kindClear}); err != nil {
			w.m.logger.Debug("could not queue clear after music", zap.Error(err))
		}
		w.m.logger.Debug("waiting music stopped")
	})
}
