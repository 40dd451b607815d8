package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/festnoze/squad-ai-sub000/pkg/outgoing"
	"github.com/festnoze/squad-ai-sub000/pkg/turn"
)

// speaker lets agents talk through the call's outgoing queue.
type speaker struct {
	out   *outgoing.Manager
	turns *turn.Manager
	music []byte
	turn  atomic.Int64
}

func (s *speaker) begin(n int) {
	s.turn.Store(int64(n))
}

// Say synthesizes text and queues it behind what is already queued.
func (s *speaker) Say(ctx context.Context, text string) error {
	s.turns.ResponseStarted(int(s.turn.Load()))
	return s.out.EnqueueText(ctx, text)
}

// Hold loops the hold music until the returned func is called.
func (s *speaker) Hold(ctx context.Context) func() {
	if len(s.music) == 0 {
		return func() {}
	}
	return s.out.StartWaitingMusic(ctx, s.music).Stop
}
