package agents

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/textseg"
	"go.uber.org/zap"
)

// Streamer is the part of the RAG client the course agent uses.
type Streamer interface {
	Stream(ctx context.Context, q rag.Query, flag *rag.InterruptFlag) iter.Seq2[string, error]
}

// CourseAgent answers questions about the training catalogue from the RAG
// service, speaking each sentence as soon as it is complete.
type CourseAgent struct {
	rag     Streamer
	segment textseg.Config
	logger  *zap.Logger
}

// NewCourseAgent creates the agent.
func NewCourseAgent(streamer Streamer, segment textseg.Config, logger *zap.Logger) *CourseAgent {
	return &CourseAgent{rag: streamer, segment: segment, logger: logging.OrNop(logger).Named("course-agent")}
}

// Name implements Agent.
func (a *CourseAgent) Name() string { return NameCourse }

// Run streams the answer. Waiting music plays until the first chunk
// arrives. On barge-in it returns what was received so far together with
// rag.ErrInterrupted.
func (a *CourseAgent) Run(ctx context.Context, t *Turn) (string, error) {
	st := t.State
	st.Scratchpad.Delete(session.KeyNextAgentNeeded)

	stopHold := t.Out.Hold(ctx)
	holding := true
	release := func() {
		if holding {
			stopHold()
			holding = false
		}
	}
	defer release()

	seg := textseg.New(a.segment)
	var answer strings.Builder
	q := rag.Query{ConversationID: st.ConversationID, UserQueryContent: st.UserInput}

	for chunk, err := range a.rag.Stream(ctx, q, t.Interrupt) {
		if err != nil {
			release()
			if errors.Is(err, rag.ErrInterrupted) || ctx.Err() != nil {
				return strings.TrimSpace(answer.String()), rag.ErrInterrupted
			}
			a.logger.Error("rag stream failed", zap.Error(err), zap.Int("received", answer.Len()))
			if answer.Len() == 0 {
				return say(ctx, t, Message(KindRAGCommunicationError))
			}
			break
		}
		release()
		answer.WriteString(chunk)
		for _, sentence := range seg.Feed(chunk) {
			if err := t.Out.Say(ctx, sentence); err != nil {
				return strings.TrimSpace(answer.String()), err
			}
		}
	}
	release()

	if rest := seg.Flush(); rest != "" {
		if err := t.Out.Say(ctx, rest); err != nil {
			return strings.TrimSpace(answer.String()), err
		}
	}
	if strings.TrimSpace(answer.String()) == "" {
		return say(ctx, t, Message(KindRAGCommunicationError))
	}
	return strings.TrimSpace(answer.String()), nil
}
