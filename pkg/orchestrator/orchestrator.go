// Package orchestrator runs the conversation of each phone call.
//
// One Orchestrator serves every call of the process. For each media stream
// it waits for the start event, builds the call's session, detector and
// outgoing audio queue, then runs two goroutines: the listener, which owns
// the inbound frames in arrival order, and the conversation worker, which
// runs the graph once per utterance.
//
//	router ─┬─ conversation_start → init_conversation → user_identification → conversation_start_end
//	        ├─ calendar_agent | lead_agent | rag_course_agent | other_inquiry
//	        └─ wait_for_user_input
//	        → END
//
// The socket stays open after END; the next utterance enters the graph again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/connection"
	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/outgoing"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/router"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/tts"
	"github.com/festnoze/squad-ai-sub000/pkg/turn"
	"github.com/festnoze/squad-ai-sub000/pkg/vad"
	"go.uber.org/zap"
)

// CallerParameter is the stream parameter carrying the caller's number.
const CallerParameter = "caller"

// ErrNoStart is returned when the socket ends or times out before the
// start event.
var ErrNoStart = errors.New("media stream never started")

// Transcriber turns an utterance into text; false means nothing usable.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, labels metrics.Labels) (string, bool)
}

// Classifier picks the route of a turn.
type Classifier interface {
	Route(ctx context.Context, st *session.State) (router.Label, error)
}

// ConversationStore is the identity and conversation side of the RAG
// service.
type ConversationStore interface {
	CreateOrRetrieveUser(ctx context.Context, u rag.User) (string, error)
	CreateConversation(ctx context.Context, userID string) (string, error)
	AddExternalMessage(ctx context.Context, conversationID, text string) error
}

// Directory finds the caller in the CRM.
type Directory interface {
	GetPersonByPhone(ctx context.Context, phone string) (*crm.Person, error)
	GetOwnerByID(ctx context.Context, id string) (*crm.Owner, error)
}

// CallObserver is told about call lifecycle events. The Prometheus
// reporter implements it.
type CallObserver interface {
	CallStarted()
	CallEnded(outcome string)
	BargeIn()
}

// Deps are the collaborators shared by all calls.
type Deps struct {
	Transcriber   Transcriber
	Router        Classifier
	Agents        []agents.Agent
	Conversations ConversationStore
	Synthesizer   tts.Provider

	// Optional.
	Directory Directory
	Registry  session.Registry
	Latency   *metrics.Tracker
	Observer  CallObserver
	// NewFrameClassifier builds the per-call frame classifier of the
	// detector. Classifiers carry state so they are never shared.
	NewFrameClassifier func() (vad.FrameClassifier, error)
}

// Config holds the per-call tunables.
type Config struct {
	VAD   vad.Config
	Audio outgoing.Config
	Turn  turn.Config

	// HoldMusic is PCM16 at 8kHz looped during slow operations. Empty
	// disables it.
	HoldMusic []byte
	// Greeting is spoken as soon as the stream starts.
	Greeting string

	StartTimeout   time.Duration
	UtteranceQueue int
}

// DefaultGreeting opens every call.
const DefaultGreeting = "Bonjour et bienvenue à l'école. Je suis l'assistant virtuel de l'accueil téléphonique."

// Orchestrator creates and runs calls.
type Orchestrator struct {
	deps   Deps
	agents map[string]agents.Agent
	cfg    Config
	logger *zap.Logger
	active atomic.Int64

	// afterTurn is called by the worker after each turn.
	afterTurn func(st *session.State)
}

// New checks deps and returns an orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Transcriber == nil:
		return nil, errors.New("orchestrator: transcriber is required")
	case deps.Router == nil:
		return nil, errors.New("orchestrator: router is required")
	case deps.Conversations == nil:
		return nil, errors.New("orchestrator: conversation store is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator: speech synthesizer is required")
	}

	byName := make(map[string]agents.Agent, len(deps.Agents))
	for _, a := range deps.Agents {
		byName[a.Name()] = a
	}
	for _, name := range []string{agents.NameCalendar, agents.NameLead, agents.NameCourse, agents.NameOther} {
		if byName[name] == nil {
			return nil, fmt.Errorf("orchestrator: agent %s is missing", name)
		}
	}

	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.UtteranceQueue <= 0 {
		cfg.UtteranceQueue = 4
	}

	return &Orchestrator{
		deps:   deps,
		agents: byName,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("orchestrator"),
	}, nil
}

// Active returns the number of calls in progress.
func (o *Orchestrator) Active() int {
	return int(o.active.Load())
}

// HandleCall runs one call until the stream stops, the socket closes or
// ctx is cancelled. It closes conn before returning.
func (o *Orchestrator) HandleCall(ctx context.Context, conn connection.Connection) error {
	defer conn.Close()

	start, err := o.awaitStart(ctx, conn)
	if err != nil {
		o.logger.Warn("call abandoned before start", zap.String("peer", conn.PeerID()), zap.Error(err))
		return err
	}

	o.active.Add(1)
	defer o.active.Add(-1)

	return o.newCall(ctx, conn, start).run(ctx)
}

// awaitStart drops anything received before the start event.
func (o *Orchestrator) awaitStart(ctx context.Context, conn connection.Connection) (connection.Event, error) {
	timer := time.NewTimer(o.cfg.StartTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return connection.Event{}, ctx.Err()
		case <-timer.C:
			return connection.Event{}, fmt.Errorf("%w after %s", ErrNoStart, o.cfg.StartTimeout)
		case ev, ok := <-conn.Events():
			if !ok {
				return connection.Event{}, ErrNoStart
			}
			if ev.Type == connection.EventStart {
				return ev, nil
			}
		}
	}
}

// callerPhone reads the number from the stream parameters, falling back
// to the registry filled when the call was answered.
func (o *Orchestrator) callerPhone(ctx context.Context, start connection.Event) string {
	if phone := start.Parameters[CallerParameter]; phone != "" {
		return phone
	}
	if o.deps.Registry == nil {
		return ""
	}
	phone, err := o.deps.Registry.Lookup(ctx, start.CallSid)
	if err != nil {
		o.logger.Warn("caller number unknown", zap.String("call_sid", start.CallSid), zap.Error(err))
		return ""
	}
	return phone
}
