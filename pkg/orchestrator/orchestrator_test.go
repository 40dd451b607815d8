package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/asr"
	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/leadapi"
	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/outgoing"
	"github.com/festnoze/squad-ai-sub000/pkg/router"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/textseg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type scheduler struct {
	mu        sync.Mutex
	scheduled []crm.NewAppointment
}

func (s *scheduler) GetScheduledAppointments(context.Context, time.Time, time.Time, string) ([]crm.Event, error) {
	return nil, nil
}

func (s *scheduler) ScheduleNewAppointment(_ context.Context, a crm.NewAppointment, _ int, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, a)
	return "00UEVENT", nil
}

func (s *scheduler) appointments() []crm.NewAppointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crm.NewAppointment(nil), s.scheduled...)
}

type leads struct{}

func (leads) Submit(context.Context, leadapi.Lead) error { return nil }

// snapshot is what the worker saw at the end of a turn.
type snapshot struct {
	history    []session.Message
	nextAgent  string
	identified bool
}

// harness is one call wired to the real gateway, router and agents.
type harness struct {
	t        *testing.T
	conn     *fakeConn
	synth    *fakeSynth
	stt      *fakeSTT
	llm      *llm.FakeClient
	store    *fakeStore
	dir      *fakeDirectory
	streamer *blockingStreamer
	sched    *scheduler
	registry *session.MemoryRegistry
	observer *fakeObserver
	orch     *Orchestrator
	logger   *zap.Logger

	mu    sync.Mutex
	turns []snapshot
	done  chan error
}

type harnessOption func(*harness)

func withLogger(l *zap.Logger) harnessOption {
	return func(h *harness) { h.logger = l }
}

func withCaller(p *crm.Person, owner *crm.Owner) harnessOption {
	return func(h *harness) { h.dir.person, h.dir.owner = p, owner }
}

// withLLM replaces the model answers; routes are consumed by the router
// and dates by the calendar agent.
func withLLM(routes []string, dates ...string) harnessOption {
	return func(h *harness) {
		var mu sync.Mutex
		h.llm.Reply = func(req llm.Request) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			switch req.Name {
			case "router":
				if len(routes) == 0 {
					return string(router.LabelOthers), nil
				}
				r := routes[0]
				routes = routes[1:]
				return r, nil
			case "date_extraction":
				if len(dates) == 0 {
					return "{}", nil
				}
				d := dates[0]
				dates = dates[1:]
				return d, nil
			}
			return "", fmt.Errorf("unexpected request %s", req.Name)
		}
	}
}

func newHarness(t *testing.T, transcripts []string, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		logger:   zaptest.NewLogger(t),
		conn:     newFakeConn(),
		synth:    &fakeSynth{long: "Nous proposons"},
		stt:      &fakeSTT{answers: transcripts},
		llm:      &llm.FakeClient{},
		store:    &fakeStore{},
		dir:      &fakeDirectory{},
		streamer: newBlockingStreamer("Nous proposons plusieurs formations en alternance. "),
		sched:    &scheduler{},
		registry: session.NewMemoryRegistry(),
		observer: &fakeObserver{},
		done:     make(chan error, 1),
	}
	withLLM(nil)(h)
	for _, opt := range opts {
		opt(h)
	}
	logger := h.logger

	rt, err := router.New(h.llm, router.Config{}, logger)
	require.NoError(t, err)

	orch, err := New(Deps{
		Transcriber:   asr.NewGateway(h.stt, asr.GatewayConfig{}, nil, logger),
		Router:        rt,
		Conversations: h.store,
		Synthesizer:   h.synth,
		Directory:     h.dir,
		Registry:      h.registry,
		Observer:      h.observer,
		Agents: []agents.Agent{
			agents.NewCalendarAgent(h.llm, h.sched, agents.CalendarConfig{DefaultOwnerID: "005DEFAULT", MaxRetries: 1, RetryDelay: time.Millisecond}, logger),
			agents.NewLeadAgent(h.llm, leads{}, nil, logger),
			agents.NewCourseAgent(h.streamer, textseg.Config{}, logger),
			agents.OtherAgent{},
		},
	}, Config{
		Audio: outgoing.Config{ChunkDuration: 100 * time.Millisecond, Interval: 100 * time.Millisecond},
	}, logger)
	require.NoError(t, err)
	orch.afterTurn = h.record
	h.orch = orch
	return h
}

func (h *harness) record(st *session.State) {
	_, identified := session.Get[*crm.Person](st.Scratchpad, session.KeyAccountInfo)
	s := snapshot{
		history:    append([]session.Message(nil), st.History...),
		nextAgent:  st.Scratchpad.String(session.KeyNextAgentNeeded),
		identified: identified,
	}
	h.mu.Lock()
	h.turns = append(h.turns, s)
	h.mu.Unlock()
}

func (h *harness) completed() []snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]snapshot(nil), h.turns...)
}

// start runs the call and waits for the welcome turn to be heard.
func (h *harness) start(caller string) {
	h.t.Helper()
	require.NoError(h.t, h.registry.Put(context.Background(), "CA1", caller))
	go func() { h.done <- h.orch.HandleCall(context.Background(), h.conn) }()
	h.conn.start("CA1", caller)
	h.waitTurns(1)
}

func (h *harness) waitTurns(n int) snapshot {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.completed()) >= n }, 5*time.Second, 10*time.Millisecond,
		"turn %d never completed", n)
	return h.completed()[n-1]
}

// hangUp stops the stream and waits for HandleCall to return.
func (h *harness) hangUp() {
	h.t.Helper()
	h.conn.stop()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("HandleCall did not return after stop")
	}
}

func TestHandleCall_WelcomesUnknownCaller(t *testing.T) {
	h := newHarness(t, nil)
	h.start("+33600000000")

	first := h.waitTurns(1)
	welcome := DefaultGreeting + " " + genericWelcome
	require.Len(t, first.history, 1)
	assert.Equal(t, session.RoleAssistant, first.history[0].Role)
	assert.Equal(t, welcome, first.history[0].Content)
	assert.False(t, first.identified)

	assert.Equal(t, []string{DefaultGreeting, genericWelcome}, h.synth.spoken())
	assert.Equal(t, []storedMessage{{"conv-1", welcome}}, h.store.stored())
	assert.Equal(t, []string{"+33600000000"}, h.store.userNames())
	assert.Empty(t, h.llm.Requests(), "the opening turn never asks the router model")

	h.hangUp()
}

func TestHandleCall_WelcomesKnownCallerByName(t *testing.T) {
	h := newHarness(t, nil, withCaller(
		&crm.Person{Kind: crm.KindContact, ID: "003C", Salutation: "Mme", FirstName: "Marie", LastName: "Martin", OwnerID: "005OWNER"},
		&crm.Owner{ID: "005OWNER", Name: "Paul Durand"},
	))
	h.start("+33612345678")

	first := h.waitTurns(1)
	assert.True(t, first.identified)
	spoken := h.synth.spoken()
	require.Len(t, spoken, 2)
	assert.True(t, strings.HasPrefix(spoken[1], "Merci de nous recontacter Madame Marie. "), spoken[1])
	assert.Contains(t, spoken[1], "en l'absence de votre conseiller, Paul Durand.")

	h.hangUp()
}

func TestHandleCall_IgnoresWatermarkTranscript(t *testing.T) {
	h := newHarness(t, []string{"Sous-titrage Société Radio-Canada", "Quelles formations proposez-vous ?"},
		withLLM([]string{string(router.LabelOthers)}))
	h.start("+33600000000")
	spokenAfterWelcome := len(h.synth.spoken())

	h.conn.utterance()
	require.Eventually(t, func() bool { return h.stt.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, h.llm.Requests(), "a watermark must not reach the router")
	assert.Len(t, h.synth.spoken(), spokenAfterWelcome)
	assert.Len(t, h.completed(), 1)

	// still listening
	h.conn.utterance()
	second := h.waitTurns(2)
	require.Len(t, second.history, 3)
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "Quelles formations proposez-vous ?"}, second.history[1])
	assert.Equal(t, agents.Message(agents.KindOtherInquiry), second.history[2].Content)

	h.hangUp()
}

func TestHandleCall_BargeInStopsAnswer(t *testing.T) {
	h := newHarness(t,
		[]string{"Quelles formations proposez-vous ?", "Je voudrais parler à quelqu'un"},
		withLLM([]string{string(router.LabelCourseQuery), string(router.LabelOthers)}))
	h.start("+33600000000")

	h.conn.utterance()
	// the first sentence of the answer is playing
	require.Eventually(t, func() bool {
		sent, _ := h.conn.sent()
		return sent >= 4
	}, 5*time.Second, 10*time.Millisecond)

	h.conn.send(2000, 800*time.Millisecond)
	select {
	case <-h.streamer.interrupted:
	case <-time.After(5 * time.Second):
		t.Fatal("the answer stream was not interrupted")
	}
	_, clears := h.conn.sent()
	assert.GreaterOrEqual(t, clears, 1)
	h.conn.send(0, 400*time.Millisecond)

	interrupted := h.waitTurns(2)
	require.Len(t, interrupted.history, 3)
	assert.Equal(t, "Nous proposons plusieurs formations en alternance.", interrupted.history[2].Content)

	next := h.waitTurns(3)
	require.Len(t, next.history, 5)
	assert.Equal(t, "Je voudrais parler à quelqu'un", next.history[3].Content)
	assert.Equal(t, agents.Message(agents.KindOtherInquiry), next.history[4].Content)

	for _, text := range h.synth.spoken() {
		assert.NotContains(t, text, "n'aurait pas dû")
	}
	// the 3s sentence is 30 chunks; most of it was dropped
	sent, _ := h.conn.sent()
	assert.Less(t, sent, 20)

	_, _, bargeIns := h.observer.snapshot()
	assert.GreaterOrEqual(t, bargeIns, 1)

	h.hangUp()
}

func TestHandleCall_BooksAppointment(t *testing.T) {
	day := time.Now().In(crm.Paris).AddDate(0, 0, 3)
	h := newHarness(t, []string{"Je voudrais un rendez-vous dans trois jours à 14h"},
		withLLM([]string{string(router.LabelScheduleAppointment)},
			fmt.Sprintf(`{"date": %q, "time": "14:00", "duration_minutes": null}`, day.Format("2006-01-02"))))
	h.start("+33600000000")

	h.conn.utterance()
	second := h.waitTurns(2)

	want := agents.AtParis(day, 14, 0)
	booked := h.sched.appointments()
	require.Len(t, booked, 1)
	assert.Equal(t, want, booked[0].Start)
	assert.Equal(t, "005DEFAULT", booked[0].OwnerID)
	assert.Contains(t, second.history[2].Content, crm.FormatFrench(want))
	assert.Empty(t, second.nextAgent)

	h.hangUp()
	_, outcomes, _ := h.observer.snapshot()
	assert.Equal(t, []string{"appointment"}, outcomes)
}

func TestHandleCall_RetriesConversationInit(t *testing.T) {
	h := newHarness(t, []string{"Quelles formations proposez-vous ?"},
		withLLM([]string{string(router.LabelOthers)}))
	h.store.fail(errors.New("rag down"))
	h.start("+33600000000")

	first := h.waitTurns(1)
	require.Len(t, first.history, 1)
	assert.Equal(t, DefaultGreeting+" "+genericWelcome, first.history[0].Content)
	assert.Empty(t, h.store.stored(), "no conversation to store the welcome in")

	h.store.fail(nil)
	h.conn.utterance()
	second := h.waitTurns(2)
	require.Len(t, second.history, 3)
	assert.Equal(t, agents.Message(agents.KindOtherInquiry), second.history[2].Content)
	assert.Len(t, h.store.userNames(), 2)

	h.hangUp()
}

func TestHandleCall_ConversationInitKeepsFailing(t *testing.T) {
	h := newHarness(t, []string{"Quelles formations proposez-vous ?"})
	h.store.fail(errors.New("rag down"))
	h.start("+33600000000")

	h.conn.utterance()
	second := h.waitTurns(2)
	require.Len(t, second.history, 3)
	assert.Equal(t, agents.Message(agents.KindTechnicalError), second.history[2].Content)
	assert.Empty(t, h.llm.Requests(), "nothing is routed without a conversation")

	h.hangUp()
}

func TestHandleCall_CleansUpOnStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start("+33600000000")
	assert.Equal(t, 1, h.orch.Active())

	h.hangUp()
	assert.Equal(t, 0, h.orch.Active())
	assert.Zero(t, h.registry.Len())
	assert.True(t, h.conn.isClosed())

	started, outcomes, _ := h.observer.snapshot()
	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"completed"}, outcomes)
}

func TestHandleCall_LogsCarryTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t, nil, withLogger(zap.New(core)))
	h.start("+33600000000")
	h.hangUp()

	ended := logs.FilterMessage("call ended").All()
	require.Len(t, ended, 1)
	fields := ended[0].ContextMap()
	assert.Equal(t, "CA1", fields["call_sid"])
	assert.NotEmpty(t, fields["trace_id"])
	assert.NotEmpty(t, fields["span_id"])
}

func TestHandleCall_CallerFromRegistry(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.registry.Put(context.Background(), "CA1", "+33611111111"))
	go func() { h.done <- h.orch.HandleCall(context.Background(), h.conn) }()
	h.conn.start("CA1", "")
	h.waitTurns(1)

	assert.Equal(t, []string{"+33611111111"}, h.store.userNames())
	h.hangUp()
}

func TestHandleCall_NoStart(t *testing.T) {
	h := newHarness(t, nil)
	close(h.conn.events)
	err := h.orch.HandleCall(context.Background(), h.conn)
	assert.ErrorIs(t, err, ErrNoStart)
	assert.True(t, h.conn.isClosed())
}

func TestNew_RequiresAllAgents(t *testing.T) {
	_, err := New(Deps{
		Transcriber:   asr.NewGateway(&fakeSTT{}, asr.GatewayConfig{}, nil, nil),
		Router:        &router.Router{},
		Conversations: &fakeStore{},
		Synthesizer:   &fakeSynth{},
		Agents:        []agents.Agent{agents.OtherAgent{}},
	}, Config{}, nil)
	assert.ErrorContains(t, err, agents.NameCalendar)
}
