package turn

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(cooldown time.Duration) (*Manager, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(Config{Cooldown: cooldown}, nil)
	m.now = c.now
	return m, c
}

func TestManager_TurnLifecycle(t *testing.T) {
	m, _ := newTestManager(0)

	if got := m.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	m.SpeechStarted()
	if got := m.State(); got != StateUserSpeaking {
		t.Errorf("after speech = %s, want user_speaking", got)
	}
	turn := m.UtteranceReady()
	if turn != 1 || m.State() != StateProcessing {
		t.Errorf("turn = %d state = %s, want 1 processing", turn, m.State())
	}
	m.ResponseStarted(turn)
	if got := m.State(); got != StateAIResponding {
		t.Errorf("after response start = %s", got)
	}
	m.ResponseEnded(turn)
	if got := m.State(); got != StateIdle {
		t.Errorf("after response end = %s", got)
	}
}

func TestManager_StaleTurnIgnored(t *testing.T) {
	m, _ := newTestManager(0)
	first := m.UtteranceReady()
	second := m.UtteranceReady()

	m.ResponseStarted(first)
	if got := m.State(); got != StateProcessing {
		t.Errorf("stale response start changed state to %s", got)
	}
	m.ResponseStarted(second)
	m.ResponseEnded(first)
	if got := m.State(); got != StateAIResponding {
		t.Errorf("stale response end changed state to %s", got)
	}
}

func TestManager_BargeIn(t *testing.T) {
	m, c := newTestManager(500 * time.Millisecond)
	var got []Interruption
	m.OnInterrupt(func(i Interruption) { got = append(got, i) })

	if m.BargeIn("speech") {
		t.Error("barge-in while idle should be ignored")
	}

	turn := m.UtteranceReady()
	m.ResponseStarted(turn)
	if !m.BargeIn("speech") {
		t.Fatal("barge-in while responding should interrupt")
	}
	if m.State() != StateInterrupted {
		t.Errorf("state = %s, want interrupted", m.State())
	}
	if len(got) != 1 || got[0].Source != SourceVAD || got[0].State != StateAIResponding || got[0].Turn != turn {
		t.Errorf("callback got %+v", got)
	}

	// the interrupted turn ending late must not hide the caller
	m.ResponseStarted(turn)
	if m.State() != StateInterrupted {
		t.Errorf("interrupted turn restarted: %s", m.State())
	}

	next := m.UtteranceReady()
	m.ResponseStarted(next)
	c.t = c.t.Add(100 * time.Millisecond)
	if m.BargeIn("speech") {
		t.Error("barge-in inside cooldown should be ignored")
	}
	if !m.Interrupt("hangup") {
		t.Error("forced interrupt should ignore the cooldown")
	}
	if len(got) != 2 || got[1].Source != SourceManual {
		t.Errorf("callbacks = %+v", got)
	}

	c.t = c.t.Add(time.Second)
	third := m.UtteranceReady()
	if !m.BargeIn("speech") {
		t.Error("barge-in while processing after cooldown should interrupt")
	}
	m.ResponseEnded(third)
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestState_String(t *testing.T) {
	if StateAIResponding.String() != "ai_responding" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
