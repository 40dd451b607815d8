// Package turn tracks who holds the floor during a call and decides when
// the caller's speech interrupts the assistant.
//
// States move Idle → UserSpeaking → Processing → AIResponding → Idle. A
// barge-in while Processing or AIResponding moves to Interrupted, unless
// the previous interruption is more recent than the cooldown; the next
// utterance starts a fresh turn.
package turn

import (
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"go.uber.org/zap"
)

// State of the conversation floor.
type State int

const (
	StateIdle State = iota
	StateUserSpeaking
	StateProcessing
	StateAIResponding
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateProcessing:
		return "processing"
	case StateAIResponding:
		return "ai_responding"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Source says what asked for an interruption.
type Source string

const (
	SourceVAD    Source = "vad"
	SourceManual Source = "manual"
)

// Interruption is passed to the registered callbacks.
type Interruption struct {
	Source Source
	Turn   int
	State  State
	At     time.Time
	Reason string
}

// Config holds the tunables.
type Config struct {
	// Cooldown ignores barge-ins this soon after the previous one.
	Cooldown time.Duration
}

// DefaultConfig returns a 500 ms cooldown.
func DefaultConfig() Config {
	return Config{Cooldown: 500 * time.Millisecond}
}

// Manager is safe for concurrent use: the inbound loop reports speech
// while the turn goroutine reports responses.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           State
	turn            int
	lastInterruptAt time.Time
	callbacks       []func(Interruption)
}

// NewManager creates a manager in StateIdle.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("turn"),
		now:    time.Now,
	}
}

// OnInterrupt registers fn. Callbacks run synchronously, outside the lock.
func (m *Manager) OnInterrupt(fn func(Interruption)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turn returns the number of the current turn.
func (m *Manager) Turn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// SpeechStarted records caller speech. It does not end an assistant
// response; BargeIn does.
func (m *Manager) SpeechStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateIdle, StateInterrupted:
		m.transition(StateUserSpeaking)
	}
}

// UtteranceReady starts a new turn and returns its number.
func (m *Manager) UtteranceReady() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turn++
	m.transition(StateProcessing)
	return m.turn
}

// ResponseStarted records that assistant audio is playing for turn. A
// stale turn number is ignored.
func (m *Manager) ResponseStarted(turn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn != m.turn || m.state == StateInterrupted {
		return
	}
	m.transition(StateAIResponding)
}

// ResponseEnded returns to idle unless the caller already took the floor.
func (m *Manager) ResponseEnded(turn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn != m.turn {
		return
	}
	switch m.state {
	case StateProcessing, StateAIResponding, StateInterrupted:
		m.transition(StateIdle)
	}
}

// BargeIn reports whether the caller's speech interrupts the assistant.
// On true the callbacks have run.
func (m *Manager) BargeIn(reason string) bool {
	return m.interrupt(SourceVAD, reason, false)
}

// Interrupt forces an interruption regardless of the cooldown.
func (m *Manager) Interrupt(reason string) bool {
	return m.interrupt(SourceManual, reason, true)
}

func (m *Manager) interrupt(src Source, reason string, force bool) bool {
	m.mu.Lock()
	if m.state != StateProcessing && m.state != StateAIResponding {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	if !force && !m.lastInterruptAt.IsZero() && now.Sub(m.lastInterruptAt) < m.cfg.Cooldown {
		m.logger.Debug("barge-in ignored during cooldown", zap.Duration("since_last", now.Sub(m.lastInterruptAt)))
		m.mu.Unlock()
		return false
	}

	ev := Interruption{Source: src, Turn: m.turn, State: m.state, At: now, Reason: reason}
	m.lastInterruptAt = now
	m.transition(StateInterrupted)
	callbacks := append(([]func(Interruption))(nil), m.callbacks...)
	m.mu.Unlock()

	m.logger.Info("assistant interrupted",
		zap.String("source", string(src)),
		zap.String("reason", reason),
		zap.Int("turn", ev.Turn),
		zap.Stringer("was", ev.State))
	for _, fn := range callbacks {
		fn(ev)
	}
	return true
}

func (m *Manager) transition(to State) {
	if m.state == to {
		return
	}
	m.logger.Debug("state change", zap.Stringer("from", m.state), zap.Stringer("to", to))
	m.state = to
}
