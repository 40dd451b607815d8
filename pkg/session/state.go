// Package session holds the per-call conversation record.
//
// A State is created when the telephony stream starts and dropped when it
// stops. It is owned by the call's orchestrator; agents read and write it
// only through the turn they are given, never concurrently.
package session

import (
	"strings"
	"time"
)

// Role of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one history entry.
type Message struct {
	Role    Role
	Content string
}

// Default bounds of the history tail handed to classifiers.
const (
	DefaultTailMessages = 8
	DefaultTailChars    = 16000
)

// State is the conversation record of one call.
type State struct {
	CallSid     string
	CallerPhone string
	StreamSid   string

	// ConversationID and UserID come from the RAG service; empty until the
	// welcome flow ran.
	ConversationID string
	UserID         string

	History   []Message
	UserInput string

	Scratchpad Scratchpad

	StartedAt time.Time
	Turns     int
}

// New creates the state of a call.
func New(callSid, callerPhone string) *State {
	return &State{
		CallSid:     callSid,
		CallerPhone: callerPhone,
		Scratchpad:  Scratchpad{},
		StartedAt:   time.Now(),
	}
}

// AddUser appends a caller message.
func (s *State) AddUser(text string) {
	s.add(RoleUser, text)
}

// AddAssistant appends an assistant message.
func (s *State) AddAssistant(text string) {
	s.add(RoleAssistant, text)
}

func (s *State) add(role Role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.History = append(s.History, Message{Role: role, Content: text})
}

// Started reports whether the welcome flow already initialized the
// conversation.
func (s *State) Started() bool {
	return s.ConversationID != ""
}

// Tail returns at most maxMessages trailing messages whose contents add up
// to at most maxChars. The newest message is always kept, cut from the
// front when it alone exceeds maxChars.
func (s *State) Tail(maxMessages, maxChars int) []Message {
	if maxMessages <= 0 {
		maxMessages = DefaultTailMessages
	}
	if maxChars <= 0 {
		maxChars = DefaultTailChars
	}
	if len(s.History) == 0 {
		return nil
	}

	var out []Message
	total := 0
	for i := len(s.History) - 1; i >= 0 && len(out) < maxMessages; i-- {
		m := s.History[i]
		n := len([]rune(m.Content))
		if total+n > maxChars {
			if len(out) == 0 {
				r := []rune(m.Content)
				m.Content = string(r[len(r)-maxChars:])
				out = append(out, m)
			}
			break
		}
		total += n
		out = append(out, m)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FormatHistory renders messages one per line, as fed to prompts.
func FormatHistory(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			b.WriteString("Utilisateur: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
