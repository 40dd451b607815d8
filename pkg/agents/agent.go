// Package agents holds the per-turn handlers the conversation graph
// dispatches to. Agents keep no state of their own: everything that must
// survive a turn lives in the session scratchpad.
package agents

import (
	"context"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
)

// Agent names, also the values of session.KeyNextAgentNeeded.
const (
	NameCalendar = "calendar_agent"
	NameLead     = "lead_agent"
	NameCourse   = "rag_course_agent"
	NameOther    = "other_inquiry"
)

// Output is where an agent speaks.
type Output interface {
	// Say synthesizes text and queues it for the caller.
	Say(ctx context.Context, text string) error
	// Hold plays waiting music until stop is called. stop returns once the
	// music can no longer reach the caller.
	Hold(ctx context.Context) (stop func())
}

// Turn is what an agent works on.
type Turn struct {
	State *session.State
	Out   Output
	// Interrupt is set on barge-in; streaming agents stop reading when it is.
	Interrupt *rag.InterruptFlag
}

// Agent handles one turn and returns the assistant text to record in the
// history. Failures of collaborators are turned into spoken apologies;
// the error is only set when speaking itself failed or the turn was
// interrupted.
type Agent interface {
	Name() string
	Run(ctx context.Context, t *Turn) (string, error)
}

// say speaks text and returns it for the history.
func say(ctx context.Context, t *Turn, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if err := t.Out.Say(ctx, text); err != nil {
		return text, err
	}
	return text, nil
}

// joinFrench joins items as "a, b et c".
func joinFrench(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " et " + items[len(items)-1]
}
