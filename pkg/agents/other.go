package agents

import (
	"context"

	"github.com/festnoze/squad-ai-sub000/pkg/session"
)

// OtherAgent answers requests outside the assistant's scope.
type OtherAgent struct{}

// Name implements Agent.
func (OtherAgent) Name() string { return NameOther }

// Run speaks the fixed out-of-scope reply.
func (OtherAgent) Run(ctx context.Context, t *Turn) (string, error) {
	t.State.Scratchpad.Delete(session.KeyNextAgentNeeded)
	return say(ctx, t, Message(KindOtherInquiry))
}
