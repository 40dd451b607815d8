package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const genericWelcome = "Je suis là pour vous aider en l'absence de nos conseillers. " +
	"Je peux répondre à vos questions sur nos formations ou vous proposer un rendez-vous téléphonique avec un conseiller. " +
	"Que puis-je faire pour vous ?"

// conversationStart greets the caller, then opens the RAG conversation
// and looks the caller up in the CRM at the same time before the
// personalised follow-up.
func (c *call) conversationStart(ctx context.Context, t *agents.Turn) (string, error) {
	if c.welcomed {
		return c.resumeConversation(ctx, t)
	}
	c.welcomed = true

	greeting := c.o.cfg.Greeting
	if err := t.Out.Say(ctx, greeting); err != nil {
		return greeting, err
	}

	stopHold := t.Out.Hold(ctx)
	var (
		person *crm.Person
		g      errgroup.Group
	)
	g.Go(func() error { return c.initConversation(ctx) })
	g.Go(func() error {
		person = c.identify(ctx)
		return nil
	})
	initErr := g.Wait()
	stopHold()
	if initErr != nil {
		c.logger.Error("conversation init failed", zap.Error(initErr))
	}

	if person != nil {
		key := session.KeyLeadsInfo
		if person.Kind == crm.KindContact {
			key = session.KeyAccountInfo
		}
		c.st.Scratchpad.Set(key, person)
	}

	follow := followUp(person)
	err := t.Out.Say(ctx, follow)
	welcome := greeting + " " + follow
	c.conversationStartEnd(ctx, welcome)
	return welcome, err
}

// resumeConversation handles a turn that arrived while the opening turn
// could not create the RAG conversation: it retries quietly and then
// routes the caller's words.
func (c *call) resumeConversation(ctx context.Context, t *agents.Turn) (string, error) {
	if err := c.initConversation(ctx); err != nil {
		c.logger.Error("conversation init failed again", zap.Error(err))
		reply := agents.Message(agents.KindTechnicalError)
		return reply, t.Out.Say(ctx, reply)
	}
	if c.st.UserInput == "" {
		return "", nil
	}
	return c.runNode(ctx, c.route(ctx), t)
}

func (c *call) initConversation(ctx context.Context) error {
	ctx, span := trace.InstrumentNode(ctx, NodeInitConversation)
	defer span.End()

	store := c.o.deps.Conversations
	userID, err := store.CreateOrRetrieveUser(ctx, rag.PhoneUser(c.st.CallerPhone, c.st.CallSid))
	if err != nil {
		trace.RecordError(span, err)
		return fmt.Errorf("create user: %w", err)
	}
	convID, err := store.CreateConversation(ctx, userID)
	if err != nil {
		trace.RecordError(span, err)
		return fmt.Errorf("create conversation: %w", err)
	}
	c.st.UserID, c.st.ConversationID = userID, convID
	c.logger.Info("conversation initialized", zap.String("user_id", userID), zap.String("conversation_id", convID))
	return nil
}

// identify returns the caller's CRM record, or nil when unknown or when
// the CRM cannot answer.
func (c *call) identify(ctx context.Context) *crm.Person {
	dir := c.o.deps.Directory
	if dir == nil || c.st.CallerPhone == "" {
		return nil
	}
	ctx, span := trace.InstrumentNode(ctx, NodeUserIdentification)
	defer span.End()

	p, err := dir.GetPersonByPhone(ctx, c.st.CallerPhone)
	if err != nil {
		trace.RecordError(span, err)
		c.logger.Warn("caller lookup failed", zap.Error(err))
		return nil
	}
	if p == nil {
		c.logger.Info("caller not found in CRM")
		return nil
	}
	if p.OwnerID != "" && p.OwnerName == "" {
		if owner, err := dir.GetOwnerByID(ctx, p.OwnerID); err != nil {
			c.logger.Debug("owner lookup failed", zap.String("owner_id", p.OwnerID), zap.Error(err))
		} else if owner != nil {
			p.OwnerName = owner.Name
		}
	}
	c.logger.Info("caller identified", zap.String("kind", p.Kind), zap.String("id", p.ID))
	return p
}

// followUp is the second half of the welcome.
func followUp(p *crm.Person) string {
	if p == nil || strings.TrimSpace(p.FirstName) == "" {
		return genericWelcome
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Merci de nous recontacter %s. ", strings.TrimSpace(p.Civility()+" "+p.FirstName))
	if p.OwnerName != "" {
		fmt.Fprintf(&b, "Je suis là pour vous aider en l'absence de votre conseiller, %s. ", p.OwnerName)
	} else {
		b.WriteString("Je suis là pour vous aider en l'absence de nos conseillers. ")
	}
	b.WriteString("Je peux répondre à vos questions sur nos formations ou planifier un rendez-vous téléphonique. Que puis-je faire pour vous ?")
	return b.String()
}

// conversationStartEnd records the welcome in the RAG conversation. The
// local history gets it from the turn.
func (c *call) conversationStartEnd(ctx context.Context, welcome string) {
	if !c.st.Started() {
		return
	}
	ctx, span := trace.InstrumentNode(ctx, NodeConversationStartEnd)
	defer span.End()
	if err := c.o.deps.Conversations.AddExternalMessage(ctx, c.st.ConversationID, welcome); err != nil {
		trace.RecordError(span, err)
		c.logger.Warn("could not store welcome in conversation", zap.Error(err))
	}
}
