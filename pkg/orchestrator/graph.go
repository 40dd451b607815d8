package orchestrator

import (
	"context"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/router"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Graph nodes. Agent nodes are named after the agents.
const (
	NodeRouter               = "router"
	NodeConversationStart    = "conversation_start"
	NodeInitConversation     = "init_conversation"
	NodeUserIdentification   = "user_identification"
	NodeConversationStartEnd = "conversation_start_end"
	NodeWaitForUserInput     = "wait_for_user_input"
	NodeTechnicalError       = "technical_error"
	NodeEnd                  = "END"
)

// nodeFor maps a routing label to the node that handles it.
func nodeFor(l router.Label) string {
	switch l {
	case router.LabelConversationStart:
		return NodeConversationStart
	case router.LabelScheduleAppointment:
		return agents.NameCalendar
	case router.LabelCourseQuery:
		return agents.NameCourse
	case router.LabelOthers:
		return agents.NameOther
	default:
		return NodeWaitForUserInput
	}
}

// runGraph makes one pass router → node → END and returns the node that
// ran with the assistant text it produced.
func (c *call) runGraph(ctx context.Context, t *agents.Turn) (string, string, error) {
	node := c.route(ctx)
	reply, err := c.runNode(ctx, node, t)

	sp := c.st.Scratchpad
	if sp.Terminal() {
		c.logger.Info("outcome reached",
			zap.String("node", node),
			zap.String("lead_status", sp.String(session.KeyLeadLastStatus)),
			zap.Bool("appointment_created", sp.Bool(session.KeyAppointmentCreated)))
	}
	c.logger.Debug("graph done", zap.String("node", node), zap.String("next", NodeEnd),
		zap.String("next_agent_needed", sp.String(session.KeyNextAgentNeeded)))
	return node, reply, err
}

// route honours an agent that asked for the next turn, and otherwise
// classifies the input.
func (c *call) route(ctx context.Context) string {
	ctx, span := trace.InstrumentNode(ctx, NodeRouter)
	defer span.End()

	sp := c.st.Scratchpad
	if next := sp.String(session.KeyNextAgentNeeded); next != "" && c.st.Started() {
		if _, ok := c.o.agents[next]; ok {
			c.logger.Debug("routing to requested agent", zap.String("agent", next))
			return next
		}
		c.logger.Warn("unknown next agent dropped", zap.String("agent", next))
		sp.Delete(session.KeyNextAgentNeeded)
	}

	label, err := c.o.deps.Router.Route(ctx, c.st)
	if err != nil {
		trace.RecordError(span, err)
		if ctx.Err() == nil {
			c.logger.Error("routing failed", zap.Error(err))
		}
		return NodeTechnicalError
	}
	trace.SetAttributes(span, attribute.String(trace.AttrTurnLabel, string(label)))
	c.logger.Info("routed", zap.String("label", string(label)))
	return nodeFor(label)
}

func (c *call) runNode(ctx context.Context, node string, t *agents.Turn) (string, error) {
	ctx, span := trace.InstrumentNode(ctx, node)
	defer span.End()

	var (
		reply string
		err   error
	)
	switch node {
	case NodeConversationStart:
		reply, err = c.conversationStart(ctx, t)
	case NodeWaitForUserInput:
	case NodeTechnicalError:
		reply = agents.Message(agents.KindTechnicalError)
		err = t.Out.Say(ctx, reply)
	default:
		reply, err = c.o.agents[node].Run(ctx, t)
	}
	if err != nil && !isInterruption(err) {
		trace.RecordError(span, err)
	}
	return reply, err
}
