package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"go.uber.org/zap"
)

// Scheduler is the part of the CRM the calendar agent uses.
type Scheduler interface {
	GetScheduledAppointments(ctx context.Context, start, end time.Time, ownerID string) ([]crm.Event, error)
	ScheduleNewAppointment(ctx context.Context, a crm.NewAppointment, maxRetries int, retryDelay time.Duration) (string, error)
}

// CalendarSlot is the appointment being negotiated, kept in the
// scratchpad under session.KeyCalendarSlot between turns.
type CalendarSlot struct {
	Day      time.Time // Paris midnight
	Start    time.Time // UTC
	Duration time.Duration
	Subject  string
	OwnerID  string
	WhoID    string
}

// End returns the end of the slot.
func (s *CalendarSlot) End() time.Time { return s.Start.Add(s.Duration) }

// CalendarConfig holds the scheduling policy.
type CalendarConfig struct {
	DefaultOwnerID string
	MaxRetries     int
	RetryDelay     time.Duration
	TailMessages   int
	TailChars      int
}

// CalendarAgent books a call-back appointment with an advisor.
type CalendarAgent struct {
	llm    llm.Client
	crm    Scheduler
	cfg    CalendarConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewCalendarAgent creates the agent. Zero retry settings take the CRM
// defaults.
func NewCalendarAgent(client llm.Client, scheduler Scheduler, cfg CalendarConfig, logger *zap.Logger) *CalendarAgent {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = crm.DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = crm.DefaultRetryDelay
	}
	return &CalendarAgent{
		llm:    client,
		crm:    scheduler,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("calendar-agent"),
		now:    time.Now,
	}
}

// Name implements Agent.
func (a *CalendarAgent) Name() string { return NameCalendar }

// Run fills the slot from the utterance, then checks the advisor's
// calendar and books.
func (a *CalendarAgent) Run(ctx context.Context, t *Turn) (string, error) {
	st := t.State
	sp := st.Scratchpad
	slot := a.slot(st)
	sp.Set(session.KeyNextAgentNeeded, NameCalendar)
	sp.Set(session.KeyCalendarSlot, slot)

	now := a.now()
	history := st.Tail(a.cfg.TailMessages, a.cfg.TailChars)
	ext, err := ExtractDateTime(ctx, a.llm, st.UserInput, history, now)
	switch {
	case err == nil:
		if ext.Duration > 0 {
			slot.Duration = ext.Duration
		}
		switch {
		case ext.HasStart():
			slot.Day, slot.Start = ext.Day, ext.Start
		case ext.HasDay():
			slot.Day, slot.Start = ext.Day, time.Time{}
		case ext.HasClock && !slot.Day.IsZero():
			// an hour alone applies to the day already chosen
			slot.Start = AtParis(slot.Day, ext.Hour, ext.Minute)
		}
	case errors.Is(err, llm.ErrNoJSON):
		a.logger.Warn("date extraction returned no JSON", zap.Error(err))
	default:
		a.logger.Warn("date extraction failed", zap.Error(err))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if slot.Day.IsZero() || slot.Start.IsZero() {
		return say(ctx, t, a.question(ctx, st, slot))
	}

	if !slot.Start.After(now) {
		slot.Day, slot.Start = time.Time{}, time.Time{}
		return say(ctx, t, "Ce créneau est déjà passé. Quel autre jour vous conviendrait ?")
	}

	busy, err := a.crm.GetScheduledAppointments(ctx, slot.Start, slot.End(), slot.OwnerID)
	if err != nil {
		a.logger.Error("calendar lookup failed", zap.Error(err))
		return a.fail(ctx, t)
	}
	if len(busy) > 0 {
		return a.unavailable(ctx, t, slot)
	}

	id, err := a.crm.ScheduleNewAppointment(ctx, crm.NewAppointment{
		Subject:     slot.Subject,
		Start:       slot.Start,
		Duration:    slot.Duration,
		Description: a.description(st),
		OwnerID:     slot.OwnerID,
		WhoID:       slot.WhoID,
	}, a.cfg.MaxRetries, a.cfg.RetryDelay)
	switch {
	case errors.Is(err, crm.ErrPastDate):
		slot.Day, slot.Start = time.Time{}, time.Time{}
		return say(ctx, t, "Ce créneau est déjà passé. Quel autre jour vous conviendrait ?")
	case errors.Is(err, crm.ErrSlotTaken):
		a.logger.Info("slot taken at booking time", zap.Error(err))
		return a.unavailable(ctx, t, slot)
	case err != nil:
		a.logger.Error("appointment scheduling failed", zap.Error(err))
		return a.fail(ctx, t)
	case id == "":
		a.logger.Warn("appointment not created", zap.Time("start", slot.Start))
		return a.fail(ctx, t)
	}

	a.logger.Info("appointment created", zap.String("event_id", id), zap.Time("start", slot.Start))
	sp.Set(session.KeyAppointmentCreated, true)
	sp.Delete(session.KeyAppointmentFailed)
	sp.Delete(session.KeyNextAgentNeeded)
	sp.Delete(session.KeyCalendarSlot)
	return say(ctx, t, fmt.Sprintf(
		"C'est noté : votre rendez-vous avec un conseiller est confirmé pour le %s. Vous serez appelé à ce moment-là. Puis-je vous aider pour autre chose ?",
		crm.FormatFrench(slot.Start)))
}

// unavailable drops the requested hour and asks for another one. The day
// is kept and the calendar agent keeps the floor.
func (a *CalendarAgent) unavailable(ctx context.Context, t *Turn, slot *CalendarSlot) (string, error) {
	when := crm.FormatFrench(slot.Start)
	slot.Start = time.Time{}
	return say(ctx, t, fmt.Sprintf("Le créneau du %s n'est pas disponible. Quel autre horaire vous conviendrait ?", when))
}

// fail records the failure and hands over to the lead agent so that an
// advisor can call back.
func (a *CalendarAgent) fail(ctx context.Context, t *Turn) (string, error) {
	sp := t.State.Scratchpad
	sp.Set(session.KeyAppointmentFailed, true)
	sp.Delete(session.KeyCalendarSlot)
	sp.Set(session.KeyNextAgentNeeded, NameLead)
	return say(ctx, t, "Je suis désolé, je n'ai pas pu enregistrer ce rendez-vous dans l'agenda. "+
		"Je peux prendre vos coordonnées pour qu'un conseiller vous rappelle. Pouvez-vous me donner votre prénom, votre nom et votre adresse e-mail ?")
}

// slot returns the slot under negotiation, creating it from the caller's
// CRM record.
func (a *CalendarAgent) slot(st *session.State) *CalendarSlot {
	if s, ok := session.Get[*CalendarSlot](st.Scratchpad, session.KeyCalendarSlot); ok && s != nil {
		return s
	}
	s := &CalendarSlot{Duration: crm.DefaultDuration, OwnerID: a.cfg.DefaultOwnerID}
	name := st.CallerPhone
	if p := identifiedPerson(st); p != nil {
		s.WhoID = p.ID
		if p.OwnerID != "" {
			s.OwnerID = p.OwnerID
		}
		if full := strings.TrimSpace(p.FirstName + " " + p.LastName); full != "" {
			name = full
		}
	}
	s.Subject = "Rendez-vous conseiller formation"
	if name != "" {
		s.Subject += " - " + name
	}
	return s
}

func (a *CalendarAgent) description(st *session.State) string {
	var b strings.Builder
	b.WriteString("Rendez-vous pris par l'assistant téléphonique.")
	if st.CallerPhone != "" {
		b.WriteString(" Téléphone : " + st.CallerPhone + ".")
	}
	if st.CallSid != "" {
		b.WriteString(" Appel : " + st.CallSid + ".")
	}
	return b.String()
}

const questionPrompt = `Tu es l'assistant téléphonique d'une école de formation. Tu aides l'appelant à fixer un rendez-vous téléphonique avec un conseiller.
Il manque encore : %s.
Formule une seule question courte et naturelle, en français, pour obtenir cette information. Réponds uniquement par la question.

Historique récent :
%s`

// question asks the model for a natural question about the missing part
// of the slot, falling back to a fixed one.
func (a *CalendarAgent) question(ctx context.Context, st *session.State, slot *CalendarSlot) string {
	missing, fallback := "le jour et l'heure du rendez-vous", "Quel jour et à quelle heure souhaitez-vous être rappelé par un conseiller ?"
	if !slot.Day.IsZero() {
		day := slot.Day.In(crm.Paris)
		missing = "l'heure du rendez-vous le " + strings.TrimSuffix(crm.FormatFrench(day), " à 0h00")
		fallback = "À quelle heure souhaitez-vous être rappelé ce jour-là ?"
	}

	prompt := fmt.Sprintf(questionPrompt, missing, session.FormatHistory(st.Tail(a.cfg.TailMessages, a.cfg.TailChars)))
	reply, err := a.llm.Complete(ctx, llm.Request{Name: "calendar_question", Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 80})
	reply = strings.Trim(strings.TrimSpace(reply), "\"")
	if err != nil || reply == "" {
		return fallback
	}
	return reply
}

// identifiedPerson returns the caller's CRM record, if any.
func identifiedPerson(st *session.State) *crm.Person {
	for _, key := range []string{session.KeyAccountInfo, session.KeyLeadsInfo} {
		if p, ok := session.Get[*crm.Person](st.Scratchpad, key); ok && p != nil {
			return p
		}
	}
	return nil
}
