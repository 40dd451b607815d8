package agents

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/leadapi"
	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"go.uber.org/zap"
)

// LeadSubmitter posts a complete lead.
type LeadSubmitter interface {
	Submit(ctx context.Context, lead leadapi.Lead) error
}

// LeadField describes one field of the lead form.
type LeadField struct {
	Name string
	// Description is how the field is asked for ("votre prénom").
	Description string
	Required    bool
}

// DefaultLeadSchema is the lead form of the school.
var DefaultLeadSchema = []LeadField{
	{Name: "first_name", Description: "votre prénom", Required: true},
	{Name: "last_name", Description: "votre nom", Required: true},
	{Name: "email", Description: "votre adresse e-mail", Required: true},
	{Name: "phone", Description: "votre numéro de téléphone", Required: true},
	{Name: "training_interest", Description: "la formation qui vous intéresse", Required: true},
	{Name: "company", Description: "votre entreprise"},
	{Name: "consent", Description: "votre accord pour être recontacté"},
}

// LeadAgent collects the prospect's details and submits them.
type LeadAgent struct {
	llm    llm.Client
	api    LeadSubmitter
	schema []LeadField
	logger *zap.Logger
}

// NewLeadAgent creates the agent. A nil schema uses DefaultLeadSchema.
func NewLeadAgent(client llm.Client, api LeadSubmitter, schema []LeadField, logger *zap.Logger) *LeadAgent {
	if len(schema) == 0 {
		schema = DefaultLeadSchema
	}
	return &LeadAgent{
		llm:    client,
		api:    api,
		schema: schema,
		logger: logging.OrNop(logger).Named("lead-agent"),
	}
}

// Name implements Agent.
func (a *LeadAgent) Name() string { return NameLead }

// Run extracts fields from the utterance, merges them with what earlier
// turns gathered and either asks for the rest or submits the lead.
func (a *LeadAgent) Run(ctx context.Context, t *Turn) (string, error) {
	st := t.State
	sp := st.Scratchpad

	fields := maps.Clone(sp.Fields(session.KeyLeadExtracted))
	if fields == nil {
		fields = a.prefill(st)
	}

	// an unusable extraction adds nothing and the missing fields are asked again
	extracted, err := a.extract(ctx, st.UserInput)
	if err != nil {
		a.logger.Warn("lead extraction failed", zap.Error(err))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	MergeLeadFields(fields, extracted)
	firstAsk := !sp.Has(session.KeyLeadMissingFields)
	missing := a.MissingFields(fields)
	sp.Set(session.KeyLeadExtracted, fields)
	sp.Set(session.KeyLeadMissingFields, missing)

	if len(missing) > 0 {
		sp.Set(session.KeyNextAgentNeeded, NameLead)
		return say(ctx, t, a.askFor(missing, firstAsk))
	}

	sp.Delete(session.KeyNextAgentNeeded)
	err = a.api.Submit(ctx, leadapi.Lead{
		Fields:         fields,
		CallSid:        st.CallSid,
		CallerPhone:    st.CallerPhone,
		ConversationID: st.ConversationID,
	})
	if err != nil {
		a.logger.Error("lead submission failed", zap.Error(err))
		sp.Set(session.KeyLeadLastStatus, session.LeadAPIError)
		return say(ctx, t, Message(KindLeadAgentError))
	}

	sp.Set(session.KeyLeadLastStatus, session.LeadCaptured)
	thanks := "Merci"
	if first := fields["first_name"]; first != "" {
		thanks += " " + first
	}
	return say(ctx, t, thanks+", vos coordonnées ont bien été transmises. Un conseiller vous recontactera très prochainement.")
}

// prefill seeds the form from the caller's CRM record and phone number.
func (a *LeadAgent) prefill(st *session.State) map[string]string {
	fields := map[string]string{}
	if p := identifiedPerson(st); p != nil {
		fields["first_name"] = p.FirstName
		fields["last_name"] = p.LastName
		fields["email"] = p.Email
		fields["company"] = p.Company
	}
	if st.CallerPhone != "" {
		fields["phone"] = st.CallerPhone
	}
	maps.DeleteFunc(fields, func(_, v string) bool { return strings.TrimSpace(v) == "" })
	return fields
}

const leadPrompt = `Extrais de la phrase de l'utilisateur les informations suivantes lorsqu'elles sont présentes :
%s
Les adresses e-mail dictées ("jean point dupont arobase gmail point com") doivent être réécrites sous leur forme normale.
Réponds uniquement avec un objet JSON contenant les champs trouvés, sans inventer de valeur. Exemple : {"first_name": "Jean"}

Phrase : %s`

func (a *LeadAgent) extract(ctx context.Context, utterance string) (map[string]string, error) {
	var b strings.Builder
	for _, f := range a.schema {
		fmt.Fprintf(&b, "- %s : %s\n", f.Name, f.Description)
	}
	var raw map[string]any
	req := llm.Request{Name: "lead_extraction", Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(leadPrompt, b.String(), utterance)}}}
	if err := llm.CompleteJSON(ctx, a.llm, req, &raw); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(a.schema))
	for _, f := range a.schema {
		known[f.Name] = true
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if !known[k] || v == nil {
			continue
		}
		var s string
		switch v := v.(type) {
		case string:
			s = strings.TrimSpace(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		default:
			continue
		}
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		out[k] = s
	}
	if email, ok := out["email"]; ok {
		email = strings.ToLower(strings.ReplaceAll(email, " ", ""))
		if !strings.Contains(email, "@") {
			delete(out, "email")
		} else {
			out["email"] = email
		}
	}
	return out, nil
}

// MergeLeadFields copies non-empty values of update into fields.
func MergeLeadFields(fields, update map[string]string) {
	for k, v := range update {
		if v = strings.TrimSpace(v); v != "" {
			fields[k] = v
		}
	}
}

// MissingFields lists the required schema fields absent from fields, in
// schema order.
func (a *LeadAgent) MissingFields(fields map[string]string) []string {
	var missing []string
	for _, f := range a.schema {
		if f.Required && strings.TrimSpace(fields[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func (a *LeadAgent) askFor(missing []string, firstAsk bool) string {
	desc := make([]string, 0, len(missing))
	for _, name := range missing {
		for _, f := range a.schema {
			if f.Name == name {
				desc = append(desc, f.Description)
			}
		}
	}
	if firstAsk {
		return fmt.Sprintf("Pour qu'un conseiller puisse vous recontacter, pouvez-vous me donner %s ?", joinFrench(desc))
	}
	return fmt.Sprintf("Merci. Pour compléter votre demande, pouvez-vous me donner %s ?", joinFrench(desc))
}
