// Package router picks the agent that handles a caller utterance.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"go.uber.org/zap"
)

// Label is a routing decision.
type Label string

const (
	// LabelConversationStart is forced before the conversation exists.
	LabelConversationStart Label = "conversation_start"
	// LabelWaitForUserInput is forced when there is nothing to classify.
	LabelWaitForUserInput Label = "wait_for_user_input"

	LabelScheduleAppointment Label = "schedule_calendar_appointment"
	LabelCourseQuery         Label = "training_course_query"
	LabelOthers              Label = "others"
)

// ClassifierLabels are the labels the model may answer.
var ClassifierLabels = []Label{LabelScheduleAppointment, LabelCourseQuery, LabelOthers}

// ErrUnknownLabel is returned when the model answered outside the label set.
var ErrUnknownLabel = errors.New("unknown routing label")

// ParseLabel reads a classifier answer. Case, surrounding quotes and
// punctuation are ignored, but the answer must be exactly one label: a
// sentence mentioning labels is rejected.
func ParseLabel(answer string) (Label, error) {
	s := strings.ToLower(strings.TrimSpace(answer))
	s = strings.Trim(s, "\"'`.*: \n\t")
	for _, l := range ClassifierLabels {
		if s == string(l) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLabel, answer)
}

const defaultPrompt = `Tu es le standard téléphonique d'une école de formation professionnelle.
Classe la dernière demande de l'appelant dans une seule catégorie parmi :
- schedule_calendar_appointment : l'appelant veut prendre, déplacer ou confirmer un rendez-vous avec un conseiller, ou répond à une question sur un créneau.
- training_course_query : l'appelant pose une question sur les formations, leurs contenus, tarifs, financements, durées ou modalités.
- others : toute autre demande.
{{if .History}}
Historique récent de la conversation :
{{.History}}
{{end}}
Demande de l'appelant : {{.Utterance}}

Réponds uniquement par le nom de la catégorie, sans autre texte.`

// Config tunes the classifier.
type Config struct {
	TailMessages int
	TailChars    int
	// Prompt overrides the default text/template prompt. It is rendered
	// with .History and .Utterance.
	Prompt string
}

// Router classifies utterances with an LLM.
type Router struct {
	client llm.Client
	cfg    Config
	tmpl   *template.Template
	logger *zap.Logger
}

// New creates a router.
func New(client llm.Client, cfg Config, logger *zap.Logger) (*Router, error) {
	if cfg.TailMessages <= 0 {
		cfg.TailMessages = session.DefaultTailMessages
	}
	if cfg.TailChars <= 0 {
		cfg.TailChars = session.DefaultTailChars
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	tmpl, err := template.New("router").Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("parse router prompt: %w", err)
	}
	return &Router{
		client: client,
		cfg:    cfg,
		tmpl:   tmpl,
		logger: logging.OrNop(logger).Named("router"),
	}, nil
}

// Route decides the label for the current turn of st. Answers outside the
// label set fall back to LabelOthers.
func (r *Router) Route(ctx context.Context, st *session.State) (Label, error) {
	if !st.Started() {
		return LabelConversationStart, nil
	}
	input := strings.TrimSpace(st.UserInput)
	if input == "" {
		return LabelWaitForUserInput, nil
	}

	history := st.Tail(r.cfg.TailMessages, r.cfg.TailChars)
	if n := len(history); n > 0 && history[n-1].Role == session.RoleUser && history[n-1].Content == input {
		history = history[:n-1]
	}

	label, err := r.Classify(ctx, input, history)
	if errors.Is(err, ErrUnknownLabel) {
		r.logger.Warn("classifier answered outside the label set", zap.Error(err))
		return LabelOthers, nil
	}
	return label, err
}

// Classify asks the model for one of ClassifierLabels.
func (r *Router) Classify(ctx context.Context, utterance string, history []session.Message) (Label, error) {
	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, struct {
		History   string
		Utterance string
	}{session.FormatHistory(history), utterance})
	if err != nil {
		return "", fmt.Errorf("render router prompt: %w", err)
	}

	answer, err := r.client.Complete(ctx, llm.Request{
		Name:      "router",
		Messages:  []llm.Message{{Role: "user", Content: buf.String()}},
		MaxTokens: 20,
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	label, err := ParseLabel(answer)
	if err != nil {
		return "", err
	}
	r.logger.Debug("utterance classified", zap.String("label", string(label)))
	return label, nil
}
