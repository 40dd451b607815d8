package router

import (
	"context"
	"errors"
	"testing"

	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		answer string
		want   Label
		err    bool
	}{
		{"training_course_query", LabelCourseQuery, false},
		{"  \"schedule_calendar_appointment\".\n", LabelScheduleAppointment, false},
		{"OTHERS", LabelOthers, false},
		{"`others`", LabelOthers, false},
		{"La catégorie est training_course_query, pas others", "", true},
		{"not schedule_calendar_appointment", "", true},
		{"schedule_calendar_appointment_v2", "", true},
		{"conversation_start", "", true},
		{"je ne sais pas", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, err := ParseLabel(tt.answer)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownLabel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_ForcedLabels(t *testing.T) {
	fake := llm.NewFakeClient("others")
	r, err := New(fake, Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	st := session.New("CA1", "+33612345678")
	st.UserInput = "bonjour"
	label, err := r.Route(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, LabelConversationStart, label)

	st.ConversationID = "conv-1"
	st.UserInput = "  "
	label, err = r.Route(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, LabelWaitForUserInput, label)

	assert.Empty(t, fake.Requests(), "forced labels never call the model")
}

func TestRouter_Classifies(t *testing.T) {
	fake := llm.NewFakeClient("schedule_calendar_appointment")
	r, err := New(fake, Config{TailMessages: 2}, nil)
	require.NoError(t, err)

	st := session.New("CA1", "")
	st.ConversationID = "conv-1"
	st.AddAssistant("Bienvenue")
	st.AddUser("premier message")
	st.AddAssistant("Que puis-je faire ?")
	st.UserInput = "Je voudrais un rendez-vous jeudi"
	st.AddUser(st.UserInput)

	label, err := r.Route(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, LabelScheduleAppointment, label)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].Messages[0].Content
	assert.Contains(t, prompt, "Demande de l'appelant : Je voudrais un rendez-vous jeudi")
	assert.Contains(t, prompt, "Assistant: Que puis-je faire ?")
	assert.NotContains(t, prompt, "Bienvenue", "history is cut to the tail")
	assert.Equal(t, "router", reqs[0].Name)
}

func TestRouter_UnknownAnswerFallsBackToOthers(t *testing.T) {
	r, err := New(llm.NewFakeClient("météo"), Config{}, nil)
	require.NoError(t, err)

	st := session.New("CA1", "")
	st.ConversationID = "conv-1"
	st.UserInput = "Quel temps fait-il ?"
	label, err := r.Route(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, LabelOthers, label)
}

func TestRouter_NegatedLabelFallsBackToOthers(t *testing.T) {
	r, err := New(llm.NewFakeClient("not schedule_calendar_appointment"), Config{}, nil)
	require.NoError(t, err)

	st := session.New("CA1", "")
	st.ConversationID = "conv-1"
	st.UserInput = "Vous êtes ouverts le samedi ?"
	label, err := r.Route(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, LabelOthers, label)
}

func TestRouter_ModelError(t *testing.T) {
	fake := &llm.FakeClient{Err: errors.New("timeout")}
	r, err := New(fake, Config{}, nil)
	require.NoError(t, err)

	st := session.New("CA1", "")
	st.ConversationID = "conv-1"
	st.UserInput = "bonjour"
	_, err = r.Route(context.Background(), st)
	assert.Error(t, err)
}

func TestNew_BadPrompt(t *testing.T) {
	_, err := New(llm.NewFakeClient(), Config{Prompt: "{{.Broken"}, nil)
	assert.Error(t, err)
}
