package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
)

// DateExtraction is what the model understood of a French time expression.
// Day is midnight in Europe/Paris; Start is UTC and only set when both a
// day and an hour were given.
type DateExtraction struct {
	Day      time.Time
	Start    time.Time
	Duration time.Duration

	HasClock bool
	Hour     int
	Minute   int
}

// HasDay reports whether a day was found.
func (d DateExtraction) HasDay() bool { return !d.Day.IsZero() }

// HasStart reports whether a full date and hour was found.
func (d DateExtraction) HasStart() bool { return !d.Start.IsZero() }

const datePrompt = `Nous sommes le %s (heure de Paris, %s).
Extrais de la demande de l'utilisateur la date et l'heure de rendez-vous qu'il souhaite, exprimées en heure de Paris.
Interprète les expressions relatives ("demain", "jeudi prochain", "dans deux jours", "en fin de matinée") par rapport à la date du jour.
Réponds uniquement avec un objet JSON :
{"date": "AAAA-MM-JJ" ou null, "time": "HH:MM" ou null, "duration_minutes": nombre ou null}

Historique récent :
%s

Demande : %s`

type dateReply struct {
	Date     *string `json:"date"`
	Time     *string `json:"time"`
	Duration *int    `json:"duration_minutes"`
}

// ExtractDateTime asks the model for the appointment time in utterance.
// The model answers in Paris wall time; the result is normalized to UTC.
func ExtractDateTime(ctx context.Context, client llm.Client, utterance string, history []session.Message, now time.Time) (DateExtraction, error) {
	paris := now.In(crm.Paris)
	prompt := fmt.Sprintf(datePrompt,
		crm.FormatFrench(now), paris.Format("2006-01-02 15:04 (Monday)"),
		session.FormatHistory(history), utterance)

	var reply dateReply
	if err := llm.CompleteJSON(ctx, client, llm.Request{Name: "date_extraction", Messages: []llm.Message{{Role: "user", Content: prompt}}}, &reply); err != nil {
		return DateExtraction{}, err
	}
	return parseDateReply(reply)
}

func parseDateReply(r dateReply) (DateExtraction, error) {
	var out DateExtraction
	if r.Duration != nil && *r.Duration > 0 {
		out.Duration = time.Duration(*r.Duration) * time.Minute
	}
	if r.Time != nil && strings.TrimSpace(*r.Time) != "" {
		hour, minute, err := parseClock(*r.Time)
		if err != nil {
			return out, err
		}
		out.HasClock, out.Hour, out.Minute = true, hour, minute
	}
	if r.Date == nil || strings.TrimSpace(*r.Date) == "" {
		return out, nil
	}

	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(*r.Date), crm.Paris)
	if err != nil {
		return out, fmt.Errorf("date %q: %w", *r.Date, err)
	}
	out.Day = day
	if out.HasClock {
		out.Start = AtParis(day, out.Hour, out.Minute)
	}
	return out, nil
}

// AtParis returns hour:minute Paris time on the Paris day of day, in UTC.
func AtParis(day time.Time, hour, minute int) time.Time {
	d := day.In(crm.Paris)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, crm.Paris).UTC()
}

// parseClock reads "14:30", "14h30", "14h" or "14".
func parseClock(s string) (int, int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Replace(s, "h", ":", 1)
	s = strings.TrimSuffix(s, ":")
	var h, m int
	var err error
	if strings.Contains(s, ":") {
		_, err = fmt.Sscanf(s, "%d:%d", &h, &m)
	} else {
		_, err = fmt.Sscanf(s, "%d", &h)
	}
	if err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return h, m, nil
}
