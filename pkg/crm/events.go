package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Event is a Salesforce calendar event. Start and End are UTC.
type Event struct {
	ID          string
	Subject     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	OwnerID     string
	WhoID       string
}

// StartParis returns the start in Europe/Paris.
func (e Event) StartParis() time.Time { return e.Start.In(Paris) }

// EndParis returns the end in Europe/Paris.
func (e Event) EndParis() time.Time { return e.End.In(Paris) }

type eventRecord struct {
	ID            string `json:"Id"`
	Subject       string `json:"Subject"`
	Description   string `json:"Description"`
	Location      string `json:"Location"`
	StartDateTime string `json:"StartDateTime"`
	EndDateTime   string `json:"EndDateTime"`
	OwnerID       string `json:"OwnerId"`
	WhoID         string `json:"WhoId"`
}

func (r eventRecord) event() (Event, error) {
	start, err := sfTime(r.StartDateTime)
	if err != nil {
		return Event{}, err
	}
	end, err := sfTime(r.EndDateTime)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          r.ID,
		Subject:     r.Subject,
		Description: r.Description,
		Location:    r.Location,
		Start:       start,
		End:         end,
		OwnerID:     r.OwnerID,
		WhoID:       r.WhoID,
	}, nil
}

const eventFields = "Id, Subject, Description, Location, StartDateTime, EndDateTime, OwnerId, WhoId"

// GetScheduledAppointments lists events overlapping [start, end], oldest
// first. ownerID may be empty.
func (c *Client) GetScheduledAppointments(ctx context.Context, start, end time.Time, ownerID string) (events []Event, err error) {
	ctx, done := c.instrument(ctx, "get_scheduled_appointments", "Event")
	defer func() { done(err) }()

	soql := fmt.Sprintf("SELECT %s FROM Event WHERE StartDateTime < %s AND EndDateTime > %s",
		eventFields, soqlTime(end), soqlTime(start))
	if ownerID != "" {
		soql += " AND OwnerId = " + quote(ownerID)
	}
	soql += " ORDER BY StartDateTime ASC"

	records, err := query[eventRecord](ctx, c, soql)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		ev, err := r.event()
		if err != nil {
			c.logger.Warn("skipping event with bad dates", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// verifyWindow is the slack around an expected event when looking it up.
const verifyWindow = 5 * time.Minute

// VerifyAppointmentExistence looks for the event in a window of five
// minutes around [start, start+duration]. With an eventID it matches id
// and subject; without, subject alone. It returns "" when nothing matches
// or when the lookup fails.
func (c *Client) VerifyAppointmentExistence(ctx context.Context, eventID, subject string, start time.Time, duration time.Duration) string {
	end := start.Add(duration)
	events, err := c.GetScheduledAppointments(ctx, start.Add(-verifyWindow), end.Add(verifyWindow), "")
	if err != nil {
		c.logger.Warn("appointment verification query failed", zap.Error(err))
		return ""
	}
	for _, ev := range events {
		if !sameSubject(ev.Subject, subject) {
			continue
		}
		if eventID == "" || ev.ID == eventID {
			return ev.ID
		}
	}
	return ""
}

func sameSubject(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NewAppointment describes an event to create.
type NewAppointment struct {
	Subject     string
	Start       time.Time
	Duration    time.Duration
	Description string
	Location    string
	OwnerID     string
	WhoID       string
}

// DefaultDuration is used when NewAppointment.Duration is zero.
const DefaultDuration = 30 * time.Minute

// Scheduling defaults.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second
)

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// ScheduleNewAppointment creates the event and checks that it can be read
// back. It returns ErrSlotTaken without creating anything when an event
// with the same subject already sits in the slot. When the created event
// cannot be verified, the whole procedure is retried up to maxRetries
// times after retryDelay; a retry that finds the event from an earlier
// attempt returns it. When retries run out it returns "" and a nil error.
// Authentication failures and past dates are returned as errors.
func (c *Client) ScheduleNewAppointment(ctx context.Context, a NewAppointment, maxRetries int, retryDelay time.Duration) (string, error) {
	if a.Duration <= 0 {
		a.Duration = DefaultDuration
	}
	if a.OwnerID == "" {
		a.OwnerID = c.cfg.DefaultOwnerID
	}
	var id string
	err := trace.WithSpan(ctx, "crm.schedule_new_appointment", func(ctx context.Context) error {
		var err error
		id, err = c.schedule(ctx, a, maxRetries, retryDelay, false)
		return err
	})
	return id, err
}

func (c *Client) schedule(ctx context.Context, a NewAppointment, retriesLeft int, retryDelay time.Duration, isRetry bool) (string, error) {
	log := c.logger.With(zap.String("subject", a.Subject), zap.Time("start", a.Start), zap.Int("retries_left", retriesLeft))

	if _, _, err := c.session(ctx); err != nil {
		return "", err
	}
	if !a.Start.After(c.now()) {
		return "", fmt.Errorf("%w: %s", ErrPastDate, a.Start.UTC().Format(time.RFC3339))
	}

	if existing := c.VerifyAppointmentExistence(ctx, "", a.Subject, a.Start, a.Duration); existing != "" {
		if isRetry {
			log.Info("found event created by an earlier attempt", zap.String("event_id", existing))
			return existing, nil
		}
		log.Warn("slot already booked, not creating a duplicate", zap.String("event_id", existing))
		trace.AddEvent(trace.SpanFromContext(ctx), "slot_taken", attribute.String("crm.event_id", existing))
		return "", fmt.Errorf("%w: %s", ErrSlotTaken, existing)
	}

	id, err := c.createEvent(ctx, a)
	if err == nil {
		if verified := c.VerifyAppointmentExistence(ctx, id, a.Subject, a.Start, a.Duration); verified != "" {
			log.Info("appointment created", zap.String("event_id", verified))
			return verified, nil
		}
		log.Warn("created event could not be verified", zap.String("event_id", id))
	} else {
		if errors.Is(err, ErrNotAuthenticated) {
			return "", err
		}
		log.Warn("event creation failed", zap.Error(err))
	}

	if retriesLeft <= 0 {
		log.Error("appointment scheduling failed, retries exhausted")
		return "", nil
	}
	trace.AddEvent(trace.SpanFromContext(ctx), "retry", attribute.Int("crm.retries_left", retriesLeft-1))
	if err := c.sleep(ctx, retryDelay); err != nil {
		return "", err
	}
	return c.schedule(ctx, a, retriesLeft-1, retryDelay, true)
}

func (c *Client) createEvent(ctx context.Context, a NewAppointment) (id string, err error) {
	ctx, done := c.instrument(ctx, "create_event", "Event")
	defer func() { done(err) }()

	payload := map[string]any{
		"Subject":       a.Subject,
		"StartDateTime": a.Start.UTC().Format("2006-01-02T15:04:05Z"),
		"EndDateTime":   a.Start.Add(a.Duration).UTC().Format("2006-01-02T15:04:05Z"),
	}
	for k, v := range map[string]string{
		"Description": a.Description,
		"Location":    a.Location,
		"OwnerId":     a.OwnerID,
		"WhoId":       a.WhoID,
	} {
		if v != "" {
			payload[k] = v
		}
	}

	var res createResponse
	if err := c.send(ctx, http.MethodPost, c.apiPath("/sobjects/Event/"), payload, &res); err != nil {
		return "", err
	}
	if !res.Success || res.ID == "" {
		return "", errors.New("salesforce did not return an event id")
	}
	return res.ID, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id string) (err error) {
	ctx, done := c.instrument(ctx, "delete_event", "Event")
	defer func() { done(err) }()
	return c.send(ctx, http.MethodDelete, c.apiPath("/sobjects/Event/"+url.PathEscape(id)), nil, nil)
}
