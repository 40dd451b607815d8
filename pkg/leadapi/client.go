// Package leadapi posts qualified prospects to the lead-capture service.
package leadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.uber.org/zap"
)

// ErrStatus is wrapped by errors for non-2xx answers.
var ErrStatus = errors.New("lead api rejected the submission")

// Lead is the submitted payload.
type Lead struct {
	Fields         map[string]string `json:"fields"`
	Source         string            `json:"source"`
	CallSid        string            `json:"call_sid,omitempty"`
	CallerPhone    string            `json:"caller_phone,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// Client submits leads. A zero URL makes every submission fail.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	latency    *metrics.Tracker
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg config.LeadConfig, httpClient *http.Client, latency *metrics.Tracker, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		latency:    latency,
		logger:     logging.OrNop(logger).Named("lead-api"),
		now:        time.Now,
	}
}

// Submit posts the lead once. Submissions are not retried so a slow
// success cannot turn into a duplicate.
func (c *Client) Submit(ctx context.Context, lead Lead) (err error) {
	ctx, span := trace.InstrumentLeadSubmission(ctx)
	timer := c.latency.Start(metrics.OpLeadAPI, "submit", metrics.Labels{CallSid: lead.CallSid})
	defer func() {
		timer.Done(err)
		trace.RecordError(span, err)
		span.End()
	}()

	if c.url == "" {
		return errors.New("lead api url is not configured")
	}
	if lead.Source == "" {
		lead.Source = "phone"
	}
	if lead.SubmittedAt.IsZero() {
		lead.SubmittedAt = c.now().UTC()
	}

	body, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post lead: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.logger.Info("lead submitted", zap.String("call_sid", lead.CallSid), zap.Int("status", resp.StatusCode))
	return nil
}
