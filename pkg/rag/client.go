// Package rag is the HTTP client of the question answering service that
// owns users, conversations and the training catalogue.
package rag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInterrupted ends a stream whose InterruptFlag was set.
	ErrInterrupted = errors.New("rag stream interrupted")
	// ErrTimeout ends a stream that ran past the stream timeout.
	ErrTimeout = errors.New("rag stream timed out")
)

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rag %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

const defaultStreamTimeout = 120 * time.Second

// Config configures the client.
type Config struct {
	BaseURL       string
	StreamTimeout time.Duration
	HTTPClient    *http.Client
}

// Client talks to the RAG service.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	latency    *metrics.Tracker
}

// NewClient creates a client. latency may be nil.
func NewClient(cfg Config, latency *metrics.Tracker, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("RAG base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid RAG base URL: %w", err)
	}
	timeout := cfg.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logging.OrNop(logger).Named("rag"),
		latency:    latency,
	}, nil
}

// DeviceInfo identifies the caller's "device" to the RAG service.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	UserAgent  string `json:"user_agent"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsMobile   bool   `json:"is_mobile"`
}

// User is the create-or-retrieve request.
type User struct {
	Name       string     `json:"user_name"`
	IP         string     `json:"IP"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// PhoneUser builds the user record of a caller.
func PhoneUser(callerPhone, callSid string) User {
	name := callerPhone
	if name == "" {
		name = "Unknown User"
	}
	deviceID := callSid
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return User{
		Name: name,
		IP:   "phone",
		DeviceInfo: DeviceInfo{
			DeviceID:   deviceID,
			UserAgent:  "twilio",
			Platform:   "phone",
			AppVersion: "phone-assistant",
			OS:         "pstn",
			Browser:    "none",
			IsMobile:   true,
		},
	}
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateOrRetrieveUser returns the id of the user.
func (c *Client) CreateOrRetrieveUser(ctx context.Context, u User) (string, error) {
	var out idResponse
	if err := c.post(ctx, "create_user", "/user", "", u, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("rag create_user: empty id")
	}
	return out.ID, nil
}

// CreateConversation opens an empty conversation for userID.
func (c *Client) CreateConversation(ctx context.Context, userID string) (string, error) {
	body := struct {
		UserID   string `json:"user_id"`
		Messages []any  `json:"messages"`
	}{userID, []any{}}

	var out idResponse
	if err := c.post(ctx, "create_conversation", "/conversation", "", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("rag create_conversation: empty id")
	}
	return out.ID, nil
}

// AddExternalMessage appends an assistant message that did not come from
// the RAG service, such as the welcome text.
func (c *Client) AddExternalMessage(ctx context.Context, conversationID, text string) error {
	body := struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{"assistant", text}
	return c.post(ctx, "add_message", "/conversation/"+url.PathEscape(conversationID)+"/message", conversationID, body, nil)
}

func (c *Client) post(ctx context.Context, op, path, conversationID string, in, out any) (err error) {
	ctx, span := trace.InstrumentRAGRequest(ctx, op, conversationID)
	defer span.End()
	timer := c.latency.Start(metrics.OpRAG, op, metrics.Labels{})
	defer func() {
		timer.Done(err)
		if err != nil {
			trace.RecordError(span, err)
		}
	}()

	resp, err := c.do(ctx, path, in, "application/json")
	if err != nil {
		return fmt.Errorf("rag %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rag %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, in any, accept string) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	return c.httpClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Query is the streaming request.
type Query struct {
	ConversationID        string `json:"conversation_id"`
	UserQueryContent      string `json:"user_query_content"`
	DisplayWaitingMessage bool   `json:"display_waiting_message"`
}

// Stream posts q and yields answer text as it arrives. The sequence ends
// with ErrInterrupted when flag is set, with ErrTimeout past the stream
// timeout, or with a transport error. Breaking out of the loop closes the
// request.
func (c *Client) Stream(ctx context.Context, q Query, flag *InterruptFlag) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		go func() {
			select {
			case <-flag.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		ctx, span := trace.InstrumentRAGRequest(ctx, "query_stream", q.ConversationID)
		defer span.End()
		timer := c.latency.Start(metrics.OpRAG, "query_stream", metrics.Labels{})

		var chunks int
		consumerDone := false
		err := c.stream(ctx, q, func(chunk string) bool {
			if flag.Interrupted() {
				return false
			}
			chunks++
			if !yield(chunk, nil) {
				consumerDone = true
				return false
			}
			return true
		})
		if consumerDone {
			timer.Done(nil)
			return
		}

		switch {
		case flag.Interrupted():
			err = ErrInterrupted
		case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		if errors.Is(err, ErrInterrupted) {
			timer.Done(nil)
			c.logger.Info("rag stream interrupted", zap.Int("chunks", chunks))
		} else {
			timer.Done(err)
		}
		if err != nil {
			trace.RecordError(span, err)
			yield("", err)
		}
	}
}

// stream runs the request and hands chunks to emit until emit returns
// false or the body ends.
func (c *Client) stream(ctx context.Context, q Query, emit func(string) bool) error {
	resp, err := c.do(ctx, "/rag/query/stream", q, "text/event-stream, text/plain")
	if err != nil {
		return fmt.Errorf("rag query_stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("query_stream", resp)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSE(resp.Body, emit)
	}
	return readText(resp.Body, emit)
}

// readText forwards raw body reads, holding back a trailing partial UTF-8
// sequence until the next read completes it.
func readText(r io.Reader, emit func(string) bool) error {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completeUTF8(pending)
			if cut > 0 {
				if !emit(string(pending[:cut])) {
					return nil
				}
				pending = append(pending[:0], pending[cut:]...)
			}
		}
		if err == io.EOF {
			if len(pending) > 0 {
				emit(string(pending))
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// completeUTF8 returns the length of the longest prefix of b that does not
// end inside a multi-byte sequence.
func completeUTF8(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

// readSSE forwards the data of each server-sent event. A "[DONE]" data
// line ends the stream.
func readSSE(r io.Reader, emit func(string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var data []string
	flush := func() bool {
		if len(data) == 0 {
			return true
		}
		text := strings.Join(data, "\n")
		data = data[:0]
		if text == "" {
			return true
		}
		return emit(decodeData(text))
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if v == "[DONE]" {
				flush()
				return nil
			}
			data = append(data, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// decodeData unwraps JSON string payloads; anything else is passed as is.
func decodeData(s string) string {
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return s
}
