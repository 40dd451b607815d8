// Package llm wraps the chat models used to classify and extract from
// caller utterances. Calls are single-shot and run at temperature 0 so that
// routing stays reproducible.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("no response from model")

// Message is one chat turn.
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// Request is a single completion.
type Request struct {
	// Name labels the call in latency metrics (e.g. "router").
	Name     string
	System   string
	Messages []Message
	// JSON asks the model for a JSON object.
	JSON      bool
	MaxTokens int
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Prompt builds a request holding a single user message.
func Prompt(name, text string) Request {
	return Request{Name: name, Messages: []Message{{Role: "user", Content: text}}}
}

// FromConfig builds the client selected by LLM_PROVIDER.
func FromConfig(ctx context.Context, cfg config.LLMConfig, latency *metrics.Tracker) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.Model}, latency)
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.Model}, latency)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func instrument(ctx context.Context, latency *metrics.Tracker, provider, model string, req Request) (context.Context, func(error)) {
	ctx, span := trace.InstrumentLLMRequest(ctx, provider, model)
	responseType := "text"
	if req.JSON {
		responseType = "json"
	}
	trace.SetAttributes(span, attribute.String(trace.AttrLLMResponseType, responseType))
	name := req.Name
	if name == "" {
		name = "complete"
	}
	timer := latency.Start(metrics.OpLLM, name, metrics.Labels{Provider: provider})
	return ctx, func(err error) {
		timer.Done(err)
		if err != nil {
			trace.RecordError(span, err)
		}
		span.End()
	}
}
