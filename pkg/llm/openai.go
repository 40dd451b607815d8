package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI chat client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Optional: OpenAI-compatible endpoint
	Model   string
}

// OpenAIClient completes requests with the Chat Completions API.
type OpenAIClient struct {
	client  openai.Client
	model   string
	latency *metrics.Tracker
}

// NewOpenAIClient creates a client. latency may be nil.
func NewOpenAIClient(cfg OpenAIConfig, latency *metrics.Tracker) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		latency: latency,
	}, nil
}

// Complete runs one chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (out string, err error) {
	ctx, done := instrument(ctx, c.latency, "openai", c.model, req)
	defer func() { done(err) }()

	params := openai.ChatCompletionNewParams{
		Messages:    buildOpenAIMessages(req),
		Model:       shared.ChatModel(c.model),
		Temperature: openai.Float(0),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out = strings.TrimSpace(completion.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
