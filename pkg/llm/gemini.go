package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // Optional: overrides the API endpoint
}

// GeminiClient completes requests with the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	latency *metrics.Tracker
}

// NewGeminiClient creates a client. latency may be nil.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, latency *metrics.Tracker) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model, latency: latency}, nil
}

// Complete runs one generation.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (out string, err error) {
	ctx, done := instrument(ctx, c.latency, "gemini", c.model, req)
	defer func() { done(err) }()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, buildGeminiContents(req), geminiRequestConfig(req))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(collectGeminiText(resp))
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func buildGeminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return contents
}

func geminiRequestConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func collectGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
	}

	return builder.String()
}
