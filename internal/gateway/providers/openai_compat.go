package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// CompatProvider serves vendors exposing an OpenAI-compatible chat endpoint
// (Mistral, Together, Grok). Only the base URL and credential differ.
type CompatProvider struct {
	name   string
	apiKey string
	client *openai.Client
}

func newCompatProvider(name, baseURL, apiKey string, timeout time.Duration) *CompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &CompatProvider{
		name:   name,
		apiKey: apiKey,
		client: openai.NewClientWithConfig(cfg),
	}
}

// NewMistralProvider creates a provider for Mistral's OpenAI-compatible API.
func NewMistralProvider(apiKey string, timeout time.Duration) *CompatProvider {
	return newCompatProvider("mistral", "https://api.mistral.ai/v1", apiKey, timeout)
}

// NewTogetherProvider creates a provider for Together's OpenAI-compatible API.
func NewTogetherProvider(apiKey string, timeout time.Duration) *CompatProvider {
	return newCompatProvider("together", "https://api.together.xyz/v1", apiKey, timeout)
}

// NewGrokProvider creates a provider for xAI's OpenAI-compatible API.
func NewGrokProvider(apiKey string, timeout time.Duration) *CompatProvider {
	return newCompatProvider("grok", "https://api.x.ai/v1", apiKey, timeout)
}

// Generate makes one chat completion request to the vendor.
func (p *CompatProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    chatMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &Error{Provider: p.name, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: p.name, StatusCode: http.StatusOK, Body: "no choices returned"}
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        req.Model,
		Provider:     p.name,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMs:    int(time.Since(startTime).Milliseconds()),
	}, nil
}

// Healthy reports whether a credential is configured.
func (p *CompatProvider) Healthy() bool {
	return p.apiKey != ""
}

// Name returns the provider name.
func (p *CompatProvider) Name() string {
	return p.name
}
