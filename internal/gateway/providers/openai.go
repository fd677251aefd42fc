package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider handles OpenAI API requests
type OpenAIProvider struct {
	apiKey string
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, timeout time.Duration) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIProvider{
		apiKey: apiKey,
		client: openai.NewClientWithConfig(cfg),
	}
}

// Generate makes one chat completion request to OpenAI.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
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
			return nil, &Error{Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: p.Name(), StatusCode: http.StatusOK, Body: "no choices returned"}
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        req.Model,
		Provider:     p.Name(),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMs:    int(time.Since(startTime).Milliseconds()),
	}, nil
}

// Healthy reports whether a credential is configured.
func (p *OpenAIProvider) Healthy() bool {
	return p.apiKey != ""
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}
