package providers

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Request is the vendor-neutral input for one chat completion call. The
// resolved model is chosen by the router before the adapter is invoked.
type Request struct {
	Model        string
	Messages     []openai.ChatCompletionMessage
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// Response is the normalized result of one completion call.
type Response struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	LatencyMs    int
}

// TotalTokens returns input + output token counts.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Error carries the HTTP status and body of a failed vendor call. The router
// treats any adapter error as grounds to advance to the next candidate.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Provider is the common adapter contract. Generate issues exactly one
// outbound call with no internal retries; failover lives in the router.
// Healthy is a cheap credential-presence check, never a billed probe.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Healthy() bool
	Name() string
}

// chatMessages folds an optional system prompt into the message list.
func chatMessages(req Request) []openai.ChatCompletionMessage {
	messages := req.Messages
	if req.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		}, messages...)
	}
	return messages
}
