package providers

import (
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestChatMessages_FoldsSystemPrompt(t *testing.T) {
	req := Request{
		SystemPrompt: "be brief",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	}

	msgs := chatMessages(req)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("system prompt not first: %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Fatalf("user message displaced: %+v", msgs[1])
	}
}

func TestChatMessages_NoSystemPrompt(t *testing.T) {
	req := Request{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	}
	if msgs := chatMessages(req); len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestAnthropicConvertRequest(t *testing.T) {
	p := NewAnthropicProvider("key", time.Second)

	req := Request{
		Model: "claude-3-haiku",
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		MaxTokens:   256,
		Temperature: 0.7,
	}

	out := p.convertRequest(req)
	if out.System != "be brief" {
		t.Fatalf("system prompt not lifted into the system field: %q", out.System)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("system message must not remain in the list, got %d messages", len(out.Messages))
	}
	if out.MaxTokens != 256 {
		t.Fatalf("max tokens = %d, want 256", out.MaxTokens)
	}
	if out.Temperature == nil || *out.Temperature != 0.7 {
		t.Fatalf("temperature not carried: %v", out.Temperature)
	}
}

func TestAnthropicConvertRequest_DefaultMaxTokens(t *testing.T) {
	p := NewAnthropicProvider("key", time.Second)
	out := p.convertRequest(Request{Model: "claude-3-haiku"})
	// Anthropic requires max_tokens; 4096 is the adapter default.
	if out.MaxTokens != 4096 {
		t.Fatalf("default max tokens = %d, want 4096", out.MaxTokens)
	}
}

func TestGoogleConvertRequest(t *testing.T) {
	p := NewGoogleProvider("key", time.Second)

	req := Request{
		Model: "gemini-1.5-flash",
		Messages: []openai.ChatCompletionMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		SystemPrompt: "be brief",
		MaxTokens:    128,
	}

	out := p.convertRequest(req)
	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatal("system prompt not carried as systemInstruction")
	}
	if len(out.Contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(out.Contents))
	}
	// Gemini names the assistant role "model".
	if out.Contents[1].Role != "model" {
		t.Fatalf("assistant role = %q, want model", out.Contents[1].Role)
	}
	if out.GenerationConfig == nil || out.GenerationConfig.MaxOutputTokens == nil || *out.GenerationConfig.MaxOutputTokens != 128 {
		t.Fatal("max tokens not carried into generationConfig")
	}
}

func TestHealthyReflectsCredential(t *testing.T) {
	if NewAnthropicProvider("", time.Second).Healthy() {
		t.Fatal("anthropic adapter without a key must report unhealthy")
	}
	if !NewAnthropicProvider("key", time.Second).Healthy() {
		t.Fatal("anthropic adapter with a key must report healthy")
	}
	if NewGoogleProvider("", time.Second).Healthy() {
		t.Fatal("google adapter without a key must report unhealthy")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Provider: "openai", StatusCode: 429, Body: "slow down"}
	want := "openai API error (status 429): slow down"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestResponseTotalTokens(t *testing.T) {
	r := &Response{InputTokens: 10, OutputTokens: 5}
	if r.TotalTokens() != 15 {
		t.Fatalf("total = %d, want 15", r.TotalTokens())
	}
}
