package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GoogleProvider handles Google Gemini API requests
type GoogleProvider struct {
	apiKey     string
	httpClient *http.Client
}

// GeminiRequest represents a request to Gemini's generateContent API
type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent represents content in Gemini format
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig represents generation parameters
type GeminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiResponse represents a response from the Gemini API
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata GeminiUsage       `json:"usageMetadata"`
}

// GeminiCandidate represents a candidate response
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsage represents token usage
type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// NewGoogleProvider creates a new Gemini provider
func NewGoogleProvider(apiKey string, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate makes one chat completion request to Gemini.
func (p *GoogleProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	geminiReq := p.convertRequest(req)

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		req.Model, p.apiKey)

	reqBody, _ := json.Marshal(geminiReq)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build Gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse Gemini response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, &Error{Provider: p.Name(), StatusCode: resp.StatusCode, Body: "no candidates returned"}
	}

	var content string
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		content += part.Text
	}

	return &Response{
		Content:      content,
		Model:        req.Model,
		Provider:     p.Name(),
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		LatencyMs:    int(time.Since(startTime).Milliseconds()),
	}, nil
}

// convertRequest converts to Gemini format. Gemini uses "model" for the
// assistant role and carries the system prompt separately.
func (p *GoogleProvider) convertRequest(req Request) GeminiRequest {
	geminiReq := GeminiRequest{}

	system := req.SystemPrompt
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		geminiReq.Contents = append(geminiReq.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		})
	}

	if system != "" {
		geminiReq.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: system}},
		}
	}

	cfg := &GeminiGenerationConfig{}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		cfg.MaxOutputTokens = &mt
	}
	if cfg.Temperature != nil || cfg.MaxOutputTokens != nil {
		geminiReq.GenerationConfig = cfg
	}

	return geminiReq
}

// Healthy reports whether a credential is configured.
func (p *GoogleProvider) Healthy() bool {
	return p.apiKey != ""
}

// Name returns the provider name.
func (p *GoogleProvider) Name() string {
	return "google"
}
