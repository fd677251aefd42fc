package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/routerlabs/gateway/internal/gateway/metrics"
	"github.com/routerlabs/gateway/internal/gateway/providers"
	"github.com/routerlabs/gateway/internal/gateway/registry"
)

// Routing strategies
const (
	StrategyAuto     = "auto"
	StrategyBalanced = "balanced"
	StrategyCost     = "cost"
	StrategySpeed    = "speed"
	StrategyQuality  = "quality"
)

var (
	ErrNoCandidates      = errors.New("no available model candidates")
	ErrModelUnavailable  = errors.New("requested model is not available")
	ErrUnknownModel      = errors.New("requested model is not in the catalogue")
	ErrProviderNotLoaded = errors.New("provider adapter not configured")
)

// Request is a routing request from the gate.
type Request struct {
	UserID       string
	Message      string
	Messages     []openai.ChatCompletionMessage
	SystemPrompt string
	Model        string // "" or "auto" routes by strategy; anything else is authoritative
	Strategy     string
	MaxTokens    int
	Temperature  float32
}

// Response is the routing outcome. Success false means every candidate
// failed; Err then summarizes the last failure.
type Response struct {
	Content      string  `json:"response"`
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost"`
	LatencyMs    int     `json:"response_time"`
	Success      bool    `json:"success"`
	Attempts     int     `json:"-"`
	Err          string  `json:"-"`
}

// Router resolves a request to a response by trying candidates in strategy
// order, one attempt per candidate. It holds only configuration and adapter
// instances, so a single instance is safe for concurrent use.
type Router struct {
	registry  *registry.Registry
	providers map[string]providers.Provider
	budget    time.Duration // total deadline across all fallback attempts; 0 disables

	mu       sync.RWMutex
	observed map[string]time.Duration // model -> last observed call latency
}

// New creates a router over the given catalogue and adapter set.
func New(reg *registry.Registry, provs map[string]providers.Provider, budget time.Duration) *Router {
	return &Router{
		registry:  reg,
		providers: provs,
		budget:    budget,
		observed:  make(map[string]time.Duration),
	}
}

// Route tries candidates in order until one succeeds. Candidate errors are
// recovered here and never propagate; a nil error with Success false means
// every candidate was exhausted. A non-nil error is returned only for
// pre-flight failures (unknown or unavailable explicit model, empty
// candidate list).
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	candidates, noFallback, err := r.candidates(req)
	if err != nil {
		return nil, err
	}

	if r.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	provReq := providers.Request{
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	}
	if len(provReq.Messages) == 0 && req.Message != "" {
		provReq.Messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		}
	}

	var lastErr error
	attempts := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("routing deadline exceeded after %d attempts: %w", attempts, ctx.Err())
			break
		}

		prov, ok := r.providers[candidate.Provider]
		if !ok {
			lastErr = fmt.Errorf("%w: %s", ErrProviderNotLoaded, candidate.Provider)
			continue
		}
		// Unhealthy candidates are skipped without consuming a network call.
		if !prov.Healthy() {
			lastErr = fmt.Errorf("provider %s is not healthy", candidate.Provider)
			continue
		}

		provReq.Model = candidate.Name
		attempts++
		resp, err := prov.Generate(ctx, provReq)
		if err != nil {
			lastErr = err
			metrics.ProviderFailuresTotal.WithLabelValues(candidate.Provider).Inc()
			if noFallback {
				break
			}
			continue
		}

		r.recordLatency(candidate.Name, time.Duration(resp.LatencyMs)*time.Millisecond)

		return &Response{
			Content:      resp.Content,
			Model:        resp.Model,
			Provider:     resp.Provider,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalTokens:  resp.TotalTokens(),
			CostUSD:      candidate.Cost(resp.InputTokens, resp.OutputTokens),
			LatencyMs:    resp.LatencyMs,
			Success:      true,
			Attempts:     attempts,
		}, nil
	}

	errMsg := "no candidates attempted"
	if lastErr != nil {
		errMsg = fmt.Sprintf("all %d candidate(s) failed, last error: %v", attempts, lastErr)
	}
	return &Response{Success: false, Attempts: attempts, Err: errMsg}, nil
}

// candidates resolves the ordered candidate list. An explicit model is the
// sole candidate with fallback disabled: explicit intent must not be
// silently overridden.
func (r *Router) candidates(req Request) ([]registry.ModelConfig, bool, error) {
	if req.Model != "" && req.Model != StrategyAuto {
		cfg, ok := r.registry.Get(req.Model)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
		}
		if !cfg.Available {
			return nil, false, fmt.Errorf("%w: %s", ErrModelUnavailable, req.Model)
		}
		return []registry.ModelConfig{cfg}, true, nil
	}

	available := r.registry.AvailableModels()
	if len(available) == 0 {
		return nil, false, ErrNoCandidates
	}

	switch req.Strategy {
	case StrategyCost:
		sort.SliceStable(available, func(i, j int) bool {
			return available[i].BlendedRate() < available[j].BlendedRate()
		})
	case StrategySpeed:
		r.orderBySpeed(available)
	case StrategyQuality:
		sort.SliceStable(available, func(i, j int) bool {
			return available[i].Quality < available[j].Quality
		})
	default:
		// auto / balanced: the catalogue's priority already encodes the
		// hand-tuned cost/quality tradeoff, and AvailableModels returns
		// priority order.
	}

	return available, false, nil
}

// orderBySpeed sorts by observed latency, fastest first. Models with no
// history sort after observed ones and keep their priority order.
func (r *Router) orderBySpeed(models []registry.ModelConfig) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sort.SliceStable(models, func(i, j int) bool {
		li, iOK := r.observed[models[i].Name]
		lj, jOK := r.observed[models[j].Name]
		switch {
		case iOK && jOK:
			return li < lj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return models[i].Priority < models[j].Priority
		}
	})
}

func (r *Router) recordLatency(model string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.observed[model]; ok {
		// Smooth over history so one slow call does not dominate ordering.
		r.observed[model] = (prev*3 + latency) / 4
		return
	}
	r.observed[model] = latency
}
