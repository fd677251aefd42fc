package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/routerlabs/gateway/internal/gateway/providers"
	"github.com/routerlabs/gateway/internal/gateway/registry"
)

// mockProvider records calls and fails on demand.
type mockProvider struct {
	name    string
	healthy bool
	fail    bool
	delay   time.Duration
	calls   []string // models requested, in order
}

func (m *mockProvider) Generate(ctx context.Context, req providers.Request) (*providers.Response, error) {
	m.calls = append(m.calls, req.Model)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.fail {
		return nil, &providers.Error{Provider: m.name, StatusCode: 503, Body: "unavailable"}
	}
	return &providers.Response{
		Content:      "ok from " + m.name,
		Model:        req.Model,
		Provider:     m.name,
		InputTokens:  100,
		OutputTokens: 50,
		LatencyMs:    5,
	}, nil
}

func (m *mockProvider) Healthy() bool { return m.healthy }
func (m *mockProvider) Name() string  { return m.name }

// writeCatalogue writes a temp catalogue file and returns a loaded registry.
// All listed providers are treated as having credentials.
func writeCatalogue(t *testing.T, yaml string, creds ...string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	keys := make(map[string]string)
	for _, c := range creds {
		keys[c] = "test-key"
	}
	reg, err := registry.Load(path, keys)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

const threeProviderCatalogue = `
models:
  - name: model-a
    provider: alpha
    max_tokens: 4096
    input_per_1k_tokens: 0.002
    output_per_1k_tokens: 0.002
    priority: 1
    quality: 3
  - name: model-b
    provider: beta
    max_tokens: 4096
    input_per_1k_tokens: 0.0002
    output_per_1k_tokens: 0.0002
    priority: 2
    quality: 2
  - name: model-c
    provider: gamma
    max_tokens: 4096
    input_per_1k_tokens: 0.01
    output_per_1k_tokens: 0.01
    priority: 3
    quality: 1
`

func TestRoute_FallbackOrder(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	alpha := &mockProvider{name: "alpha", healthy: true, fail: true}
	beta := &mockProvider{name: "beta", healthy: true, fail: true}
	gamma := &mockProvider{name: "gamma", healthy: true}

	r := New(reg, map[string]providers.Provider{"alpha": alpha, "beta": beta, "gamma": gamma}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi", Strategy: StrategyBalanced})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Err)
	}
	if resp.Provider != "gamma" || resp.Model != "model-c" {
		t.Fatalf("expected gamma/model-c to serve the request, got %s/%s", resp.Provider, resp.Model)
	}
	// Exactly two failed attempts before the success.
	if len(alpha.calls) != 1 || len(beta.calls) != 1 || len(gamma.calls) != 1 {
		t.Fatalf("expected one attempt per candidate, got alpha=%d beta=%d gamma=%d",
			len(alpha.calls), len(beta.calls), len(gamma.calls))
	}
	if resp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", resp.Attempts)
	}
}

func TestRoute_ExplicitModelNoFallback(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	alpha := &mockProvider{name: "alpha", healthy: true, fail: true}
	beta := &mockProvider{name: "beta", healthy: true}

	r := New(reg, map[string]providers.Provider{"alpha": alpha, "beta": beta}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi", Model: "model-a"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure for explicit model with failing provider")
	}
	if len(beta.calls) != 0 {
		t.Fatalf("explicit selection must not fall back, but beta was called %d times", len(beta.calls))
	}
	if len(alpha.calls) != 1 {
		t.Fatalf("expected exactly one attempt on alpha, got %d", len(alpha.calls))
	}
}

func TestRoute_ExplicitModelUnavailable(t *testing.T) {
	// gamma has no credential, so model-c is unavailable.
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta")

	alpha := &mockProvider{name: "alpha", healthy: true}
	r := New(reg, map[string]providers.Provider{"alpha": alpha}, 0)

	_, err := r.Route(context.Background(), Request{Message: "hi", Model: "model-c"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if len(alpha.calls) != 0 {
		t.Fatal("no alternatives may be probed when the explicit model is unavailable")
	}
}

func TestRoute_UnknownModel(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha")
	r := New(reg, map[string]providers.Provider{}, 0)

	_, err := r.Route(context.Background(), Request{Message: "hi", Model: "nope"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRoute_CostStrategyOrdering(t *testing.T) {
	// Rates: model-a $0.002, model-b $0.0002, model-c $0.01 per 1k.
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	alpha := &mockProvider{name: "alpha", healthy: true}
	beta := &mockProvider{name: "beta", healthy: true}
	gamma := &mockProvider{name: "gamma", healthy: true}

	r := New(reg, map[string]providers.Provider{"alpha": alpha, "beta": beta, "gamma": gamma}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi", Strategy: StrategyCost})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "model-b" {
		t.Fatalf("cost strategy must try the cheapest model first, got %s", resp.Model)
	}
	if len(alpha.calls)+len(gamma.calls) != 0 {
		t.Fatal("cheaper candidate succeeded; no other providers should be called")
	}
}

func TestRoute_QualityStrategyOrdering(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	gamma := &mockProvider{name: "gamma", healthy: true}
	r := New(reg, map[string]providers.Provider{
		"alpha": &mockProvider{name: "alpha", healthy: true},
		"beta":  &mockProvider{name: "beta", healthy: true},
		"gamma": gamma,
	}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi", Strategy: StrategyQuality})
	if err != nil {
		t.Fatal(err)
	}
	// model-c has the best quality rank.
	if resp.Model != "model-c" {
		t.Fatalf("quality strategy must try the best-ranked model first, got %s", resp.Model)
	}
}

func TestRoute_SpeedStrategyUsesObservedLatency(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	alpha := &mockProvider{name: "alpha", healthy: true}
	beta := &mockProvider{name: "beta", healthy: true}
	gamma := &mockProvider{name: "gamma", healthy: true}
	r := New(reg, map[string]providers.Provider{"alpha": alpha, "beta": beta, "gamma": gamma}, 0)

	// No history yet: speed falls back to priority order, so model-a wins.
	resp, err := r.Route(context.Background(), Request{Message: "hi", Strategy: StrategySpeed})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "model-a" {
		t.Fatalf("with no latency history speed should follow priority, got %s", resp.Model)
	}

	// Seed faster history for model-c; it should now be tried first.
	r.recordLatency("model-c", time.Millisecond)
	r.recordLatency("model-a", time.Second)

	resp, err = r.Route(context.Background(), Request{Message: "hi", Strategy: StrategySpeed})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "model-c" {
		t.Fatalf("speed strategy should prefer the fastest observed model, got %s", resp.Model)
	}
}

func TestRoute_SkipsUnhealthyWithoutCalling(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	alpha := &mockProvider{name: "alpha", healthy: false}
	beta := &mockProvider{name: "beta", healthy: true}
	r := New(reg, map[string]providers.Provider{"alpha": alpha, "beta": beta}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Provider != "beta" {
		t.Fatalf("expected beta to serve, got %+v", resp)
	}
	if len(alpha.calls) != 0 {
		t.Fatal("unhealthy provider must be skipped without a network call")
	}
}

func TestRoute_AllCandidatesFail(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	r := New(reg, map[string]providers.Provider{
		"alpha": &mockProvider{name: "alpha", healthy: true, fail: true},
		"beta":  &mockProvider{name: "beta", healthy: true, fail: true},
		"gamma": &mockProvider{name: "gamma", healthy: true, fail: true},
	}, 0)

	resp, err := r.Route(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure when every candidate fails")
	}
	if resp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", resp.Attempts)
	}
	if !strings.Contains(resp.Err, "last error") {
		t.Fatalf("aggregated error should summarize the last failure, got %q", resp.Err)
	}
}

func TestRoute_BudgetBoundsFallback(t *testing.T) {
	reg := writeCatalogue(t, threeProviderCatalogue, "alpha", "beta", "gamma")

	slow := &mockProvider{name: "alpha", healthy: true, fail: true, delay: 50 * time.Millisecond}
	never := &mockProvider{name: "gamma", healthy: true}
	r := New(reg, map[string]providers.Provider{
		"alpha": slow,
		"beta":  &mockProvider{name: "beta", healthy: true, fail: true, delay: 50 * time.Millisecond},
		"gamma": never,
	}, 60*time.Millisecond)

	resp, err := r.Route(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure once the routing budget is exhausted")
	}
	// The budget expired during the second candidate; the third must not run.
	if len(never.calls) != 0 {
		t.Fatal("candidates past the deadline budget must not be attempted")
	}
}
