package registry

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testCatalogue = `
models:
  - name: gpt-4
    provider: openai
    max_tokens: 8192
    input_per_1k_tokens: 0.03
    output_per_1k_tokens: 0.06
    priority: 2
    quality: 1
  - name: gpt-3.5-turbo
    provider: openai
    max_tokens: 4096
    input_per_1k_tokens: 0.0005
    output_per_1k_tokens: 0.0015
    priority: 1
    quality: 4
  - name: claude-3-haiku
    provider: anthropic
    max_tokens: 4096
    input_per_1k_tokens: 0.00025
    output_per_1k_tokens: 0.00125
    priority: 3
    quality: 3
`

func loadTestRegistry(t *testing.T, yaml string, keys map[string]string) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(path, keys)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestAvailableModels_FiltersByCredential(t *testing.T) {
	reg := loadTestRegistry(t, testCatalogue, map[string]string{
		"openai":    "sk-test",
		"anthropic": "", // configured but empty means no credential
	})

	available := reg.AvailableModels()
	if len(available) != 2 {
		t.Fatalf("expected 2 available models, got %d", len(available))
	}
	for _, m := range available {
		if m.Provider != "openai" {
			t.Fatalf("model %s from credential-less provider %s marked available", m.Name, m.Provider)
		}
	}
}

func TestAvailableModels_SortedByPriority(t *testing.T) {
	reg := loadTestRegistry(t, testCatalogue, map[string]string{
		"openai":    "sk-test",
		"anthropic": "sk-ant",
	})

	available := reg.AvailableModels()
	want := []string{"gpt-3.5-turbo", "gpt-4", "claude-3-haiku"}
	if len(available) != len(want) {
		t.Fatalf("expected %d models, got %d", len(want), len(available))
	}
	for i, m := range available {
		if m.Name != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, m.Name, want[i])
		}
	}
}

func TestGet(t *testing.T) {
	reg := loadTestRegistry(t, testCatalogue, map[string]string{"openai": "sk-test"})

	m, ok := reg.Get("gpt-4")
	if !ok {
		t.Fatal("expected gpt-4 in the catalogue")
	}
	if m.Provider != "openai" || m.MaxTokens != 8192 {
		t.Fatalf("unexpected model config: %+v", m)
	}

	if _, ok := reg.Get("nope"); ok {
		t.Fatal("unknown model must not resolve")
	}
}

func TestModelsForProvider(t *testing.T) {
	reg := loadTestRegistry(t, testCatalogue, map[string]string{"openai": "sk-test"})

	ms := reg.ModelsForProvider("openai")
	if len(ms) != 2 {
		t.Fatalf("expected 2 openai models, got %d", len(ms))
	}
}

func TestCost(t *testing.T) {
	m := ModelConfig{InputPer1kTokens: 0.03, OutputPer1kTokens: 0.06}

	// 1000 in + 500 out at $0.03/$0.06 per 1k.
	got := m.Cost(1000, 500)
	want := 0.03 + 0.5*0.06
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("cost = %v, want %v", got, want)
	}

	if c := m.Cost(0, 0); c != 0 {
		t.Fatalf("zero tokens must cost zero, got %v", c)
	}
	if c := m.Cost(1, 1); c < 0 {
		t.Fatalf("cost must never be negative, got %v", c)
	}
}

func TestBlendedRate(t *testing.T) {
	m := ModelConfig{InputPer1kTokens: 0.002, OutputPer1kTokens: 0.004}
	if got := m.BlendedRate(); math.Abs(got-0.003) > 1e-12 {
		t.Fatalf("blended rate = %v, want 0.003", got)
	}
}

func TestLoad_RejectsEmptyCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte("models: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for an empty catalogue")
	}
}

func TestLoad_RejectsMissingName(t *testing.T) {
	bad := "models:\n  - provider: openai\n    priority: 1\n"
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for a nameless entry")
	}
}
