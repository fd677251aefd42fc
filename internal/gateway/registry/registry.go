package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ModelConfig is one catalogue entry. Available is derived from whether the
// owning provider has a credential configured, not stored in the file.
type ModelConfig struct {
	Name              string  `yaml:"name"`
	Provider          string  `yaml:"provider"`
	MaxTokens         int     `yaml:"max_tokens"`
	InputPer1kTokens  float64 `yaml:"input_per_1k_tokens"`
	OutputPer1kTokens float64 `yaml:"output_per_1k_tokens"`
	Priority          int     `yaml:"priority"`
	Quality           int     `yaml:"quality"`
	Available         bool    `yaml:"-"`
}

// BlendedRate is the average of input and output cost per 1k tokens, used
// for cost-strategy ordering.
func (m ModelConfig) BlendedRate() float64 {
	return (m.InputPer1kTokens + m.OutputPer1kTokens) / 2
}

// Cost computes the dollar cost of a call at this model's rates.
func (m ModelConfig) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000.0*m.InputPer1kTokens +
		float64(outputTokens)/1000.0*m.OutputPer1kTokens
}

type catalogueFile struct {
	Models []ModelConfig `yaml:"models"`
}

// Registry is the in-process model catalogue. It is read-mostly: reloads
// happen only when the catalogue file changes on disk.
type Registry struct {
	path        string
	credentials map[string]bool // provider -> key configured

	mu     sync.RWMutex
	models []ModelConfig
	byName map[string]ModelConfig
}

// Load reads the catalogue file and marks each model available when its
// provider has a credential.
func Load(path string, providerKeys map[string]string) (*Registry, error) {
	credentials := make(map[string]bool, len(providerKeys))
	for provider, key := range providerKeys {
		credentials[provider] = key != ""
	}

	r := &Registry{path: path, credentials: credentials}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read model catalogue: %w", err)
	}

	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse model catalogue: %w", err)
	}
	if len(file.Models) == 0 {
		return fmt.Errorf("model catalogue %s contains no models", r.path)
	}

	byName := make(map[string]ModelConfig, len(file.Models))
	for i := range file.Models {
		m := &file.Models[i]
		if m.Name == "" || m.Provider == "" {
			return fmt.Errorf("model catalogue entry %d is missing name or provider", i)
		}
		m.Available = r.credentials[m.Provider]
		byName[m.Name] = *m
	}

	r.mu.Lock()
	r.models = file.Models
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// AvailableModels returns models whose provider credential is configured,
// sorted ascending by priority.
func (r *Registry) AvailableModels() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available []ModelConfig
	for _, m := range r.models {
		if m.Available {
			available = append(available, m)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority < available[j].Priority
	})
	return available
}

// Get looks up a model by name.
func (r *Registry) Get(name string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// ModelsForProvider returns every catalogue entry owned by a provider.
func (r *Registry) ModelsForProvider(provider string) []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []ModelConfig
	for _, m := range r.models {
		if m.Provider == provider {
			models = append(models, m)
		}
	}
	return models
}

// Watch reloads the catalogue when the file changes, until ctx is done.
// Editors replace files on save, so Create events are treated like Write.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalogue watcher: %w", err)
	}

	// Watch the directory: the file itself disappears during atomic saves.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalogue directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					log.Printf("Model catalogue reload failed, keeping previous catalogue: %v", err)
					continue
				}
				log.Printf("Model catalogue reloaded from %s", r.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Model catalogue watcher error: %v", err)
			}
		}
	}()
	return nil
}
