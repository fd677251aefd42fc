package providers

import (
	"github.com/routerlabs/gateway/internal/shared/config"
)

// New builds the adapter set keyed by provider name. Vendors without a
// configured API key are omitted; failover between the remaining adapters
// belongs to the router, not this package.
func New(cfg *config.Config) map[string]Provider {
	set := make(map[string]Provider)

	if cfg.OpenAIAPIKey != "" {
		set["openai"] = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.ProviderTimeout)
	}
	if cfg.AnthropicAPIKey != "" {
		set["anthropic"] = NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.ProviderTimeout)
	}
	if cfg.GoogleAPIKey != "" {
		set["google"] = NewGoogleProvider(cfg.GoogleAPIKey, cfg.ProviderTimeout)
	}
	if cfg.MistralAPIKey != "" {
		set["mistral"] = NewMistralProvider(cfg.MistralAPIKey, cfg.ProviderTimeout)
	}
	if cfg.TogetherAPIKey != "" {
		set["together"] = NewTogetherProvider(cfg.TogetherAPIKey, cfg.ProviderTimeout)
	}
	if cfg.GrokAPIKey != "" {
		set["grok"] = NewGrokProvider(cfg.GrokAPIKey, cfg.ProviderTimeout)
	}

	return set
}

// Names returns the configured provider names in no particular order.
func Names(set map[string]Provider) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}
