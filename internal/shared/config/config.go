package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Provider API keys. A provider is considered available when its key
	// is non-empty; no live probe is made.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	MistralAPIKey   string
	TogetherAPIKey  string
	GrokAPIKey      string

	// Catalogue and plan seed files
	ModelsPath string
	PlansPath  string

	// Routing
	RouteBudget     time.Duration // total deadline across all fallback attempts
	ProviderTimeout time.Duration // per-call HTTP timeout inside each adapter

	// Quota enforcement
	CostProtection bool // enforce the plan's daily cost ceiling

	// Caching
	CacheEnabled    bool
	CacheTTLSeconds int
}

// ProviderKeys returns provider name -> API key for every supported vendor,
// including vendors with no key configured.
func (c *Config) ProviderKeys() map[string]string {
	return map[string]string{
		"openai":    c.OpenAIAPIKey,
		"anthropic": c.AnthropicAPIKey,
		"google":    c.GoogleAPIKey,
		"mistral":   c.MistralAPIKey,
		"together":  c.TogetherAPIKey,
		"grok":      c.GrokAPIKey,
	}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		MistralAPIKey:   getEnv("MISTRAL_API_KEY", ""),
		TogetherAPIKey:  getEnv("TOGETHER_API_KEY", ""),
		GrokAPIKey:      getEnv("GROK_API_KEY", ""),
		ModelsPath:      getEnv("MODELS_PATH", "config/models.yaml"),
		PlansPath:       getEnv("PLANS_PATH", "config/plans.yaml"),
		RouteBudget:     getEnvDuration("ROUTE_BUDGET", 120*time.Second),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		CostProtection:  getEnvBool("COST_PROTECTION", true),
		CacheEnabled:    getEnvBool("CACHE_ENABLED", true),
		CacheTTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 3600),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one provider API key is required
	anyKey := false
	for _, key := range cfg.ProviderKeys() {
		if key != "" {
			anyKey = true
			break
		}
	}
	if !anyKey {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, MISTRAL_API_KEY, TOGETHER_API_KEY, or GROK_API_KEY)")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
