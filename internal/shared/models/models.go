package models

import "time"

// User is the gateway's view of an account. Creation and deletion are owned
// by the upstream auth service; the gateway reads the plan and increments the
// monthly request counter.
type User struct {
	ID                string
	ExternalAuthID    string
	Plan              string
	IsActive          bool
	RequestsThisMonth int
	PeriodStart       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PlanLimits is the quota definition for a plan tier. Rows are reference
// data seeded from config/plans.yaml and read-only at request time.
type PlanLimits struct {
	Plan              string   `yaml:"plan" json:"plan"`
	MonthlyRequests   int      `yaml:"monthly_requests" json:"monthly_requests"`
	MaxAPIKeys        int      `yaml:"max_api_keys" json:"max_api_keys"`
	RequestsPerMinute int      `yaml:"requests_per_minute" json:"requests_per_minute"`
	AllowedModels     []string `yaml:"allowed_models" json:"allowed_models"`
	DailyCostCeiling  float64  `yaml:"daily_cost_ceiling" json:"daily_cost_ceiling"`
	PriceUSD          float64  `yaml:"price_usd" json:"price_usd"`
}

// AllowsModel reports whether the plan's allow-list contains the model.
func (p *PlanLimits) AllowsModel(model string) bool {
	for _, m := range p.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// APIKey represents a gateway API key. Keys are deactivated, never deleted,
// so usage history stays attributable.
type APIKey struct {
	ID              string
	UserID          string
	KeyHash         string
	KeyPrefix       string
	Name            string
	IsActive        bool
	CacheEnabled    bool
	CacheTTLSeconds int
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UsageRecord is one append-only ledger row per attempted AI call.
// Invariants: CostUSD >= 0, InputTokens >= 0, OutputTokens >= 0.
type UsageRecord struct {
	ID           string
	UserID       string
	APIKeyID     string
	RequestID    string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int
	Success      bool
	ErrorMessage *string
	CreatedAt    time.Time
}
