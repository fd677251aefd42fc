package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/routerlabs/gateway/internal/shared/database"
	"github.com/routerlabs/gateway/internal/shared/models"
)

// Store is the persistence surface the ledger depends on. *database.DB
// satisfies it; tests use an in-memory fake.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetPlanLimits(ctx context.Context, plan string) (*models.PlanLimits, error)
	ListPlanLimits(ctx context.Context) ([]models.PlanLimits, error)
	CountActiveAPIKeys(ctx context.Context, userID string) (int, error)
	MonthlyRequestCount(ctx context.Context, userID string) (int, error)
	IncrementRequestCount(ctx context.Context, userID string, limit int) (int, error)
	SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Usage is a snapshot of current-period consumption.
type Usage struct {
	Requests  int     `json:"requests"`
	APIKeys   int     `json:"api_keys"`
	CostToday float64 `json:"cost_today"`
}

// LimitsAndUsage pairs the plan definition with current consumption.
type LimitsAndUsage struct {
	Plan   string            `json:"plan"`
	Limits models.PlanLimits `json:"limits"`
	Usage  Usage             `json:"usage"`
}

// Ledger enforces per-plan quotas. Every check re-reads current usage from
// the store; there is no cross-request cache of quota state.
type Ledger struct {
	store          Store
	costProtection bool
	now            func() time.Time
}

// New creates a ledger. costProtection enables the daily cost ceiling check.
func New(store Store, costProtection bool) *Ledger {
	return &Ledger{store: store, costProtection: costProtection, now: time.Now}
}

// GetUserLimitsAndUsage reads the user's plan, its limits row, and the
// current-period usage aggregates.
func (l *Ledger) GetUserLimitsAndUsage(ctx context.Context, userID string) (*LimitsAndUsage, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	limits, err := l.store.GetPlanLimits(ctx, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("plan limits for %q: %w", user.Plan, err)
	}

	requests, err := l.store.MonthlyRequestCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys, err := l.store.CountActiveAPIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	cost, err := l.store.SumCostSince(ctx, userID, l.startOfDay())
	if err != nil {
		return nil, err
	}

	return &LimitsAndUsage{
		Plan:   user.Plan,
		Limits: *limits,
		Usage:  Usage{Requests: requests, APIKeys: keys, CostToday: cost},
	}, nil
}

// CanMakeRequest reports whether the user may issue another request, with a
// human-readable reason when not.
func (l *Ledger) CanMakeRequest(ctx context.Context, userID string) (bool, string, error) {
	lu, err := l.GetUserLimitsAndUsage(ctx, userID)
	if err != nil {
		return false, "", err
	}

	if lu.Usage.Requests >= lu.Limits.MonthlyRequests {
		return false, fmt.Sprintf("monthly limit of %d requests reached on the %s plan",
			lu.Limits.MonthlyRequests, lu.Plan), nil
	}

	if l.costProtection && lu.Limits.DailyCostCeiling > 0 && lu.Usage.CostToday >= lu.Limits.DailyCostCeiling {
		return false, fmt.Sprintf("daily cost ceiling of $%.2f reached on the %s plan",
			lu.Limits.DailyCostCeiling, lu.Plan), nil
	}

	return true, "", nil
}

// CanCreateAPIKey reports whether the user is under the plan's key limit.
func (l *Ledger) CanCreateAPIKey(ctx context.Context, userID string) (bool, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	limits, err := l.store.GetPlanLimits(ctx, user.Plan)
	if err != nil {
		return false, err
	}
	count, err := l.store.CountActiveAPIKeys(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < limits.MaxAPIKeys, nil
}

// IsModelAllowed reports whether the model is on the user's plan allow-list.
// "auto" is always allowed: the router then picks from the full catalogue.
// When the model is blocked, upgradePlan names the cheapest plan that would
// unlock it, or "" if no plan carries it.
func (l *Ledger) IsModelAllowed(ctx context.Context, userID, model string) (allowed bool, upgradePlan string, err error) {
	if model == "" || model == "auto" {
		return true, "", nil
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return false, "", err
	}
	limits, err := l.store.GetPlanLimits(ctx, user.Plan)
	if err != nil {
		return false, "", err
	}
	if limits.AllowsModel(model) {
		return true, "", nil
	}

	// ListPlanLimits is cheapest-first, so the first match is the upgrade.
	all, err := l.store.ListPlanLimits(ctx)
	if err != nil {
		return false, "", err
	}
	for _, p := range all {
		if p.AllowsModel(model) {
			return false, p.Plan, nil
		}
	}
	return false, "", nil
}

// RecordRequest admits the request to quota via the store's conditional
// increment and returns the remaining allowance. Called exactly once per
// admitted request, before the router runs, so a mid-route failure still
// counts: it reflects the platform cost of attempting providers.
func (l *Ledger) RecordRequest(ctx context.Context, userID string) (remaining int, err error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	limits, err := l.store.GetPlanLimits(ctx, user.Plan)
	if err != nil {
		return 0, err
	}

	count, err := l.store.IncrementRequestCount(ctx, userID, limits.MonthlyRequests)
	if err != nil {
		if errors.Is(err, database.ErrLimitReached) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to record request: %w", err)
	}

	remaining = limits.MonthlyRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ErrLimitReached is re-exported so callers need not import the database
// package to classify the increment failure.
var ErrLimitReached = database.ErrLimitReached

func (l *Ledger) startOfDay() time.Time {
	now := l.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
