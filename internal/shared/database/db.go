package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/routerlabs/gateway/internal/shared/models"
)

// ErrNotFound is returned when a row the caller asked for does not exist.
var ErrNotFound = errors.New("not found")

// ErrLimitReached is returned by IncrementRequestCount when the conditional
// update matched no row because the counter is already at the plan limit.
var ErrLimitReached = errors.New("monthly request limit reached")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// HashKey returns the hex sha256 of a raw API key. Raw keys are never stored.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// GetAPIKey retrieves an active API key by its raw key value.
func (db *DB) GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, key_prefix, name, is_active, cache_enabled,
		       cache_ttl_seconds, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, query, HashKey(rawKey)).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.IsActive,
		&apiKey.CacheEnabled,
		&apiKey.CacheTTLSeconds,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// CreateAPIKey inserts a key row. The caller is responsible for checking the
// plan's key limit first.
func (db *DB) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, key_hash, key_prefix, name, cache_enabled, cache_ttl_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := db.conn.QueryRowContext(ctx, query,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Name, key.CacheEnabled, key.CacheTTLSeconds,
	).Scan(&key.ID, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	key.IsActive = true
	return nil
}

// DeactivateAPIKey flips is_active off. Keys are never hard-deleted so usage
// history stays attributable.
func (db *DB) DeactivateAPIKey(ctx context.Context, userID, keyID string) error {
	query := `UPDATE api_keys SET is_active = false, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	res, err := db.conn.ExecContext(ctx, query, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAPIKeys counts a user's active keys.
func (db *DB) CountActiveAPIKeys(ctx context.Context, userID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_active = true`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}

// GetUser retrieves a user row.
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, external_auth_id, plan, is_active, requests_this_month, period_start,
		       created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.ExternalAuthID,
		&user.Plan,
		&user.IsActive,
		&user.RequestsThisMonth,
		&user.PeriodStart,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}

// MonthlyRequestCount returns the user's counter for the current billing
// month. A counter from a previous period reads as zero; the stored value
// is only rolled forward on the next increment.
func (db *DB) MonthlyRequestCount(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT CASE WHEN period_start < date_trunc('month', now())
		            THEN 0 ELSE requests_this_month END
		FROM users WHERE id = $1
	`
	var count int
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}

// IncrementRequestCount performs the check-and-increment as one conditional
// update, so two requests racing at the quota boundary cannot both be
// admitted. Returns the post-increment count.
func (db *DB) IncrementRequestCount(ctx context.Context, userID string, limit int) (int, error) {
	query := `
		UPDATE users SET
			requests_this_month = CASE WHEN period_start < date_trunc('month', now())
			                           THEN 1 ELSE requests_this_month + 1 END,
			period_start = date_trunc('month', now()),
			updated_at = NOW()
		WHERE id = $1
		  AND (CASE WHEN period_start < date_trunc('month', now())
		            THEN 0 ELSE requests_this_month END) < $2
		RETURNING requests_this_month
	`
	var count int
	err := db.conn.QueryRowContext(ctx, query, userID, limit).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}

// GetPlanLimits retrieves the limits row for a plan.
func (db *DB) GetPlanLimits(ctx context.Context, plan string) (*models.PlanLimits, error) {
	query := `
		SELECT plan, monthly_requests, max_api_keys, requests_per_minute,
		       allowed_models, daily_cost_ceiling, price_usd
		FROM plan_limits
		WHERE plan = $1
	`

	var limits models.PlanLimits
	err := db.conn.QueryRowContext(ctx, query, plan).Scan(
		&limits.Plan,
		&limits.MonthlyRequests,
		&limits.MaxAPIKeys,
		&limits.RequestsPerMinute,
		pq.Array(&limits.AllowedModels),
		&limits.DailyCostCeiling,
		&limits.PriceUSD,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &limits, nil
}

// ListPlanLimits returns every plan, cheapest first.
func (db *DB) ListPlanLimits(ctx context.Context) ([]models.PlanLimits, error) {
	query := `
		SELECT plan, monthly_requests, max_api_keys, requests_per_minute,
		       allowed_models, daily_cost_ceiling, price_usd
		FROM plan_limits
		ORDER BY price_usd ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var plans []models.PlanLimits
	for rows.Next() {
		var limits models.PlanLimits
		if err := rows.Scan(
			&limits.Plan,
			&limits.MonthlyRequests,
			&limits.MaxAPIKeys,
			&limits.RequestsPerMinute,
			pq.Array(&limits.AllowedModels),
			&limits.DailyCostCeiling,
			&limits.PriceUSD,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		plans = append(plans, limits)
	}
	return plans, rows.Err()
}

// SumCostSince aggregates ledger cost for a user from the given instant.
func (db *DB) SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var cost float64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return cost, nil
}

// InsertUsageRecord appends one ledger row.
func (db *DB) InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			user_id, api_key_id, request_id, model, provider, input_tokens,
			output_tokens, cost_usd, latency_ms, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.conn.ExecContext(ctx, query,
		rec.UserID,
		rec.APIKeyID,
		rec.RequestID,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.LatencyMs,
		rec.Success,
		rec.ErrorMessage,
	)
	return err
}

type planSeedFile struct {
	Plans []models.PlanLimits `yaml:"plans"`
}

// SeedPlans upserts plan rows from a YAML file so tier changes land without
// a redeploy of code.
func (db *DB) SeedPlans(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan seed file: %w", err)
	}

	var file planSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse plan seed file: %w", err)
	}

	query := `
		INSERT INTO plan_limits (plan, monthly_requests, max_api_keys, requests_per_minute,
		                         allowed_models, daily_cost_ceiling, price_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (plan) DO UPDATE SET
			monthly_requests = EXCLUDED.monthly_requests,
			max_api_keys = EXCLUDED.max_api_keys,
			requests_per_minute = EXCLUDED.requests_per_minute,
			allowed_models = EXCLUDED.allowed_models,
			daily_cost_ceiling = EXCLUDED.daily_cost_ceiling,
			price_usd = EXCLUDED.price_usd
	`
	for _, p := range file.Plans {
		if _, err := db.conn.ExecContext(ctx, query,
			p.Plan, p.MonthlyRequests, p.MaxAPIKeys, p.RequestsPerMinute,
			pq.Array(p.AllowedModels), p.DailyCostCeiling, p.PriceUSD,
		); err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.Plan, err)
		}
	}
	return nil
}
