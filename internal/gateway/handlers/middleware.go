package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/routerlabs/gateway/internal/gateway/apierr"
	"github.com/routerlabs/gateway/internal/gateway/metrics"
	"github.com/routerlabs/gateway/internal/shared/database"
	"github.com/routerlabs/gateway/internal/shared/models"
	"github.com/routerlabs/gateway/internal/shared/redis"
)

// Gateway keys are issued with this literal prefix; anything else is
// rejected before touching the key store.
const KeyPrefix = "rtr_"

type ctxKey int

const (
	ctxKeyAPIKey ctxKey = iota
	ctxKeyUser
)

// APIKeyFromContext returns the authenticated key set by AuthMiddleware.
func APIKeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(ctxKeyAPIKey).(*models.APIKey)
	return key, ok
}

// UserFromContext returns the authenticated user set by AuthMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(ctxKeyUser).(*models.User)
	return user, ok
}

// AuthStore is the persistence surface the middleware needs. *database.DB
// satisfies it; tests use an in-memory fake.
type AuthStore interface {
	GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetPlanLimits(ctx context.Context, plan string) (*models.PlanLimits, error)
}

type Middleware struct {
	db    AuthStore
	redis *redis.Client
}

func NewMiddleware(db AuthStore, redis *redis.Client) *Middleware {
	return &Middleware{
		db:    db,
		redis: redis,
	}
}

// AuthMiddleware validates API keys and loads the owning user into the
// request context.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			apierr.Write(w, apierr.Authentication(
				"API key requerida. Incluye el header 'Authorization: Bearer rtr_...'"))
			return
		}

		rawKey := strings.TrimPrefix(authHeader, "Bearer ")
		if !strings.HasPrefix(rawKey, KeyPrefix) {
			apierr.Write(w, apierr.Authentication("invalid API key format"))
			return
		}

		apiKey, err := m.db.GetAPIKey(r.Context(), rawKey)
		if err != nil {
			if err == database.ErrNotFound {
				apierr.Write(w, apierr.Authentication("invalid or inactive API key"))
				return
			}
			log.Printf("API key lookup failed: %v", err)
			apierr.Write(w, apierr.Internal())
			return
		}

		user, err := m.db.GetUser(r.Context(), apiKey.UserID)
		if err != nil {
			log.Printf("User lookup failed for key %s: %v", apiKey.ID, err)
			apierr.Write(w, apierr.Internal())
			return
		}
		if !user.IsActive {
			apierr.Write(w, apierr.Authentication("account is deactivated"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAPIKey, apiKey)
		ctx = context.WithValue(ctx, ctxKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces the plan's per-minute limit via a redis
// fixed window. Redis outages fail open: a throttling layer being down
// should not take the whole product with it.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, okKey := APIKeyFromContext(r.Context())
		user, okUser := UserFromContext(r.Context())
		if !okKey || !okUser || m.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		limits, err := m.db.GetPlanLimits(r.Context(), user.Plan)
		if err != nil {
			log.Printf("Plan limits lookup failed for %q: %v", user.Plan, err)
			next.ServeHTTP(w, r)
			return
		}
		limit := limits.RequestsPerMinute
		if limit <= 0 {
			limit = 60
		}

		allowed, remaining, err := m.redis.Allow(r.Context(), apiKey.ID, limit)
		if err != nil {
			log.Printf("Rate limit check failed: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		if !allowed {
			w.Header().Set("Retry-After", "60")
			metrics.QuotaRejectionsTotal.WithLabelValues("per_minute").Inc()
			apierr.Write(w, apierr.RateLimit(
				fmt.Sprintf("rate limit of %d requests per minute exceeded", limit)))
			return
		}
		_ = remaining

		next.ServeHTTP(w, r)
	})
}

// Recover is the catch-all: unexpected panics are downgraded to a generic
// 500 api_error with full detail logged server-side only.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				apierr.Write(w, apierr.Internal())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
