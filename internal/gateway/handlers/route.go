package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/routerlabs/gateway/internal/gateway/apierr"
	"github.com/routerlabs/gateway/internal/gateway/cache"
	"github.com/routerlabs/gateway/internal/gateway/metrics"
	"github.com/routerlabs/gateway/internal/gateway/plans"
	"github.com/routerlabs/gateway/internal/gateway/router"
	"github.com/routerlabs/gateway/internal/shared/models"
)

// APIVersion is reported on every routed response.
const APIVersion = "2024-06-01"

// Quota is the ledger surface the route handler depends on.
type Quota interface {
	CanMakeRequest(ctx context.Context, userID string) (bool, string, error)
	IsModelAllowed(ctx context.Context, userID, model string) (bool, string, error)
	RecordRequest(ctx context.Context, userID string) (int, error)
	GetUserLimitsAndUsage(ctx context.Context, userID string) (*plans.LimitsAndUsage, error)
	CanCreateAPIKey(ctx context.Context, userID string) (bool, error)
}

// Routing is satisfied by *router.Router; tests stub it.
type Routing interface {
	Route(ctx context.Context, req router.Request) (*router.Response, error)
}

// KeyToucher updates a key's last-used timestamp, best-effort.
type KeyToucher interface {
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

// UsageSink receives completed ledger rows, typically the async writer.
type UsageSink interface {
	Submit(rec *models.UsageRecord) bool
}

// routeRequest is the inbound wire contract.
type routeRequest struct {
	Message         string   `json:"message"`
	Model           string   `json:"model,omitempty"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	APIKeyID        string   `json:"apiKeyId,omitempty"`
	RoutingStrategy string   `json:"routingStrategy,omitempty"`
}

type tokensUsed struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// routeResponse is the outbound wire contract for successful routes.
type routeResponse struct {
	Success      bool       `json:"success"`
	Response     string     `json:"response"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	TokensUsed   tokensUsed `json:"tokensUsed"`
	Cost         float64    `json:"cost"`
	ResponseTime int        `json:"responseTime"`
}

// Handler serves POST /v1/route: the request gate in front of the router.
type Handler struct {
	routing      Routing
	ledger       Quota
	toucher      KeyToucher
	cache        *cache.Cache
	usage        UsageSink
	cacheEnabled bool
}

func NewHandler(routing Routing, ledger Quota, toucher KeyToucher, respCache *cache.Cache, sink UsageSink, cacheEnabled bool) *Handler {
	return &Handler{
		routing:      routing,
		ledger:       ledger,
		toucher:      toucher,
		cache:        respCache,
		usage:        sink,
		cacheEnabled: cacheEnabled,
	}
}

// HandleRoute walks the gate checkpoints in order: quota, model
// authorization, last-used touch, counter increment, then routing. The
// counter is incremented before the router runs so a mid-route failure
// still counts against quota.
func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	apiKey, okKey := APIKeyFromContext(r.Context())
	user, okUser := UserFromContext(r.Context())
	if !okKey || !okUser {
		apierr.Write(w, apierr.Authentication("unauthorized"))
		return
	}

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.New(apierr.TypeAPI, http.StatusBadRequest, "invalid request body"))
		return
	}
	if req.Message == "" {
		apierr.Write(w, apierr.New(apierr.TypeAPI, http.StatusBadRequest, "message is required"))
		return
	}

	// Checkpoint: monthly quota / daily cost ceiling.
	allowed, reason, err := h.ledger.CanMakeRequest(r.Context(), user.ID)
	if err != nil {
		log.Printf("Quota check failed for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}
	if !allowed {
		metrics.QuotaRejectionsTotal.WithLabelValues("quota").Inc()
		apierr.Write(w, apierr.RateLimit(reason))
		return
	}

	// Checkpoint: plan allow-list for explicit model selection.
	if req.Model != "" && req.Model != "auto" {
		modelOK, upgradePlan, err := h.ledger.IsModelAllowed(r.Context(), user.ID, req.Model)
		if err != nil {
			log.Printf("Model authorization failed for user %s: %v", user.ID, err)
			apierr.Write(w, apierr.Internal())
			return
		}
		if !modelOK {
			msg := fmt.Sprintf("model %q is not included in the %s plan", req.Model, user.Plan)
			if upgradePlan != "" {
				msg = fmt.Sprintf("%s; upgrade to the %s plan to use it", msg, upgradePlan)
			}
			metrics.QuotaRejectionsTotal.WithLabelValues("model").Inc()
			apierr.Write(w, apierr.Permission(msg))
			return
		}
	}

	// Best-effort, off the hot path.
	go func(keyID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.toucher.UpdateAPIKeyLastUsed(ctx, keyID); err != nil {
			log.Printf("Failed to touch api key %s: %v", keyID, err)
		}
	}(apiKey.ID)

	// Checkpoint: admit to quota. Atomic check-and-increment closes the
	// window where two racing requests both slip past the limit.
	remaining, err := h.ledger.RecordRequest(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, plans.ErrLimitReached) {
			metrics.QuotaRejectionsTotal.WithLabelValues("quota").Inc()
			apierr.Write(w, apierr.RateLimit("monthly request limit reached"))
			return
		}
		log.Printf("Failed to record request for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}

	routeReq := router.Request{
		UserID:       user.ID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Strategy:     req.RoutingStrategy,
		MaxTokens:    req.MaxTokens,
	}
	if req.Temperature != nil {
		routeReq.Temperature = *req.Temperature
	}

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Plan", user.Plan)
	w.Header().Set("X-API-Version", APIVersion)

	requestID := uuid.NewString()

	// Cache hits skip the router and are free of provider cost. They still
	// count against quota: the increment above already happened.
	useCache := h.cacheEnabled && h.cache != nil && apiKey.CacheEnabled
	if useCache {
		if cached, err := h.cache.Get(r.Context(), routeReq); err == nil && cached.Success {
			metrics.CacheHitsTotal.Inc()
			w.Header().Set("X-Cache-Hit", "true")
			w.Header().Set("X-Provider", cached.Provider)
			h.recordUsage(user, apiKey, requestID, cached, 0, true, "")
			h.writeSuccess(w, cached, 0)
			return
		}
	}

	resp, err := h.routing.Route(r.Context(), routeReq)
	if err != nil {
		// Pre-flight routing failures: unknown/unavailable explicit model,
		// or an empty candidate list.
		status := http.StatusBadRequest
		if errors.Is(err, router.ErrNoCandidates) {
			status = http.StatusServiceUnavailable
		}
		h.recordFailure(user, apiKey, requestID, req.Model, err.Error(), startTime)
		metrics.RequestsTotal.WithLabelValues("error", user.Plan).Inc()
		apierr.Write(w, apierr.New(apierr.TypeAPI, status, err.Error()))
		return
	}

	if !resp.Success {
		h.recordFailure(user, apiKey, requestID, req.Model, resp.Err, startTime)
		metrics.RequestsTotal.WithLabelValues("failed", user.Plan).Inc()
		apierr.Write(w, apierr.Upstream(resp.Err))
		return
	}

	if useCache {
		ttl := time.Duration(apiKey.CacheTTLSeconds) * time.Second
		if err := h.cache.Set(r.Context(), routeReq, resp, ttl); err != nil {
			log.Printf("Failed to cache response: %v", err)
		}
	}

	metrics.RequestsTotal.WithLabelValues("success", user.Plan).Inc()
	metrics.RouteDurationSeconds.WithLabelValues(resp.Provider).Observe(time.Since(startTime).Seconds())
	metrics.TokensUsed.WithLabelValues(resp.Model).Observe(float64(resp.TotalTokens))

	h.recordUsage(user, apiKey, requestID, resp, resp.CostUSD, true, "")
	h.writeSuccess(w, resp, resp.CostUSD)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, resp *router.Response, cost float64) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(routeResponse{
		Success:  true,
		Response: resp.Content,
		Model:    resp.Model,
		Provider: resp.Provider,
		TokensUsed: tokensUsed{
			Input:  resp.InputTokens,
			Output: resp.OutputTokens,
			Total:  resp.TotalTokens,
		},
		Cost:         cost,
		ResponseTime: resp.LatencyMs,
	})
}

func (h *Handler) recordUsage(user *models.User, apiKey *models.APIKey, requestID string, resp *router.Response, cost float64, success bool, errMsg string) {
	if h.usage == nil {
		return
	}
	rec := &models.UsageRecord{
		UserID:       user.ID,
		APIKeyID:     apiKey.ID,
		RequestID:    requestID,
		Model:        resp.Model,
		Provider:     resp.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		LatencyMs:    resp.LatencyMs,
		Success:      success,
		CreatedAt:    time.Now(),
	}
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	h.usage.Submit(rec)
}

func (h *Handler) recordFailure(user *models.User, apiKey *models.APIKey, requestID, model, errMsg string, startTime time.Time) {
	if h.usage == nil {
		return
	}
	rec := &models.UsageRecord{
		UserID:       user.ID,
		APIKeyID:     apiKey.ID,
		RequestID:    requestID,
		Model:        model,
		Provider:     "",
		CostUSD:      0,
		LatencyMs:    int(time.Since(startTime).Milliseconds()),
		Success:      false,
		ErrorMessage: &errMsg,
		CreatedAt:    time.Now(),
	}
	h.usage.Submit(rec)
}
