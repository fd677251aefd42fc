package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of routed requests",
	}, []string{"status", "plan"})
	RouteDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_route_duration_seconds",
		Help:    "Duration of routing including provider fallback",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	ProviderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_provider_failures_total",
		Help: "Total number of failed provider candidate attempts",
	}, []string{"provider"})
	TokensUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_tokens_used",
		Help:    "Tokens consumed per completion",
		Buckets: prometheus.ExponentialBuckets(16, 2, 12),
	}, []string{"model"})
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Total number of responses served from cache",
	})
	QuotaRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_quota_rejections_total",
		Help: "Total number of requests rejected by quota or rate limits",
	}, []string{"reason"})
)
