package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routerlabs/gateway/internal/gateway/cache"
	"github.com/routerlabs/gateway/internal/gateway/handlers"
	"github.com/routerlabs/gateway/internal/gateway/plans"
	"github.com/routerlabs/gateway/internal/gateway/providers"
	"github.com/routerlabs/gateway/internal/gateway/registry"
	"github.com/routerlabs/gateway/internal/gateway/router"
	"github.com/routerlabs/gateway/internal/gateway/usage"
	"github.com/routerlabs/gateway/internal/shared/config"
	"github.com/routerlabs/gateway/internal/shared/database"
	"github.com/routerlabs/gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting AI routing gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Connected to PostgreSQL")

	if err := db.SeedPlans(ctx, cfg.PlansPath); err != nil {
		log.Fatalf("Failed to seed plan limits: %v", err)
	}
	log.Println("✓ Seeded plan limits")

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Connected to Redis")

	// Model catalogue with hot reload
	reg, err := registry.Load(cfg.ModelsPath, cfg.ProviderKeys())
	if err != nil {
		log.Fatalf("Failed to load model catalogue: %v", err)
	}
	if err := reg.Watch(ctx); err != nil {
		log.Printf("Warning: catalogue hot-reload disabled: %v", err)
	}
	log.Printf("✓ Loaded model catalogue (%d models available)", len(reg.AvailableModels()))

	// Provider adapters and the router over them. The router is built once
	// here and passed in explicitly; it holds no per-request state.
	adapters := providers.New(cfg)
	names := providers.Names(adapters)
	sort.Strings(names)
	log.Printf("✓ Initialized providers: %v", names)

	rtr := router.New(reg, adapters, cfg.RouteBudget)

	// Quota ledger and async usage writer
	ledger := plans.New(db, cfg.CostProtection)
	writer := usage.NewWriter(db, 3, 1000)
	writer.Start()
	defer writer.Stop()

	// Response cache
	cacheService := cache.New(redisClient)

	// Handlers
	middleware := handlers.NewMiddleware(db, redisClient)
	routeHandler := handlers.NewHandler(rtr, ledger, db, cacheService, writer, cfg.CacheEnabled)
	keysHandler := handlers.NewKeysHandler(db, ledger, cfg.CacheEnabled, cfg.CacheTTLSeconds)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(handlers.Recover)
	r.Use(chimiddleware.Timeout(cfg.RouteBudget + 30*time.Second))
	r.Use(middleware.CORSMiddleware)

	// Health check and metrics (no auth required)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"providers": names,
			"models":    len(reg.AvailableModels()),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes (with auth and rate limiting)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RateLimitMiddleware)

		r.Post("/route", routeHandler.HandleRoute)
		r.Post("/keys", keysHandler.HandleCreateKey)
		r.Delete("/keys/{id}", keysHandler.HandleDeactivateKey)
		r.Get("/usage", keysHandler.HandleUsage)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.RouteBudget + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST   /v1/route      - Routed AI completion")
		log.Println("   POST   /v1/keys       - Create API key")
		log.Println("   DELETE /v1/keys/{id}  - Deactivate API key")
		log.Println("   GET    /v1/usage      - Limits and usage snapshot")
		log.Println("   GET    /health        - Health check")
		log.Println("   GET    /metrics       - Prometheus metrics")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
