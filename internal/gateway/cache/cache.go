package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routerlabs/gateway/internal/gateway/router"
	"github.com/routerlabs/gateway/internal/shared/redis"
)

// Cache is an exact-match response cache over redis. Hits skip the router
// entirely and are surfaced with zero cost.
type Cache struct {
	redis *redis.Client
}

// New creates a new cache instance
func New(redisClient *redis.Client) *Cache {
	return &Cache{redis: redisClient}
}

// generateCacheKey hashes the routing-relevant request fields.
func (c *Cache) generateCacheKey(req router.Request) string {
	keyData := fmt.Sprintf("%s:%s:%v:%s:%s:%d:%v",
		req.Model,
		req.Strategy,
		req.Messages,
		req.Message,
		req.SystemPrompt,
		req.MaxTokens,
		req.Temperature,
	)

	hash := sha256.Sum256([]byte(keyData))
	return "cache:exact:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached routing response.
func (c *Cache) Get(ctx context.Context, req router.Request) (*router.Response, error) {
	val, err := c.redis.Get(ctx, c.generateCacheKey(req))
	if err != nil {
		return nil, err
	}

	var cached router.Response
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}
	return &cached, nil
}

// Set stores a successful routing response.
func (c *Cache) Set(ctx context.Context, req router.Request, resp *router.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	return c.redis.Set(ctx, c.generateCacheKey(req), string(data), ttl)
}
