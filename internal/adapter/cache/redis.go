package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"voxspawn/internal/domain"
)

const (
	redisKeyPrefix = "voxspawn:agent:"

	// notFoundSentinel marks a cached not-found answer. Descriptors are
	// stored as JSON objects, so a bare string can never collide.
	notFoundSentinel = `"__not_found__"`
)

// RedisCache wraps an AgentStore with a Redis-backed TTL cache so that
// multiple spawner processes share one descriptor cache. Redis being
// down degrades to a direct store fetch; the cache is an optimization,
// never a dependency.
type RedisCache struct {
	store       domain.AgentStore
	client      *redis.Client
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

// NewRedisCache connects to redisURL and returns a shared descriptor cache.
func NewRedisCache(ctx context.Context, store domain.AgentStore, redisURL string, ttl, negativeTTL time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{
		store:       store,
		client:      client,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		logger:      logger,
	}, nil
}

// Get returns the descriptor for agentID, serving from Redis when fresh.
func (c *RedisCache) Get(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	key := redisKeyPrefix + agentID

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == notFoundSentinel {
			return nil, domain.NewDomainError("RedisCache.Get", domain.ErrAgentNotFound, "agent "+agentID+" (cached)")
		}
		var d domain.AgentDescriptor
		if jsonErr := json.Unmarshal([]byte(val), &d); jsonErr == nil {
			return &d, nil
		}
		// Corrupt entry. Drop it and fetch fresh.
		c.client.Del(ctx, key)

	case errors.Is(err, redis.Nil):
		// cache miss, fall through to the store

	default:
		c.logger.Warn("redis unavailable, fetching descriptor directly",
			"agent_id", agentID,
			"error", err,
		)
		return c.store.Fetch(ctx, agentID)
	}

	d, err := c.store.Fetch(ctx, agentID)
	switch {
	case err == nil:
		if data, jsonErr := json.Marshal(d); jsonErr == nil {
			if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
				c.logger.Warn("failed to cache descriptor", "agent_id", agentID, "error", setErr)
			}
		}
		return d, nil

	case errors.Is(err, domain.ErrAgentNotFound):
		if c.negativeTTL > 0 {
			if setErr := c.client.Set(ctx, key, notFoundSentinel, c.negativeTTL).Err(); setErr != nil {
				c.logger.Warn("failed to cache not-found", "agent_id", agentID, "error", setErr)
			}
		}
		return nil, err

	default:
		return nil, err
	}
}

// Invalidate drops the cached entry for agentID.
func (c *RedisCache) Invalidate(ctx context.Context, agentID string) error {
	return c.client.Del(ctx, redisKeyPrefix+agentID).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ domain.DescriptorCache = (*RedisCache)(nil)
