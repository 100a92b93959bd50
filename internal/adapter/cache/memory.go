package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voxspawn/internal/domain"
)

// MemoryCache wraps an AgentStore with an in-process TTL cache keyed by
// agent ID. Within the TTL a descriptor is fetched at most once; refresh
// happens lazily on the first Get after expiry and replaces the entry in
// place. Not-found answers are remembered for a shorter negative TTL so
// a storm of sessions referencing a deleted agent does not hammer the
// store. Transient store errors are never cached.
type MemoryCache struct {
	store       domain.AgentStore
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu        sync.Mutex
	desc      *domain.AgentDescriptor
	notFound  bool
	expiresAt time.Time
}

// NewMemoryCache creates a descriptor cache in front of store.
// negativeTTL of zero disables negative caching.
func NewMemoryCache(store domain.AgentStore, ttl, negativeTTL time.Duration, logger *slog.Logger) *MemoryCache {
	return &MemoryCache{
		store:       store,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		logger:      logger,
		entries:     make(map[string]*entry),
	}
}

// Get returns the descriptor for agentID, serving from cache when fresh.
// Concurrent Gets for the same agent coalesce into a single store fetch.
func (c *MemoryCache) Get(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	c.mu.Lock()
	e, ok := c.entries[agentID]
	if !ok {
		e = &entry{}
		c.entries[agentID] = e
	}
	c.mu.Unlock()

	// Per-entry lock: one goroutine fetches while the rest wait for the
	// refreshed value instead of issuing their own store calls.
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if now.Before(e.expiresAt) {
		if e.notFound {
			return nil, domain.NewDomainError("MemoryCache.Get", domain.ErrAgentNotFound, "agent "+agentID+" (cached)")
		}
		return e.desc, nil
	}

	desc, err := c.store.Fetch(ctx, agentID)
	switch {
	case err == nil:
		e.desc = desc
		e.notFound = false
		e.expiresAt = now.Add(c.ttl)
		return desc, nil

	case errors.Is(err, domain.ErrAgentNotFound):
		if c.negativeTTL > 0 {
			e.desc = nil
			e.notFound = true
			e.expiresAt = now.Add(c.negativeTTL)
		}
		return nil, err

	default:
		// Transient failure. The expired entry stays expired and the
		// error surfaces so the caller's own retry policy applies.
		c.logger.Warn("descriptor refresh failed",
			"agent_id", agentID,
			"error", err,
		)
		return nil, err
	}
}

// Invalidate drops the cached entry for agentID, forcing the next Get to
// hit the store.
func (c *MemoryCache) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.entries, agentID)
	c.mu.Unlock()
}

// Purge clears the entire cache.
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Size returns the number of cached entries (for testing and stats).
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ domain.DescriptorCache = (*MemoryCache)(nil)
