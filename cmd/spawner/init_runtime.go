package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"

	"voxspawn/internal/adapter/cache"
	"voxspawn/internal/adapter/store"
	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
	"voxspawn/internal/usecase/pool"
)

// buildStore assembles the agent store chain: backend, then retry, then
// an optional circuit breaker on the outside.
func buildStore(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (domain.AgentStore, func(), error) {
	var base domain.AgentStore
	cleanup := func() {}

	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		base = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				log.Warn("store close", "error", err)
			}
		}
	case "http":
		base = store.NewHTTPStore(cfg.Store.URL, cfg.Store.APIKey, cfg.Store.Timeout)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	chained := domain.AgentStore(store.NewRetryingStore(base, cfg.Store.Retry, log))

	if cfg.Store.Breaker.Enabled {
		bs := store.NewBreakerStore(chained, cfg.Store.Breaker, log)
		bs.OnStateChange(func(_, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				bus.Publish(context.Background(), domain.Event{
					Type:      domain.EventStoreBreakerOpened,
					Timestamp: time.Now(),
				})
			}
		})
		chained = bs
	}
	return chained, cleanup, nil
}

// buildCache wraps the store with the configured descriptor cache.
func buildCache(ctx context.Context, cfg *config.Config, st domain.AgentStore, log *slog.Logger) (domain.DescriptorCache, func(), error) {
	switch cfg.Cache.Backend {
	case "memory":
		c := cache.NewMemoryCache(st, cfg.Cache.TTL, cfg.Cache.NegativeTTL, log)
		return c, func() {}, nil
	case "redis":
		c, err := cache.NewRedisCache(ctx, st, cfg.Cache.RedisURL, cfg.Cache.TTL, cfg.Cache.NegativeTTL, log)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := c.Close(); err != nil {
				log.Warn("cache close", "error", err)
			}
		}
		return c, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// subscribeAudit logs every published event, giving operators a single
// ordered stream of session activity.
func subscribeAudit(bus domain.EventBus, log *slog.Logger) {
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		attrs := []any{"type", string(e.Type)}
		if e.SessionName != "" {
			attrs = append(attrs, "session", e.SessionName)
		}
		if e.AgentID != "" {
			attrs = append(attrs, "agent_id", e.AgentID)
		}
		if len(e.Payload) > 0 {
			attrs = append(attrs, "payload", string(e.Payload))
		}
		log.Info("event", attrs...)
	})
}

// startMaintenance schedules the housekeeping jobs and returns a stop
// function that waits for running jobs to finish.
func startMaintenance(cfg config.MaintenanceConfig, sup *pool.Supervisor, dc domain.DescriptorCache, bus domain.EventBus, log *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	c := cron.New()

	if _, err := c.AddFunc(cfg.ReapSchedule, func() {
		sup.ReapTerminal(cfg.RecordMaxAge)
	}); err != nil {
		return nil, fmt.Errorf("reap schedule: %w", err)
	}

	if _, err := c.AddFunc(cfg.StatsSchedule, func() {
		s := sup.Stats()
		log.Info("pool stats",
			"pool", s.PoolID,
			"active", s.Active,
			"capacity", s.Capacity,
			"claimed", s.Claimed,
			"refused", s.Refused,
			"terminated", s.Terminated,
			"failed", s.Failed,
		)
	}); err != nil {
		return nil, fmt.Errorf("stats schedule: %w", err)
	}

	// Scheduled full refresh only applies to caches that can drop all
	// entries at once; the redis cache relies on per-key TTLs instead.
	if purger, ok := dc.(interface{ Purge() }); ok {
		if _, err := c.AddFunc(cfg.RefreshSchedule, func() {
			purger.Purge()
			bus.Publish(context.Background(), domain.Event{
				Type:      domain.EventDescriptorRefresh,
				Timestamp: time.Now(),
			})
			log.Info("descriptor cache purged for refresh")
		}); err != nil {
			return nil, fmt.Errorf("refresh schedule: %w", err)
		}
	}

	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// runAgents prints the active agents visible through the configured
// store backend.
func runAgents() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var st domain.AgentStore
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	case "http":
		st = store.NewHTTPStore(cfg.Store.URL, cfg.Store.APIKey, cfg.Store.Timeout)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	agents, err := st.ListActive(ctx, 100)
	if err != nil {
		return err
	}
	for _, a := range agents {
		fmt.Printf("%s\t%s\t%s\t%s\n", a.ID, a.DisplayName, a.VoiceProfile, a.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("%d active agent(s)\n", len(agents))
	return nil
}

// runSeed loads agent descriptors from a JSON file into the sqlite
// store. Intended for local development and test fixtures.
func runSeed(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: spawner seed <descriptors.json>")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Store.Backend != "sqlite" {
		return fmt.Errorf("seed requires the sqlite store backend, have %q", cfg.Store.Backend)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var descs []domain.AgentDescriptor
	if err := json.Unmarshal(raw, &descs); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	for i := range descs {
		if descs[i].Status == "" {
			descs[i].Status = domain.StatusActive
		}
		if err := s.Put(ctx, &descs[i]); err != nil {
			return fmt.Errorf("agent %s: %w", descs[i].ID, err)
		}
	}
	fmt.Printf("seeded %d agent(s) into %s\n", len(descs), cfg.Store.Path)
	return nil
}
