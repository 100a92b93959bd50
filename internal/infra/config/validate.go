package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validatePool(cfg, ve)
	validateStore(cfg, ve)
	validateCache(cfg, ve)
	validatePlatform(cfg, ve)
	validateLifecycle(cfg, ve)
	validateMaintenance(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validatePool(cfg *Config, ve *ValidationError) {
	if cfg.Pool.Capacity <= 0 {
		ve.Add("pool.capacity must be > 0")
	}
	if cfg.Pool.Pattern == "" {
		ve.Add("pool.pattern must not be empty")
		return
	}
	if _, err := glob.Compile(cfg.Pool.Pattern); err != nil {
		ve.Add("pool.pattern %q is not a valid glob: %v", cfg.Pool.Pattern, err)
	}
	// A pattern with no literal text matches every session the platform
	// announces, which stampedes the pool. Require at least one anchor.
	if strings.Trim(cfg.Pool.Pattern, "*?") == "" {
		ve.Add("pool.pattern %q matches everything; anchor it with a literal prefix (e.g. \"agent-*\")", cfg.Pool.Pattern)
	}
}

var validStoreBackends = map[string]bool{
	"sqlite": true,
	"http":   true,
}

func validateStore(cfg *Config, ve *ValidationError) {
	if !validStoreBackends[cfg.Store.Backend] {
		ve.Add("store.backend %q is invalid (want: sqlite, http)", cfg.Store.Backend)
		return
	}
	switch cfg.Store.Backend {
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path must not be empty for the sqlite backend")
		}
	case "http":
		if cfg.Store.URL == "" {
			ve.Add("store.url must not be empty for the http backend")
		}
	}
	if cfg.Store.Timeout <= 0 {
		ve.Add("store.timeout must be > 0")
	}
	if cfg.Store.Retry.Attempts <= 0 {
		ve.Add("store.retry.attempts must be > 0")
	}
	if cfg.Store.Retry.BaseDelay <= 0 {
		ve.Add("store.retry.base_delay must be > 0")
	}
	if cfg.Store.Retry.MaxDelay < cfg.Store.Retry.BaseDelay {
		ve.Add("store.retry.max_delay must be >= store.retry.base_delay")
	}
	if cfg.Store.Breaker.Enabled && cfg.Store.Breaker.MaxFailures == 0 {
		ve.Add("store.circuit_breaker.max_failures must be > 0 when the breaker is enabled")
	}
}

var validCacheBackends = map[string]bool{
	"memory": true,
	"redis":  true,
}

func validateCache(cfg *Config, ve *ValidationError) {
	if !validCacheBackends[cfg.Cache.Backend] {
		ve.Add("cache.backend %q is invalid (want: memory, redis)", cfg.Cache.Backend)
		return
	}
	if cfg.Cache.TTL <= 0 {
		ve.Add("cache.ttl must be > 0")
	}
	if cfg.Cache.NegativeTTL < 0 {
		ve.Add("cache.negative_ttl must be >= 0")
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisURL == "" {
		ve.Add("cache.redis_url must not be empty for the redis backend")
	}
}

func validatePlatform(cfg *Config, ve *ValidationError) {
	if cfg.Platform.URL == "" {
		ve.Add("platform.url must not be empty (set via VOXSPAWN_PLATFORM_URL)")
	} else if !strings.HasPrefix(cfg.Platform.URL, "ws://") && !strings.HasPrefix(cfg.Platform.URL, "wss://") {
		ve.Add("platform.url %q must be a ws:// or wss:// endpoint", cfg.Platform.URL)
	}
	if cfg.Platform.ClaimRate <= 0 {
		ve.Add("platform.claim_rate must be > 0")
	}
	if cfg.Platform.ClaimBurst <= 0 {
		ve.Add("platform.claim_burst must be > 0")
	}
}

func validateLifecycle(cfg *Config, ve *ValidationError) {
	if cfg.Lifecycle.LoadTimeout <= 0 {
		ve.Add("lifecycle.load_timeout must be > 0")
	}
	if cfg.Lifecycle.MaterializeTimeout <= 0 {
		ve.Add("lifecycle.materialize_timeout must be > 0")
	}
	if cfg.Lifecycle.GracePeriod <= 0 {
		ve.Add("lifecycle.grace_period must be > 0")
	} else if cfg.Lifecycle.GracePeriod > time.Minute {
		ve.Add("lifecycle.grace_period %s is too long; empty sessions would linger (max 1m)", cfg.Lifecycle.GracePeriod)
	}
	if cfg.Lifecycle.DrainTimeout <= 0 {
		ve.Add("lifecycle.drain_timeout must be > 0")
	}
}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	if !cfg.Maintenance.Enabled {
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Maintenance.ReapSchedule); err != nil {
		ve.Add("maintenance.reap_schedule %q is not a valid cron expression: %v", cfg.Maintenance.ReapSchedule, err)
	}
	if _, err := parser.Parse(cfg.Maintenance.StatsSchedule); err != nil {
		ve.Add("maintenance.stats_schedule %q is not a valid cron expression: %v", cfg.Maintenance.StatsSchedule, err)
	}
	if _, err := parser.Parse(cfg.Maintenance.RefreshSchedule); err != nil {
		ve.Add("maintenance.refresh_schedule %q is not a valid cron expression: %v", cfg.Maintenance.RefreshSchedule, err)
	}
	if cfg.Maintenance.RecordMaxAge <= 0 {
		ve.Add("maintenance.record_max_age must be > 0")
	}
}

// DisjointPatterns reports whether two pool patterns can both match some
// session name. Pools deployed side by side should carry non-overlapping
// patterns; this is a heuristic check on the literal prefixes, exact only
// when both patterns are prefix globs.
func DisjointPatterns(a, b string) bool {
	pa, pb := literalPrefix(a), literalPrefix(b)
	return !strings.HasPrefix(pa, pb) && !strings.HasPrefix(pb, pa)
}

// ValidatePoolPatterns checks a deployment topology: every pair of pool
// patterns must be disjoint so no session name can be claimed by two
// pools. Run against the full list of deployed pools before rollout.
func ValidatePoolPatterns(patterns []string) error {
	ve := &ValidationError{}
	for i := 0; i < len(patterns); i++ {
		for j := i + 1; j < len(patterns); j++ {
			if !DisjointPatterns(patterns[i], patterns[j]) {
				ve.Add("pool patterns %q and %q can both match the same session name", patterns[i], patterns[j])
			}
		}
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?[{"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
