package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level spawner configuration.
type Config struct {
	Pool        PoolConfig        `yaml:"pool"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Platform    PlatformConfig    `yaml:"platform"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	ID             string `yaml:"id"`      // worker identity, auto-generated if empty
	Pattern        string `yaml:"pattern"` // glob matched against session names
	Capacity       int    `yaml:"capacity"`
	DefaultAgentID string `yaml:"default_agent_id,omitempty"` // fallback when a matched session has no routing key
}

// StoreConfig holds agent configuration store settings.
type StoreConfig struct {
	Backend string        `yaml:"backend"` // "sqlite" or "http"
	Path    string        `yaml:"path"`    // sqlite database file
	URL     string        `yaml:"url"`     // http store base URL
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`

	Retry   RetryConfig          `yaml:"retry"`
	Breaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry-with-backoff settings for transient store failures.
// Attempts counts retries after the initial call, so a call budget of
// Attempts+1 total.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig holds circuit breaker settings for the store.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// CacheConfig holds descriptor cache settings.
type CacheConfig struct {
	Backend     string        `yaml:"backend"` // "memory" or "redis"
	TTL         time.Duration `yaml:"ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"` // how long not-found results are remembered
	RedisURL    string        `yaml:"redis_url,omitempty"`
}

// PlatformConfig holds conversation platform connection settings.
type PlatformConfig struct {
	URL         string        `yaml:"url"` // websocket endpoint
	APIKey      string        `yaml:"api_key,omitempty"`
	ClaimRate   float64       `yaml:"claim_rate"`  // claim admissions per second
	ClaimBurst  int           `yaml:"claim_burst"` // burst allowance
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LifecycleConfig holds per-session lifecycle timing.
type LifecycleConfig struct {
	LoadTimeout        time.Duration `yaml:"load_timeout"`        // descriptor fetch budget
	MaterializeTimeout time.Duration `yaml:"materialize_timeout"` // agent construction budget
	GracePeriod        time.Duration `yaml:"grace_period"`        // empty-session dwell before draining
	DrainTimeout       time.Duration `yaml:"drain_timeout"`       // platform detach budget
}

// MaintenanceConfig holds scheduled housekeeping settings.
type MaintenanceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ReapSchedule    string        `yaml:"reap_schedule"`    // cron expression
	StatsSchedule   string        `yaml:"stats_schedule"`   // cron expression
	RefreshSchedule string        `yaml:"refresh_schedule"` // cron expression; full descriptor cache refresh
	RecordMaxAge    time.Duration `yaml:"record_max_age"`   // terminal claim records older than this are reaped
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.voxspawn/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".voxspawn", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Pool: PoolConfig{
			Pattern:  "agent-*",
			Capacity: 8,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dataDir, "agents.db"),
			Timeout: 5 * time.Second,
			Retry: RetryConfig{
				Attempts:  3,
				BaseDelay: 200 * time.Millisecond,
				MaxDelay:  2 * time.Second,
			},
			Breaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTL:         5 * time.Minute,
			NegativeTTL: 30 * time.Second,
		},
		Platform: PlatformConfig{
			ClaimRate:   10,
			ClaimBurst:  20,
			DialTimeout: 10 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			LoadTimeout:        10 * time.Second,
			MaterializeTimeout: 15 * time.Second,
			GracePeriod:        5 * time.Second,
			DrainTimeout:       10 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			ReapSchedule:    "@every 5m",
			StatsSchedule:   "@every 1m",
			RefreshSchedule: "@every 10m",
			RecordMaxAge:    24 * time.Hour,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("VOXSPAWN_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps VOXSPAWN_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXSPAWN_POOL_ID"); v != "" {
		cfg.Pool.ID = v
	}
	if v := os.Getenv("VOXSPAWN_POOL_PATTERN"); v != "" {
		cfg.Pool.Pattern = v
	}
	if v := os.Getenv("VOXSPAWN_POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pool.Capacity = n
		}
	}
	if v := os.Getenv("VOXSPAWN_POOL_DEFAULT_AGENT_ID"); v != "" {
		cfg.Pool.DefaultAgentID = v
	}

	if v := os.Getenv("VOXSPAWN_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("VOXSPAWN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("VOXSPAWN_STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("VOXSPAWN_STORE_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("VOXSPAWN_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Store.Timeout = d
		}
	}
	if v := os.Getenv("VOXSPAWN_STORE_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Store.Retry.Attempts = n
		}
	}
	if v := os.Getenv("VOXSPAWN_STORE_BREAKER_ENABLED"); v == "false" {
		cfg.Store.Breaker.Enabled = false
	}

	if v := os.Getenv("VOXSPAWN_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("VOXSPAWN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("VOXSPAWN_CACHE_NEGATIVE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Cache.NegativeTTL = d
		}
	}
	if v := os.Getenv("VOXSPAWN_CACHE_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}

	if v := os.Getenv("VOXSPAWN_PLATFORM_URL"); v != "" {
		cfg.Platform.URL = v
	}
	if v := os.Getenv("VOXSPAWN_PLATFORM_API_KEY"); v != "" {
		cfg.Platform.APIKey = v
	}
	if v := os.Getenv("VOXSPAWN_PLATFORM_CLAIM_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Platform.ClaimRate = f
		}
	}
	if v := os.Getenv("VOXSPAWN_PLATFORM_CLAIM_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Platform.ClaimBurst = n
		}
	}

	if v := os.Getenv("VOXSPAWN_LIFECYCLE_LOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lifecycle.LoadTimeout = d
		}
	}
	if v := os.Getenv("VOXSPAWN_LIFECYCLE_MATERIALIZE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lifecycle.MaterializeTimeout = d
		}
	}
	if v := os.Getenv("VOXSPAWN_LIFECYCLE_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lifecycle.GracePeriod = d
		}
	}
	if v := os.Getenv("VOXSPAWN_LIFECYCLE_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lifecycle.DrainTimeout = d
		}
	}

	if v := os.Getenv("VOXSPAWN_MAINTENANCE_ENABLED"); v == "false" {
		cfg.Maintenance.Enabled = false
	}
	if v := os.Getenv("VOXSPAWN_MAINTENANCE_REAP_SCHEDULE"); v != "" {
		cfg.Maintenance.ReapSchedule = v
	}
	if v := os.Getenv("VOXSPAWN_MAINTENANCE_STATS_SCHEDULE"); v != "" {
		cfg.Maintenance.StatsSchedule = v
	}
	if v := os.Getenv("VOXSPAWN_MAINTENANCE_REFRESH_SCHEDULE"); v != "" {
		cfg.Maintenance.RefreshSchedule = v
	}

	if v := os.Getenv("VOXSPAWN_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("VOXSPAWN_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("VOXSPAWN_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("VOXSPAWN_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name string
		fp   *string
	}{
		{"store.api_key", &cfg.Store.APIKey},
		{"platform.api_key", &cfg.Platform.APIKey},
		{"cache.redis_url", &cfg.Cache.RedisURL},
	}
	for _, s := range secrets {
		if strings.HasPrefix(*s.fp, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(*s.fp, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			*s.fp = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext secret with AES-256-GCM for storage
// in the config file as "enc:<value>".
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
