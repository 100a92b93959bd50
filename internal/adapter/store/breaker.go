package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerStore wraps an AgentStore with circuit breaker protection. When
// the store fails repeatedly, the circuit opens and subsequent lookups
// fail fast without reaching it, preventing retry storms against a
// struggling backend.
type BreakerStore struct {
	inner   domain.AgentStore
	breaker *gobreaker.CircuitBreaker[*domain.AgentDescriptor]
	logger  *slog.Logger

	mu       sync.Mutex
	listener func(from, to gobreaker.State)
}

// NewBreakerStore wraps inner with a circuit breaker.
// If cfg is zero-valued, sensible defaults are used.
func NewBreakerStore(inner domain.AgentStore, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	bs := &BreakerStore{inner: inner, logger: logger}

	cb := gobreaker.NewCircuitBreaker[*domain.AgentDescriptor](gobreaker.Settings{
		Name:        "agent-store",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			bs.mu.Lock()
			fn := bs.listener
			bs.mu.Unlock()
			if fn != nil {
				fn(from, to)
			}
		},
		// Not-found is a well-formed answer from a healthy store and
		// must never count against it.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrAgentNotFound)
		},
	})

	bs.breaker = cb
	return bs
}

// OnStateChange registers a callback invoked after every breaker state
// transition, in addition to the built-in logging.
func (s *BreakerStore) OnStateChange(fn func(from, to gobreaker.State)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// Fetch implements domain.AgentStore. Calls are routed through the breaker.
func (s *BreakerStore) Fetch(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	d, err := s.breaker.Execute(func() (*domain.AgentDescriptor, error) {
		return s.inner.Fetch(ctx, agentID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return d, nil
}

// ListActive implements domain.AgentStore. List failures share the same
// breaker as fetches; both hit the same backend.
func (s *BreakerStore) ListActive(ctx context.Context, limit int) ([]domain.AgentSummary, error) {
	var out []domain.AgentSummary
	_, err := s.breaker.Execute(func() (*domain.AgentDescriptor, error) {
		var listErr error
		out, listErr = s.inner.ListActive(ctx, limit)
		return nil, listErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return out, nil
}

// State returns the current circuit breaker state for monitoring.
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (s *BreakerStore) Counts() gobreaker.Counts {
	return s.breaker.Counts()
}

// Compile-time interface checks.
var (
	_ domain.AgentStore = (*BreakerStore)(nil)
	_ domain.AgentStore = (*RetryingStore)(nil)
	_ domain.AgentStore = (*SQLiteStore)(nil)
	_ domain.AgentStore = (*HTTPStore)(nil)
)
