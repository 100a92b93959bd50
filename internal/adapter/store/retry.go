package store

import (
	"context"
	"log/slog"
	"time"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
)

// RetryingStore wraps an AgentStore with bounded retry on transient
// failures. Not-found and descriptor errors pass through untouched:
// retrying bad data only delays the inevitable.
type RetryingStore struct {
	inner  domain.AgentStore
	cfg    config.RetryConfig
	logger *slog.Logger
}

// NewRetryingStore wraps inner with retry behavior from cfg.
func NewRetryingStore(inner domain.AgentStore, cfg config.RetryConfig, logger *slog.Logger) *RetryingStore {
	return &RetryingStore{inner: inner, cfg: cfg, logger: logger}
}

func (r *RetryingStore) Fetch(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	var d *domain.AgentDescriptor
	err := r.withRetry(ctx, "fetch", agentID, func() error {
		var err error
		d, err = r.inner.Fetch(ctx, agentID)
		return err
	})
	return d, err
}

func (r *RetryingStore) ListActive(ctx context.Context, limit int) ([]domain.AgentSummary, error) {
	var out []domain.AgentSummary
	err := r.withRetry(ctx, "list", "", func() error {
		var err error
		out, err = r.inner.ListActive(ctx, limit)
		return err
	})
	return out, err
}

// withRetry issues the initial call plus up to cfg.Attempts retries, so a
// store that recovers within the budget is still reached.
func (r *RetryingStore) withRetry(ctx context.Context, op, agentID string, fn func() error) error {
	delay := r.cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.Attempts {
			break
		}

		r.logger.Warn("store call failed, retrying",
			"op", op,
			"agent_id", agentID,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
	return lastErr
}
