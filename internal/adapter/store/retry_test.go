package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
)

// flakyStore fails the first failN Fetch calls with failErr, then succeeds.
type flakyStore struct {
	calls   atomic.Int32
	failN   int32
	failErr error
}

func (f *flakyStore) Fetch(_ context.Context, agentID string) (*domain.AgentDescriptor, error) {
	if f.calls.Add(1) <= f.failN {
		return nil, f.failErr
	}
	return &domain.AgentDescriptor{ID: agentID, Status: domain.StatusActive}, nil
}

func (f *flakyStore) ListActive(context.Context, int) ([]domain.AgentSummary, error) {
	return nil, nil
}

func testRetryCfg() config.RetryConfig {
	return config.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{failN: 2, failErr: domain.ErrStoreUnavailable}
	r := NewRetryingStore(inner, testRetryCfg(), discard())

	d, err := r.Fetch(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.ID != "agent-1" {
		t.Errorf("ID = %q", d.ID)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetrySucceedsOnFinalRetry(t *testing.T) {
	// Three transient failures exhaust the retries but not the initial
	// call, so the fourth call lands inside the budget.
	inner := &flakyStore{failN: 3, failErr: domain.ErrStoreUnavailable}
	r := NewRetryingStore(inner, testRetryCfg(), discard())

	d, err := r.Fetch(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Status != domain.StatusActive {
		t.Errorf("Status = %q", d.Status)
	}
	if got := inner.calls.Load(); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	inner := &flakyStore{failN: 100, failErr: domain.ErrStoreUnavailable}
	r := NewRetryingStore(inner, testRetryCfg(), discard())

	_, err := r.Fetch(context.Background(), "agent-1")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if got := inner.calls.Load(); got != 4 {
		t.Errorf("calls = %d, want exactly 4 (initial call + 3 retries)", got)
	}
}

func TestRetryDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyStore{failN: 100, failErr: domain.ErrAgentNotFound}
	r := NewRetryingStore(inner, testRetryCfg(), discard())

	_, err := r.Fetch(context.Background(), "agent-1")
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("err = %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (not-found must not retry)", got)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	inner := &flakyStore{failN: 100, failErr: domain.ErrStoreUnavailable}
	cfg := config.RetryConfig{Attempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	r := NewRetryingStore(inner, cfg, discard())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Fetch(ctx, "agent-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
