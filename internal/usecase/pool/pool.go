package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
	"voxspawn/internal/usecase/lifecycle"
	"voxspawn/internal/usecase/router"
)

// ClaimRecord is the retained outcome of a claimed session, kept after
// the session reaches a terminal state so operators can inspect recent
// history. Reaped on a schedule.
type ClaimRecord struct {
	SessionName    string
	AgentID        string
	State          domain.SessionState
	EndReason      string
	FirstUtterance string
	ClaimedAt      time.Time
	CompletedAt    time.Time
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	PoolID     string
	Capacity   int
	Active     int
	Claimed    uint64
	Refused    uint64
	Terminated uint64
	Failed     uint64
}

// Supervisor owns a worker pool: it consumes the platform's session
// feed, claims matching sessions through the router, and runs each
// claimed session on its own goroutine up to the pool's capacity.
type Supervisor struct {
	cfg     config.PoolConfig
	lc      config.LifecycleConfig
	router  *router.Router
	feed    domain.SessionFeed
	cache   domain.DescriptorCache
	mat     lifecycle.Materializer
	bus     domain.EventBus
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	active     map[string]*lifecycle.Runner
	records    []ClaimRecord
	claimed    uint64
	refused    uint64
	terminated uint64
	failed     uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New assembles a supervisor. The intake limiter bounds how fast the
// pool claims new sessions, independent of capacity.
func New(
	cfg config.PoolConfig,
	lc config.LifecycleConfig,
	rt *router.Router,
	feed domain.SessionFeed,
	cache domain.DescriptorCache,
	mat lifecycle.Materializer,
	bus domain.EventBus,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		lc:      lc,
		router:  rt,
		feed:    feed,
		cache:   cache,
		mat:     mat,
		bus:     bus,
		limiter: limiter,
		logger:  logger,
		active:  make(map[string]*lifecycle.Runner),
	}
}

// Run consumes the session feed until the context is canceled or the
// feed is closed, then waits for every running session to drain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("pool running",
		"pool", s.cfg.ID,
		"pattern", s.cfg.Pattern,
		"capacity", s.cfg.Capacity,
	)

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		desc, handle, err := s.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrPoolStopped) || errors.Is(err, context.Canceled) {
				break
			}
			s.logger.Error("session feed error", "error", err)
			break
		}
		s.admit(ctx, desc, handle)
	}

	s.logger.Info("pool draining", "active", s.ActiveCount())
	s.wg.Wait()
	s.logger.Info("pool stopped", "pool", s.cfg.ID)
	return nil
}

// admit claims the announced session if it matches and there is a free
// slot, then starts its lifecycle goroutine.
func (s *Supervisor) admit(ctx context.Context, desc domain.SessionDescriptor, handle domain.SessionHandle) {
	claim, err := s.router.TryClaim(desc)
	if err != nil {
		if errors.Is(err, domain.ErrNotMatched) {
			s.logger.Debug("session ignored", "session", desc.Name)
		} else {
			s.logger.Warn("claim refused", "session", desc.Name, "error", err)
		}
		s.releaseHandle(ctx, handle)
		return
	}

	if !s.reserveSlot(desc.Name) {
		err := domain.NewSubSystemError("pool", "Supervisor.admit", domain.ErrLimitReached,
			fmt.Sprintf("pool %s at capacity %d", s.cfg.ID, s.cfg.Capacity))
		s.logger.Warn("session refused",
			"session", desc.Name,
			"code", string(domain.ErrorCodeOf(err)),
			"capacity", s.cfg.Capacity,
		)
		payload, _ := json.Marshal(map[string]any{
			"code":     string(domain.ErrorCodeOf(err)),
			"capacity": s.cfg.Capacity,
		})
		s.publish(domain.EventSessionRefused, desc.Name, "", payload)
		s.publish(domain.EventPoolCapacityWait, desc.Name, "", nil)
		s.router.Release(desc.Name)
		s.releaseHandle(ctx, handle)
		return
	}

	s.publish(domain.EventSessionClaimed, desc.Name, "", nil)

	runner := lifecycle.NewRunner(desc, handle, s.router, s.cache, s.mat, s.bus, s.lc, s.logger)
	s.mu.Lock()
	s.active[desc.Name] = runner
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runSession(ctx, desc, claim, runner)
}

// runSession drives one session to completion and releases its slot and
// claim afterwards. A panic in one session never takes down the pool.
func (s *Supervisor) runSession(ctx context.Context, desc domain.SessionDescriptor, claim *domain.SessionClaim, runner *lifecycle.Runner) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panicked",
				"session", desc.Name,
				"panic", fmt.Sprintf("%v", r),
			)
			payload, _ := json.Marshal(map[string]string{"panic": fmt.Sprintf("%v", r)})
			s.publish(domain.EventSessionFailed, desc.Name, "", payload)
		}
		s.complete(desc.Name, claim.ClaimedAt, runner)
		s.router.Release(desc.Name)
	}()

	_ = runner.Run(ctx)
}

// reserveSlot records the session as active if capacity allows.
func (s *Supervisor) reserveSlot(sessionName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) >= s.cfg.Capacity {
		s.refused++
		return false
	}
	s.claimed++
	// Placeholder entry holds the slot until the runner is registered.
	s.active[sessionName] = nil
	return true
}

// complete moves a finished session from the active set to the record
// log.
func (s *Supervisor) complete(sessionName string, claimedAt time.Time, runner *lifecycle.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, sessionName)

	state := runner.State()
	reason := runner.EndReason()
	if !state.IsTerminal() {
		// A panicked runner can be stuck mid-lifecycle.
		state = domain.StateFailed
		reason = "panic"
	}
	switch state {
	case domain.StateTerminated:
		s.terminated++
	case domain.StateFailed:
		s.failed++
	}

	rec := ClaimRecord{
		SessionName:    sessionName,
		State:          state,
		EndReason:      reason,
		FirstUtterance: runner.FirstUtterance(),
		ClaimedAt:      claimedAt,
		CompletedAt:    time.Now(),
	}
	for _, c := range s.router.Claims() {
		if c.SessionName == sessionName {
			rec.AgentID = c.RoutingKey
		}
	}
	s.records = append(s.records, rec)
}

func (s *Supervisor) releaseHandle(ctx context.Context, handle domain.SessionHandle) {
	if err := handle.Leave(ctx); err != nil {
		s.logger.Debug("leave on refused session", "error", err)
	}
}

// ActiveCount returns the number of sessions currently holding a slot.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stats snapshots pool counters for the stats schedule.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		PoolID:     s.cfg.ID,
		Capacity:   s.cfg.Capacity,
		Active:     len(s.active),
		Claimed:    s.claimed,
		Refused:    s.refused,
		Terminated: s.terminated,
		Failed:     s.failed,
	}
}

// Records returns a copy of the retained terminal records.
func (s *Supervisor) Records() []ClaimRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClaimRecord(nil), s.records...)
}

// ReapTerminal drops terminal records older than maxAge and reports how
// many were removed. Run from the maintenance schedule.
func (s *Supervisor) ReapTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	reaped := 0
	for _, rec := range s.records {
		if rec.CompletedAt.Before(cutoff) {
			reaped++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	if reaped > 0 {
		s.logger.Info("reaped terminal session records", "count", reaped, "max_age", maxAge)
	}
	return reaped
}

func (s *Supervisor) publish(t domain.EventType, sessionName, agentID string, payload json.RawMessage) {
	s.bus.Publish(context.Background(), domain.Event{
		Type:        t,
		Timestamp:   time.Now(),
		SessionName: sessionName,
		AgentID:     agentID,
		Payload:     payload,
	})
}

// Stop closes the session feed so Run unwinds. Safe to call more than
// once; running sessions finish via context cancellation or their own
// lifecycle.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if err := s.feed.Close(); err != nil {
			s.logger.Warn("feed close", "error", err)
		}
	})
}
