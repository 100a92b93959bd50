package pool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
	"voxspawn/internal/usecase/eventbus"
	"voxspawn/internal/usecase/lifecycle"
	"voxspawn/internal/usecase/router"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type feedItem struct {
	desc   domain.SessionDescriptor
	handle domain.SessionHandle
}

type fakeFeed struct {
	ch        chan feedItem
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan feedItem, 16), closed: make(chan struct{})}
}

func (f *fakeFeed) announce(name string, handle domain.SessionHandle) {
	f.ch <- feedItem{desc: domain.SessionDescriptor{Name: name}, handle: handle}
}

func (f *fakeFeed) Next(ctx context.Context) (domain.SessionDescriptor, domain.SessionHandle, error) {
	select {
	case <-ctx.Done():
		return domain.SessionDescriptor{}, nil, ctx.Err()
	case <-f.closed:
		return domain.SessionDescriptor{}, nil, domain.ErrPoolStopped
	case item := <-f.ch:
		return item.desc, item.handle, nil
	}
}

func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeHandle struct {
	occupancy  atomic.Int32
	leaveCalls atomic.Int32
	joined     atomic.Bool
	updates    chan domain.SessionUpdate
}

func newFakeHandle(occupancy int) *fakeHandle {
	h := &fakeHandle{updates: make(chan domain.SessionUpdate, 8)}
	h.occupancy.Store(int32(occupancy))
	return h
}

func (h *fakeHandle) Join(context.Context, string, domain.VoiceProfile) error {
	h.joined.Store(true)
	return nil
}
func (h *fakeHandle) Say(context.Context, string) error    { return nil }
func (h *fakeHandle) Occupancy() int                       { return int(h.occupancy.Load()) }
func (h *fakeHandle) Updates() <-chan domain.SessionUpdate { return h.updates }
func (h *fakeHandle) Leave(context.Context) error          { h.leaveCalls.Add(1); return nil }

type fakeCache struct{ desc *domain.AgentDescriptor }

func (c *fakeCache) Get(context.Context, string) (*domain.AgentDescriptor, error) {
	return c.desc, nil
}

type fakeAgent struct{}

func (fakeAgent) AgentID() string            { return "a1" }
func (fakeAgent) DisplayName() string        { return "Concierge" }
func (fakeAgent) Voice() domain.VoiceProfile { return domain.VoiceAlloy }
func (fakeAgent) Greeting() string           { return "" }

type poolEnv struct {
	sup    *Supervisor
	feed   *fakeFeed
	bus    *eventbus.Bus
	events *eventRecorder
	done   chan struct{}
	cancel context.CancelFunc
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) record(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(want domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == want {
			n++
		}
	}
	return n
}

func startPool(t *testing.T, capacity int, mat lifecycle.Materializer) *poolEnv {
	t.Helper()

	rt, err := router.New("pool-1", "agent-*", "a1", discard())
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	bus := eventbus.New(discard())
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.record)
	feed := newFakeFeed()

	if mat == nil {
		mat = lifecycle.MaterializerFunc(func(context.Context, *domain.AgentDescriptor) (lifecycle.Agent, error) {
			return fakeAgent{}, nil
		})
	}

	sup := New(
		config.PoolConfig{ID: "pool-1", Pattern: "agent-*", Capacity: capacity},
		config.LifecycleConfig{
			LoadTimeout:        time.Second,
			MaterializeTimeout: time.Second,
			GracePeriod:        40 * time.Millisecond,
			DrainTimeout:       200 * time.Millisecond,
		},
		rt, feed,
		&fakeCache{desc: &domain.AgentDescriptor{
			ID: "a1", DisplayName: "Concierge", PersonaName: "Ava",
			PersonaInstructions: "Help.", VoiceProfile: domain.VoiceAlloy,
			Status: domain.StatusActive,
		}},
		mat, bus,
		rate.NewLimiter(rate.Limit(1000), 1000),
		discard(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	env := &poolEnv{sup: sup, feed: feed, bus: bus, events: rec, done: done, cancel: cancel}
	t.Cleanup(func() {
		env.stop(t)
		bus.Close()
	})
	return env
}

func (e *poolEnv) stop(t *testing.T) {
	t.Helper()
	e.sup.Stop()
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPoolRunsSessionToTermination(t *testing.T) {
	env := startPool(t, 2, nil)

	handle := newFakeHandle(0)
	env.feed.announce("agent-call-1", handle)

	waitUntil(t, func() bool {
		return env.sup.Stats().Terminated == 1
	}, "session never terminated")

	if !handle.joined.Load() {
		t.Error("agent never joined the session")
	}
	stats := env.sup.Stats()
	if stats.Claimed != 1 || stats.Active != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if got := env.events.count(domain.EventSessionClaimed); got != 1 {
		t.Errorf("claimed events = %d", got)
	}

	recs := env.sup.Records()
	if len(recs) != 1 || recs[0].State != domain.StateTerminated || recs[0].SessionName != "agent-call-1" {
		t.Errorf("records = %+v", recs)
	}
	if recs[0].EndReason != "idle" {
		t.Errorf("end reason = %q, want idle", recs[0].EndReason)
	}
}

func TestPoolIgnoresNonMatchingSessions(t *testing.T) {
	env := startPool(t, 2, nil)

	handle := newFakeHandle(1)
	env.feed.announce("lobby-main", handle)

	waitUntil(t, func() bool {
		return handle.leaveCalls.Load() == 1
	}, "non-matching session handle never released")

	if stats := env.sup.Stats(); stats.Claimed != 0 {
		t.Errorf("claimed = %d, want 0", stats.Claimed)
	}
}

func TestPoolRefusesAtCapacity(t *testing.T) {
	env := startPool(t, 1, nil)

	busy := newFakeHandle(1) // stays occupied, holds the only slot
	env.feed.announce("agent-busy", busy)
	waitUntil(t, func() bool {
		return env.sup.ActiveCount() == 1 && busy.joined.Load()
	}, "first session never became active")

	overflow := newFakeHandle(1)
	env.feed.announce("agent-overflow", overflow)

	waitUntil(t, func() bool {
		return env.sup.Stats().Refused == 1
	}, "overflow session never refused")
	waitUntil(t, func() bool {
		return overflow.leaveCalls.Load() == 1
	}, "refused session handle never released")
	waitUntil(t, func() bool {
		return env.events.count(domain.EventSessionRefused) == 1
	}, "refused event never published")

	if overflow.joined.Load() {
		t.Error("refused session was joined")
	}

	// The busy session ends; the slot frees up for new work.
	busy.updates <- domain.SessionUpdate{Ended: true}
	waitUntil(t, func() bool {
		return env.sup.ActiveCount() == 0
	}, "slot never released")

	retry := newFakeHandle(0)
	env.feed.announce("agent-retry", retry)
	waitUntil(t, func() bool {
		return env.sup.Stats().Terminated == 2
	}, "session after free slot never ran")
}

func TestPoolRejectsDuplicateClaims(t *testing.T) {
	env := startPool(t, 4, nil)

	first := newFakeHandle(1)
	env.feed.announce("agent-dup", first)
	waitUntil(t, func() bool { return first.joined.Load() }, "first session never active")

	second := newFakeHandle(1)
	env.feed.announce("agent-dup", second)
	waitUntil(t, func() bool {
		return second.leaveCalls.Load() == 1
	}, "duplicate announcement handle never released")

	if second.joined.Load() {
		t.Error("duplicate claim was joined")
	}
	first.updates <- domain.SessionUpdate{Ended: true}
}

func TestPoolIsolatesPanics(t *testing.T) {
	calls := atomic.Int32{}
	mat := lifecycle.MaterializerFunc(func(context.Context, *domain.AgentDescriptor) (lifecycle.Agent, error) {
		if calls.Add(1) == 1 {
			panic("materializer exploded")
		}
		return fakeAgent{}, nil
	})
	env := startPool(t, 2, mat)

	env.feed.announce("agent-boom", newFakeHandle(0))
	waitUntil(t, func() bool {
		return env.sup.Stats().Failed == 1
	}, "panicked session not recorded as failed")

	// The pool keeps serving after the panic.
	env.feed.announce("agent-fine", newFakeHandle(0))
	waitUntil(t, func() bool {
		return env.sup.Stats().Terminated == 1
	}, "pool stopped serving after a panic")

	if env.events.count(domain.EventSessionFailed) == 0 {
		t.Error("no failure event for panicked session")
	}
}

func TestPoolStopDrainsActiveSessions(t *testing.T) {
	env := startPool(t, 2, nil)

	h1 := newFakeHandle(1)
	h2 := newFakeHandle(1)
	env.feed.announce("agent-one", h1)
	env.feed.announce("agent-two", h2)
	waitUntil(t, func() bool {
		return h1.joined.Load() && h2.joined.Load()
	}, "sessions never active")

	env.stop(t)

	stats := env.sup.Stats()
	if stats.Active != 0 {
		t.Errorf("active after stop = %d", stats.Active)
	}
	if stats.Terminated != 2 {
		t.Errorf("terminated = %d, want 2", stats.Terminated)
	}
}

func TestPoolReapTerminal(t *testing.T) {
	env := startPool(t, 2, nil)

	env.feed.announce("agent-old", newFakeHandle(0))
	waitUntil(t, func() bool {
		return len(env.sup.Records()) == 1
	}, "no record retained")

	if reaped := env.sup.ReapTerminal(time.Hour); reaped != 0 {
		t.Errorf("fresh record reaped: %d", reaped)
	}
	time.Sleep(10 * time.Millisecond)
	if reaped := env.sup.ReapTerminal(time.Nanosecond); reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
	if len(env.sup.Records()) != 0 {
		t.Error("records remain after reap")
	}
}

func TestPoolFeedErrorStopsRun(t *testing.T) {
	env := startPool(t, 2, nil)

	env.feed.Close()
	select {
	case <-env.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after feed closed")
	}

	if stats := env.sup.Stats(); stats.Claimed != 0 {
		t.Errorf("claimed = %d after immediate stop", stats.Claimed)
	}
}
