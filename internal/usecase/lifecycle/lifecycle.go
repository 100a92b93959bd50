package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
	"voxspawn/internal/infra/tracer"
)

// Agent is the runtime view of a materialized agent that a session
// needs: identity, presentation, and the opening line.
type Agent interface {
	AgentID() string
	DisplayName() string
	Voice() domain.VoiceProfile
	Greeting() string
}

// Materializer builds a runnable agent from a descriptor.
type Materializer interface {
	Materialize(ctx context.Context, desc *domain.AgentDescriptor) (Agent, error)
}

// MaterializerFunc adapts a function to the Materializer interface.
type MaterializerFunc func(ctx context.Context, desc *domain.AgentDescriptor) (Agent, error)

func (f MaterializerFunc) Materialize(ctx context.Context, desc *domain.AgentDescriptor) (Agent, error) {
	return f(ctx, desc)
}

// Resolver maps a session descriptor to the agent that should serve it
// and records the result on the held claim.
type Resolver interface {
	ResolveRoutingKey(desc domain.SessionDescriptor) (string, error)
	BindRoutingKey(sessionName, agentID string)
}

// Runner drives one claimed session through its lifecycle: resolve the
// agent, load its descriptor, materialize it, keep it in the session
// while participants remain, then drain and terminate. Each runner is
// driven by exactly one goroutine; State is safe to read concurrently.
type Runner struct {
	desc   domain.SessionDescriptor
	handle domain.SessionHandle

	resolver Resolver
	cache    domain.DescriptorCache
	mat      Materializer
	bus      domain.EventBus
	cfg      config.LifecycleConfig
	logger   *slog.Logger

	mu             sync.Mutex
	state          domain.SessionState
	agentID        string
	endReason      string
	firstUtterance string

	termOnce sync.Once
}

// NewRunner prepares a lifecycle runner for a freshly claimed session.
func NewRunner(
	desc domain.SessionDescriptor,
	handle domain.SessionHandle,
	resolver Resolver,
	cache domain.DescriptorCache,
	mat Materializer,
	bus domain.EventBus,
	cfg config.LifecycleConfig,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		desc:     desc,
		handle:   handle,
		resolver: resolver,
		cache:    cache,
		mat:      mat,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("session", desc.Name),
		state:    domain.StatePending,
	}
}

// State returns the session's current lifecycle state.
func (r *Runner) State() domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// EndReason returns why the session left the active state: "idle",
// "shutdown", "ended", or an error code for failed sessions. Empty
// while the session is still running.
func (r *Runner) EndReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endReason
}

// FirstUtterance returns the greeting actually spoken into the session,
// if any.
func (r *Runner) FirstUtterance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstUtterance
}

func (r *Runner) setEndReason(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endReason == "" {
		r.endReason = reason
	}
}

// Run executes the session lifecycle to completion. It returns nil when
// the session terminated normally and the failure cause otherwise. The
// session handle is always released before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "session.run")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("session.name", r.desc.Name))

	agent, err := r.prepare(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		r.fail(ctx, err)
		return err
	}
	span.SetAttributes(tracer.StringAttr("agent.id", agent.AgentID()))

	if err := r.activate(ctx, agent); err != nil {
		tracer.RecordError(span, err)
		r.fail(ctx, err)
		return err
	}
	span.SetAttributes(tracer.IntAttr("session.occupancy", r.handle.Occupancy()))

	r.serve(ctx)
	tracer.SetOK(span)
	return nil
}

// prepare walks the session from pending through materializing and
// returns the agent that will serve it.
func (r *Runner) prepare(ctx context.Context) (Agent, error) {
	if err := r.setState(domain.StateResolving); err != nil {
		return nil, err
	}
	agentID, err := r.resolver.ResolveRoutingKey(r.desc)
	if err != nil {
		return nil, err
	}
	r.resolver.BindRoutingKey(r.desc.Name, agentID)
	r.mu.Lock()
	r.agentID = agentID
	r.mu.Unlock()

	if err := r.setState(domain.StateLoading); err != nil {
		return nil, err
	}
	desc, err := r.loadDescriptor(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if err := r.setState(domain.StateMaterializing); err != nil {
		return nil, err
	}
	agent, err := r.materialize(ctx, desc)
	if err != nil {
		return nil, err
	}

	r.publish(domain.EventAgentMaterialized, agentID, nil)
	return agent, nil
}

func (r *Runner) loadDescriptor(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	ctx, span := tracer.StartSpan(ctx, "session.load")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LoadTimeout)
	defer cancel()

	desc, err := r.cache.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewSubSystemError("lifecycle", "Runner.loadDescriptor", domain.ErrTimeout,
				fmt.Sprintf("descriptor for agent %s not loaded within %s", agentID, r.cfg.LoadTimeout))
		}
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return desc, nil
}

func (r *Runner) materialize(ctx context.Context, desc *domain.AgentDescriptor) (Agent, error) {
	ctx, span := tracer.StartSpan(ctx, "session.materialize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.MaterializeTimeout)
	defer cancel()

	agent, err := r.mat.Materialize(ctx, desc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewSubSystemError("factory", "Runner.materialize", domain.ErrTimeout,
				fmt.Sprintf("agent %s not materialized within %s", desc.ID, r.cfg.MaterializeTimeout))
		}
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return agent, nil
}

// activate joins the platform session and speaks the greeting. A failed
// greeting does not fail the session; the agent is already present.
func (r *Runner) activate(ctx context.Context, agent Agent) error {
	if err := r.handle.Join(ctx, agent.DisplayName(), agent.Voice()); err != nil {
		return domain.WrapOp("Runner.activate", err)
	}
	if err := r.setState(domain.StateActive); err != nil {
		return err
	}
	r.publish(domain.EventSessionActive, agent.AgentID(), nil)
	r.logger.Info("session active", "agent_id", agent.AgentID())

	if greeting := agent.Greeting(); greeting != "" {
		if err := r.handle.Say(ctx, greeting); err != nil {
			r.logger.Warn("greeting failed", "error", err)
		} else {
			r.mu.Lock()
			r.firstUtterance = greeting
			r.mu.Unlock()
		}
	}
	return nil
}

// serve watches occupancy until the session empties out, the platform
// ends it, or the context is canceled, then drains and terminates.
func (r *Runner) serve(ctx context.Context) {
	grace := time.NewTimer(r.cfg.GracePeriod)
	if r.handle.Occupancy() > 0 {
		stopTimer(grace)
	}
	defer stopTimer(grace)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session draining", "reason", "shutdown")
			r.setEndReason("shutdown")
			r.terminate(context.WithoutCancel(ctx))
			return

		case <-grace.C:
			r.logger.Info("session draining", "reason", "idle",
				"grace_period", r.cfg.GracePeriod)
			r.setEndReason("idle")
			r.terminate(ctx)
			return

		case u, ok := <-r.handle.Updates():
			if !ok || u.Ended {
				r.logger.Info("session draining", "reason", "platform ended session")
				r.setEndReason("ended")
				r.terminate(ctx)
				return
			}
			if u.Occupancy == 0 {
				stopTimer(grace)
				grace.Reset(r.cfg.GracePeriod)
			} else {
				stopTimer(grace)
			}
		}
	}
}

// terminate drains the session and moves it to terminated. It runs at
// most once; later calls are no-ops.
func (r *Runner) terminate(ctx context.Context) {
	r.termOnce.Do(func() {
		agentID := r.currentAgentID()

		if err := r.setState(domain.StateDraining); err == nil {
			r.publish(domain.EventSessionDraining, agentID, nil)
		}

		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DrainTimeout)
		defer cancel()
		if err := r.handle.Leave(leaveCtx); err != nil {
			r.logger.Warn("leave failed during drain", "error", err)
		}

		if err := r.setState(domain.StateTerminated); err != nil {
			r.logger.Error("terminate transition refused", "error", err)
			return
		}
		r.publish(domain.EventSessionTerminated, agentID, nil)
		r.logger.Info("session terminated")
	})
}

// fail moves the session to failed and releases the handle. Sessions
// already draining or terminal are left alone.
func (r *Runner) fail(ctx context.Context, cause error) {
	if err := r.setState(domain.StateFailed); err != nil {
		return
	}
	r.setEndReason(string(domain.ErrorCodeOf(cause)))
	payload, _ := json.Marshal(map[string]string{
		"error": cause.Error(),
		"code":  string(domain.ErrorCodeOf(cause)),
	})
	r.publish(domain.EventSessionFailed, r.currentAgentID(), payload)
	r.logger.Error("session failed",
		"error", cause,
		"code", string(domain.ErrorCodeOf(cause)),
	)

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DrainTimeout)
	defer cancel()
	if err := r.handle.Leave(leaveCtx); err != nil {
		r.logger.Warn("leave failed after failure", "error", err)
	}
}

// setState validates and applies a lifecycle transition.
func (r *Runner) setState(nxt domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.CanTransitionTo(nxt) {
		return domain.NewDomainError("Runner.setState", domain.ErrInvalidInput,
			fmt.Sprintf("session %s cannot move %s -> %s", r.desc.Name, r.state, nxt))
	}
	r.logger.Debug("state transition", "from", string(r.state), "to", string(nxt))
	r.state = nxt
	return nil
}

func (r *Runner) currentAgentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentID
}

func (r *Runner) publish(t domain.EventType, agentID string, payload json.RawMessage) {
	r.bus.Publish(context.Background(), domain.Event{
		Type:        t,
		Timestamp:   time.Now(),
		SessionName: r.desc.Name,
		AgentID:     agentID,
		Payload:     payload,
	})
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
