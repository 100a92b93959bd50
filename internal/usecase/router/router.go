package router

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"voxspawn/internal/domain"
)

// Router decides which sessions a worker pool claims and which agent
// each claimed session should run. Claims are exclusive: a session name
// is held by at most one claim until Release.
type Router struct {
	poolID         string
	pattern        glob.Glob
	patternText    string
	defaultAgentID string
	logger         *slog.Logger

	mu     sync.Mutex
	claims map[string]*domain.SessionClaim
}

// New compiles the session name pattern and returns a router for the
// pool. The pattern must already have passed config validation.
func New(poolID, pattern, defaultAgentID string, logger *slog.Logger) (*Router, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, domain.NewDomainError("Router.New", domain.ErrInvalidInput,
			fmt.Sprintf("pattern %q: %v", pattern, err))
	}
	return &Router{
		poolID:         poolID,
		pattern:        g,
		patternText:    pattern,
		defaultAgentID: defaultAgentID,
		logger:         logger,
		claims:         make(map[string]*domain.SessionClaim),
	}, nil
}

// TryClaim attempts to take ownership of the session. Non-matching
// names return ErrNotMatched; names already claimed and not yet
// released return ErrSessionClaimed. A successful claim is recorded
// before the routing key is resolved, so a later resolution failure
// still needs Release.
func (r *Router) TryClaim(desc domain.SessionDescriptor) (*domain.SessionClaim, error) {
	if !r.pattern.Match(desc.Name) {
		return nil, domain.NewDomainError("Router.TryClaim", domain.ErrNotMatched,
			fmt.Sprintf("session %q does not match %q", desc.Name, r.patternText))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.claims[desc.Name]; ok {
		return nil, domain.NewDomainError("Router.TryClaim", domain.ErrSessionClaimed,
			fmt.Sprintf("session %q already claimed at %s", desc.Name,
				existing.ClaimedAt.Format(time.RFC3339)))
	}

	now := time.Now()
	claim := &domain.SessionClaim{
		ID:          newClaimID(now),
		SessionName: desc.Name,
		ClaimedBy:   r.poolID,
		ClaimedAt:   now,
	}
	r.claims[desc.Name] = claim

	r.logger.Debug("session claimed",
		"session", desc.Name,
		"claim_id", claim.ID.String(),
		"pool", r.poolID,
	)
	return claim, nil
}

// ResolveRoutingKey determines the agent that should serve the session.
// Explicit metadata wins, then an agent UUID embedded in the session
// name, then the pool's default agent.
func (r *Router) ResolveRoutingKey(desc domain.SessionDescriptor) (string, error) {
	if id, ok := desc.Metadata[domain.MetadataAgentKey]; ok && id != "" {
		return id, nil
	}
	if id, ok := agentIDFromName(desc.Name); ok {
		return id, nil
	}
	if r.defaultAgentID != "" {
		return r.defaultAgentID, nil
	}
	return "", domain.NewDomainError("Router.ResolveRoutingKey", domain.ErrRoutingKeyMissing,
		fmt.Sprintf("session %q carries no agent identity", desc.Name))
}

// BindRoutingKey records the resolved agent on a held claim. Unclaimed
// names are ignored.
func (r *Router) BindRoutingKey(sessionName, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if claim, ok := r.claims[sessionName]; ok {
		claim.RoutingKey = agentID
	}
}

// Release drops the claim on a session so the name can be claimed
// again. Releasing an unclaimed name is a no-op.
func (r *Router) Release(sessionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, sessionName)
}

// Claims returns a snapshot of the currently held claims.
func (r *Router) Claims() []domain.SessionClaim {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionClaim, 0, len(r.claims))
	for _, c := range r.claims {
		out = append(out, *c)
	}
	return out
}

// agentIDFromName recovers an agent UUID embedded in a session name of
// the form "<prefix>-<uuid>-<suffix>". The UUID's own hyphens mean it
// spans five hyphen-separated segments.
func agentIDFromName(name string) (string, bool) {
	parts := strings.Split(name, "-")
	if len(parts) < 6 {
		return "", false
	}
	candidate := strings.Join(parts[1:6], "-")
	if _, err := uuid.Parse(candidate); err != nil {
		return "", false
	}
	return candidate, true
}

func newClaimID(t time.Time) ulid.ULID {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
