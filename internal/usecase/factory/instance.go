package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"voxspawn/internal/domain"
	"voxspawn/internal/usecase/capability"
)

// Instance is a materialized agent ready to join a session. It carries
// the validated runtime view of a descriptor; the descriptor itself is
// not retained, so later store or cache updates never mutate a running
// agent.
type Instance struct {
	agentID      string
	displayName  string
	voice        domain.VoiceProfile
	instructions string
	greeting     string
	caps         []*capability.Bound
}

func (i *Instance) AgentID() string            { return i.agentID }
func (i *Instance) DisplayName() string        { return i.displayName }
func (i *Instance) Voice() domain.VoiceProfile { return i.voice }
func (i *Instance) Instructions() string       { return i.instructions }
func (i *Instance) Greeting() string           { return i.greeting }

// CapabilityNames returns the names of the instance's bound
// capabilities in descriptor order.
func (i *Instance) CapabilityNames() []string {
	names := make([]string, len(i.caps))
	for n, c := range i.caps {
		names[n] = c.Name()
	}
	return names
}

// Invoke runs the named capability with the given JSON arguments.
func (i *Instance) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	for _, c := range i.caps {
		if c.Name() == name {
			return c.Invoke(ctx, args)
		}
	}
	return "", domain.NewDomainError("Instance.Invoke", domain.ErrNotFound,
		fmt.Sprintf("agent %s has no capability %q", i.agentID, name))
}
