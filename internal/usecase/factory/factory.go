package factory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"voxspawn/internal/domain"
	"voxspawn/internal/usecase/capability"
)

// Factory turns stored agent descriptors into runnable instances. It is
// the only place where descriptor data is validated for runtime use;
// everything downstream can assume an Instance is well-formed.
type Factory struct {
	caps   *capability.Registry
	logger *slog.Logger
}

// New creates an agent factory backed by the given capability registry.
func New(caps *capability.Registry, logger *slog.Logger) *Factory {
	return &Factory{caps: caps, logger: logger}
}

// Materialize builds a live agent instance from a descriptor. Unknown
// voices are rejected for active descriptors and coerced for drafts;
// unresolvable capabilities always reject the descriptor.
func (f *Factory) Materialize(ctx context.Context, desc *domain.AgentDescriptor) (*Instance, error) {
	if desc == nil {
		return nil, domain.NewDomainError("Factory.Materialize", domain.ErrBadDescriptor, "nil descriptor")
	}
	if !desc.Status.Spawnable() {
		return nil, domain.NewDomainError("Factory.Materialize", domain.ErrBadDescriptor,
			fmt.Sprintf("agent %s status %q is not spawnable", desc.ID, desc.Status))
	}
	if strings.TrimSpace(desc.PersonaInstructions) == "" {
		return nil, domain.NewDomainError("Factory.Materialize", domain.ErrBadDescriptor,
			fmt.Sprintf("agent %s has no persona instructions", desc.ID))
	}

	voice := desc.VoiceProfile
	if !voice.Valid() {
		if desc.Status == domain.StatusActive {
			return nil, domain.NewDomainError("Factory.Materialize", domain.ErrBadDescriptor,
				fmt.Sprintf("agent %s has unknown voice %q", desc.ID, voice))
		}
		// Drafts are still being authored; substitute rather than block.
		f.logger.Warn("draft agent has unknown voice, substituting",
			"agent_id", desc.ID,
			"voice", string(voice),
		)
		voice = domain.NormalizeVoice(voice)
	}

	bound := make([]*capability.Bound, 0, len(desc.Capabilities))
	for _, c := range desc.Capabilities {
		b, err := f.caps.Bind(c)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", desc.ID, err)
		}
		bound = append(bound, b)
	}

	inst := &Instance{
		agentID:      desc.ID,
		displayName:  desc.DisplayName,
		voice:        voice,
		instructions: desc.PersonaInstructions,
		greeting:     buildGreeting(desc),
		caps:         bound,
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f.logger.Info("agent materialized",
		"agent_id", desc.ID,
		"display_name", desc.DisplayName,
		"voice", string(voice),
		"capabilities", len(bound),
	)
	return inst, nil
}

// buildGreeting picks the agent's opening line. A custom template wins;
// otherwise a persona name introduction; otherwise a generic line built
// from the display name.
func buildGreeting(desc *domain.AgentDescriptor) string {
	if tmpl := strings.TrimSpace(desc.GreetingTemplate); tmpl != "" {
		return expandGreeting(tmpl, desc)
	}
	if desc.PersonaName != "" {
		return fmt.Sprintf("Hi! I'm %s. How can I help you today?", desc.PersonaName)
	}
	return fmt.Sprintf("Hello, you've reached %s. How can I help?", desc.DisplayName)
}

// expandGreeting substitutes {display_name} and {persona_name}
// placeholders in a greeting template.
func expandGreeting(tmpl string, desc *domain.AgentDescriptor) string {
	out := strings.ReplaceAll(tmpl, "{display_name}", desc.DisplayName)
	out = strings.ReplaceAll(out, "{persona_name}", desc.PersonaName)
	return out
}
