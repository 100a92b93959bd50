package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DescriptorStatus is the authoring state of an agent descriptor.
type DescriptorStatus string

const (
	StatusActive   DescriptorStatus = "active"
	StatusDraft    DescriptorStatus = "draft"
	StatusArchived DescriptorStatus = "archived"
)

// Spawnable reports whether a descriptor in this status may be
// materialized. Archived descriptors behave as if they did not exist.
func (s DescriptorStatus) Spawnable() bool {
	return s == StatusActive || s == StatusDraft
}

// VoiceProfile selects a synthesis voice for an agent.
type VoiceProfile string

const (
	VoiceAlloy   VoiceProfile = "alloy"
	VoiceEcho    VoiceProfile = "echo"
	VoiceFable   VoiceProfile = "fable"
	VoiceOnyx    VoiceProfile = "onyx"
	VoiceNova    VoiceProfile = "nova"
	VoiceShimmer VoiceProfile = "shimmer"
)

var validVoices = map[VoiceProfile]bool{
	VoiceAlloy:   true,
	VoiceEcho:    true,
	VoiceFable:   true,
	VoiceOnyx:    true,
	VoiceNova:    true,
	VoiceShimmer: true,
}

// Valid reports whether v names a known synthesis voice.
func (v VoiceProfile) Valid() bool { return validVoices[v] }

// NormalizeVoice coerces an unknown voice to alloy. Only used for draft
// descriptors when the factory runs in lenient mode; active descriptors
// with an unknown voice are rejected instead.
func NormalizeVoice(v VoiceProfile) VoiceProfile {
	if v.Valid() {
		return v
	}
	return VoiceAlloy
}

// Capability is one named callable function an agent may invoke during a
// conversation. Parameters is a JSON Schema describing the arguments;
// execution is resolved against a registry by name, never loaded from
// the store as code.
type Capability struct {
	Name        string          `json:"name"          yaml:"name"`
	Description string          `json:"description"   yaml:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// AgentDescriptor is the persisted configuration describing one agent's
// persona, voice, and capabilities. Immutable from this subsystem's
// perspective: created and updated out-of-band by the authoring flow,
// read-only here, never deleted here.
type AgentDescriptor struct {
	ID                  string           `json:"id"`
	DisplayName         string           `json:"display_name"`
	PersonaName         string           `json:"persona_name,omitempty"` // character name, e.g. "Charlie"
	PersonaInstructions string           `json:"persona_instructions"`
	VoiceProfile        VoiceProfile     `json:"voice_profile"`
	Capabilities        []Capability     `json:"capabilities,omitempty"`
	GreetingTemplate    string           `json:"greeting_template,omitempty"`
	Status              DescriptorStatus `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// AgentSummary is the listing projection of a descriptor.
type AgentSummary struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"display_name"`
	VoiceProfile VoiceProfile     `json:"voice_profile"`
	Status       DescriptorStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AgentStore is the read path to the persisted agent configuration.
// Fetch returns ErrAgentNotFound for unknown or archived IDs and
// ErrStoreUnavailable (wrapped) for transient infrastructure failures.
// Implementations hold no session-affine state and are safe for
// concurrent reuse.
type AgentStore interface {
	Fetch(ctx context.Context, agentID string) (*AgentDescriptor, error)
	ListActive(ctx context.Context, limit int) ([]AgentSummary, error)
}

// DescriptorCache sits in front of an AgentStore and serves repeated
// lookups without I/O until the entry's TTL lapses.
type DescriptorCache interface {
	Get(ctx context.Context, agentID string) (*AgentDescriptor, error)
}
