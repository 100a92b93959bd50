package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionDescriptor is the platform's announcement of a session a worker
// may claim. Metadata carries opaque key/value pairs attached at session
// creation time; routing looks for the agent reference there first.
type SessionDescriptor struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MetadataAgentKey is the metadata field carrying the canonical agent
// reference for a session.
const MetadataAgentKey = "agent_id"

// SessionClaim records that this worker owns a session. At most one
// claim exists per session name across the process.
type SessionClaim struct {
	ID          ulid.ULID
	SessionName string
	RoutingKey  string // agent ID; may be empty until resolving completes
	ClaimedBy   string // pool ID
	ClaimedAt   time.Time
}

// SessionState is the lifecycle phase of a claimed session.
type SessionState string

const (
	StatePending       SessionState = "pending"
	StateResolving     SessionState = "resolving"
	StateLoading       SessionState = "loading"
	StateMaterializing SessionState = "materializing"
	StateActive        SessionState = "active"
	StateDraining      SessionState = "draining"
	StateTerminated    SessionState = "terminated"
	StateFailed        SessionState = "failed"
)

// stateOrder positions the forward path. Terminal states carry no order.
var stateOrder = map[SessionState]int{
	StatePending:       0,
	StateResolving:     1,
	StateLoading:       2,
	StateMaterializing: 3,
	StateActive:        4,
	StateDraining:      5,
}

var terminalStates = map[SessionState]bool{
	StateTerminated: true,
	StateFailed:     true,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionState) IsTerminal() bool { return terminalStates[s] }

// Valid reports whether s names a known lifecycle state.
func (s SessionState) Valid() bool {
	return terminalStates[s] || s == StatePending || stateOrder[s] > 0
}

// CanTransitionTo reports whether nxt is a legal successor of s.
// The forward path advances one phase at a time. Any non-terminal state
// except draining may fail; draining completes only into terminated.
func (s SessionState) CanTransitionTo(nxt SessionState) bool {
	if s.IsTerminal() {
		return false
	}
	if nxt == StateFailed {
		return s != StateDraining
	}
	if s == StateDraining {
		return nxt == StateTerminated
	}
	cur, ok := stateOrder[s]
	if !ok {
		return false
	}
	n, ok := stateOrder[nxt]
	if !ok {
		return false
	}
	return n == cur+1
}
