package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrCanceled     = fmt.Errorf("canceled")
)

// Sentinel errors for the domain layer.
var (
	// ErrAgentNotFound means the agent ID does not resolve in the
	// configuration store. Bad data, never retried.
	ErrAgentNotFound = fmt.Errorf("agent not found")

	// ErrStoreUnavailable is a transient configuration-store failure
	// (network, timeout, serialization). Retryable with backoff.
	ErrStoreUnavailable = fmt.Errorf("config store unavailable")

	// ErrBadDescriptor means a descriptor cannot be materialized into a
	// live agent (unknown voice, unresolvable capability, bad schema).
	ErrBadDescriptor = fmt.Errorf("descriptor cannot be materialized")

	// ErrNotMatched means a session name does not match this pool's
	// routing pattern. Not an error condition for the pool.
	ErrNotMatched = fmt.Errorf("session does not match pool pattern")

	// ErrRoutingKeyMissing means a matched session carries no usable
	// agent ID in metadata or its name.
	ErrRoutingKeyMissing = fmt.Errorf("no routing key in session metadata or name")

	// ErrSessionClaimed rejects a re-entrant claim on a session name
	// this pool already owns.
	ErrSessionClaimed = fmt.Errorf("session already claimed")

	// ErrSessionEnded means the platform reported the session gone
	// while the lifecycle was still working.
	ErrSessionEnded = fmt.Errorf("session ended")

	// ErrPoolStopped rejects claims after the supervisor began draining.
	ErrPoolStopped = fmt.Errorf("worker pool is stopping")

	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrDecryption = fmt.Errorf("decryption failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Cache.Get")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "router", "lifecycle")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem so that
// ErrorCodeOf can map the combination of sentinel + subsystem to a
// specific ErrorCode.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether err is a transient store failure that may
// succeed on retry. Agent-not-found is an expected outcome, never retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel maps to exactly one code so operators can
// tell "bad config" apart from "bad infrastructure" in dashboards.
const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeLimitReached      ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeCanceled          ErrorCode = "CANCELED"
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	CodeBadDescriptor     ErrorCode = "BAD_DESCRIPTOR"
	CodeNotMatched        ErrorCode = "NOT_MATCHED"
	CodeRoutingKeyMissing ErrorCode = "ROUTING_KEY_MISSING"
	CodeSessionClaimed    ErrorCode = "SESSION_CLAIMED"
	CodeSessionEnded      ErrorCode = "SESSION_ENDED"
	CodePoolStopped       ErrorCode = "POOL_STOPPED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodePoolAtCapacity     ErrorCode = "POOL_AT_CAPACITY"
	CodeMaterializeTimeout ErrorCode = "MATERIALIZE_TIMEOUT"
	CodeLoadTimeout        ErrorCode = "LOAD_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrDuplicate:         CodeDuplicate,
	ErrTimeout:           CodeTimeout,
	ErrLimitReached:      CodeLimitReached,
	ErrInvalidInput:      CodeInvalidInput,
	ErrCanceled:          CodeCanceled,
	ErrAgentNotFound:     CodeAgentNotFound,
	ErrStoreUnavailable:  CodeStoreUnavailable,
	ErrBadDescriptor:     CodeBadDescriptor,
	ErrNotMatched:        CodeNotMatched,
	ErrRoutingKeyMissing: CodeRoutingKeyMissing,
	ErrSessionClaimed:    CodeSessionClaimed,
	ErrSessionEnded:      CodeSessionEnded,
	ErrPoolStopped:       CodePoolStopped,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific codes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrLimitReached: {
		"pool": CodePoolAtCapacity,
	},
	ErrTimeout: {
		"factory":   CodeMaterializeTimeout,
		"lifecycle": CodeLoadTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	// Unwrap DomainError to check its inner sentinel and subsystem.
	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
