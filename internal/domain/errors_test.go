package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorError(t *testing.T) {
	e := NewDomainError("Cache.Get", ErrAgentNotFound, "agent abc123")
	want := "Cache.Get: agent abc123: agent not found"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	bare := NewDomainError("Store.Fetch", ErrStoreUnavailable, "")
	if got := bare.Error(); got != "Store.Fetch: config store unavailable" {
		t.Errorf("Error() without detail = %q", got)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	e := NewDomainError("Router.TryClaim", ErrSessionClaimed, "session s-1")
	if !errors.Is(e, ErrSessionClaimed) {
		t.Error("errors.Is should see through DomainError")
	}
	wrapped := WrapOp("pool.admit", e)
	if !errors.Is(wrapped, ErrSessionClaimed) {
		t.Error("errors.Is should see through WrapOp + DomainError")
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("anything", nil) != nil {
		t.Error("WrapOp(nil) must return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrStoreUnavailable, true},
		{ErrTimeout, true},
		{WrapOp("fetch", ErrStoreUnavailable), true},
		{ErrAgentNotFound, false},
		{ErrBadDescriptor, false},
		{ErrRoutingKeyMissing, false},
		{fmt.Errorf("plain"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct sentinel", ErrAgentNotFound, CodeAgentNotFound},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrStoreUnavailable), CodeStoreUnavailable},
		{"domain error", NewDomainError("op", ErrRoutingKeyMissing, ""), CodeRoutingKeyMissing},
		{"unknown", fmt.Errorf("mystery"), CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorCodeOf(tc.err); got != tc.want {
				t.Errorf("ErrorCodeOf = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestErrorCodeOfSubSystem(t *testing.T) {
	cases := []struct {
		subsystem string
		err       error
		want      ErrorCode
	}{
		{"pool", ErrLimitReached, CodePoolAtCapacity},
		{"factory", ErrTimeout, CodeMaterializeTimeout},
		{"lifecycle", ErrTimeout, CodeLoadTimeout},
		// Unknown subsystem falls back to the category code.
		{"cache", ErrLimitReached, CodeLimitReached},
	}
	for _, tc := range cases {
		e := NewSubSystemError(tc.subsystem, "op", tc.err, "")
		if got := ErrorCodeOf(e); got != tc.want {
			t.Errorf("ErrorCodeOf(%s/%v) = %s, want %s", tc.subsystem, tc.err, got, tc.want)
		}
	}
}
