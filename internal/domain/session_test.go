package domain

import "testing"

var allStates = []SessionState{
	StatePending, StateResolving, StateLoading, StateMaterializing,
	StateActive, StateDraining, StateTerminated, StateFailed,
}

func TestSessionStateForwardPath(t *testing.T) {
	path := []SessionState{
		StatePending, StateResolving, StateLoading,
		StateMaterializing, StateActive, StateDraining, StateTerminated,
	}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransitionTo(path[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestSessionStateNoSkipping(t *testing.T) {
	cases := []struct {
		from, to SessionState
	}{
		{StatePending, StateLoading},
		{StatePending, StateActive},
		{StateResolving, StateMaterializing},
		{StateLoading, StateActive},
		{StateMaterializing, StateDraining},
		{StateActive, StateTerminated},
	}
	for _, tc := range cases {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s must not be allowed", tc.from, tc.to)
		}
	}
}

func TestSessionStateNoBackwards(t *testing.T) {
	cases := []struct {
		from, to SessionState
	}{
		{StateResolving, StatePending},
		{StateActive, StateLoading},
		{StateDraining, StateActive},
	}
	for _, tc := range cases {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s must not be allowed", tc.from, tc.to)
		}
	}
}

func TestSessionStateFailureEdges(t *testing.T) {
	for _, s := range []SessionState{StatePending, StateResolving, StateLoading, StateMaterializing, StateActive} {
		if !s.CanTransitionTo(StateFailed) {
			t.Errorf("expected %s -> failed to be allowed", s)
		}
	}
	// Draining has already committed to termination.
	if StateDraining.CanTransitionTo(StateFailed) {
		t.Error("draining -> failed must not be allowed")
	}
}

func TestSessionStateTerminalsAreAbsorbing(t *testing.T) {
	for _, from := range []SessionState{StateTerminated, StateFailed} {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range allStates {
			if from.CanTransitionTo(to) {
				t.Errorf("terminal %s -> %s must not be allowed", from, to)
			}
		}
	}
}

// Every ordered pair of states gets a definite answer, including
// self-loops, which are never legal.
func TestSessionStateTotality(t *testing.T) {
	for _, from := range allStates {
		if !from.Valid() {
			t.Fatalf("%s should be valid", from)
		}
		if from.CanTransitionTo(from) {
			t.Errorf("self transition %s -> %s must not be allowed", from, from)
		}
	}
	bogus := SessionState("rebooting")
	if bogus.Valid() {
		t.Error("unknown state must not validate")
	}
	if bogus.CanTransitionTo(StateActive) || StateActive.CanTransitionTo(bogus) {
		t.Error("unknown state must not participate in transitions")
	}
}

func TestVoiceProfileValidation(t *testing.T) {
	for _, v := range []VoiceProfile{VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer} {
		if !v.Valid() {
			t.Errorf("voice %s should be valid", v)
		}
	}
	if VoiceProfile("baritone").Valid() {
		t.Error("unknown voice must not validate")
	}
	if got := NormalizeVoice("baritone"); got != VoiceAlloy {
		t.Errorf("NormalizeVoice fallback = %s, want %s", got, VoiceAlloy)
	}
	if got := NormalizeVoice(VoiceNova); got != VoiceNova {
		t.Errorf("NormalizeVoice(nova) = %s, want nova", got)
	}
}

func TestDescriptorStatusSpawnable(t *testing.T) {
	if !StatusActive.Spawnable() || !StatusDraft.Spawnable() {
		t.Error("active and draft descriptors must be spawnable")
	}
	if StatusArchived.Spawnable() {
		t.Error("archived descriptors must not be spawnable")
	}
}
