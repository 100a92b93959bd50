package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voxspawn/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agents.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAgent(t *testing.T, s *SQLiteStore, id string, status domain.DescriptorStatus) {
	t.Helper()
	err := s.Put(context.Background(), &domain.AgentDescriptor{
		ID:                  id,
		DisplayName:         "Support Agent",
		PersonaName:         "Charlie",
		PersonaInstructions: "You are a friendly support agent.",
		VoiceProfile:        domain.VoiceNova,
		Capabilities: []domain.Capability{
			{Name: "lookup_order", Description: "Look up an order by number"},
		},
		Status: status,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestSQLiteFetchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "agent-1", domain.StatusActive)

	d, err := s.Fetch(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.PersonaName != "Charlie" {
		t.Errorf("PersonaName = %q", d.PersonaName)
	}
	if d.VoiceProfile != domain.VoiceNova {
		t.Errorf("VoiceProfile = %q", d.VoiceProfile)
	}
	if len(d.Capabilities) != 1 || d.Capabilities[0].Name != "lookup_order" {
		t.Errorf("Capabilities = %+v", d.Capabilities)
	}
	if d.CreatedAt.IsZero() || d.UpdatedAt.IsZero() {
		t.Error("timestamps not persisted")
	}
}

func TestSQLiteFetchUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Fetch(context.Background(), "agent-missing")
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestSQLiteFetchArchivedHidden(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "agent-old", domain.StatusArchived)

	_, err := s.Fetch(context.Background(), "agent-old")
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("archived agent should be invisible, got %v", err)
	}
}

func TestSQLiteFetchDraftVisible(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "agent-wip", domain.StatusDraft)

	d, err := s.Fetch(context.Background(), "agent-wip")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Status != domain.StatusDraft {
		t.Errorf("Status = %q", d.Status)
	}
}

func TestSQLiteListActive(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "agent-a", domain.StatusActive)
	seedAgent(t, s, "agent-b", domain.StatusActive)
	seedAgent(t, s, "agent-c", domain.StatusDraft)
	seedAgent(t, s, "agent-d", domain.StatusArchived)

	sums, err := s.ListActive(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("len = %d, want 2 (draft and archived excluded)", len(sums))
	}
	for _, sum := range sums {
		if sum.Status != domain.StatusActive {
			t.Errorf("listed non-active agent %s (%s)", sum.ID, sum.Status)
		}
	}
}
