package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"voxspawn/internal/domain"
)

// SQLiteStore implements domain.AgentStore against a local SQLite file.
// The agents table is written by the authoring flow; this side only reads.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open agent db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate agent db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id                   TEXT PRIMARY KEY,
			display_name         TEXT NOT NULL,
			persona_name         TEXT NOT NULL DEFAULT '',
			persona_instructions TEXT NOT NULL,
			voice_profile        TEXT NOT NULL DEFAULT 'alloy',
			capabilities         TEXT NOT NULL DEFAULT '[]',
			greeting_template    TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL DEFAULT 'draft',
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const agentColumns = "id, display_name, persona_name, persona_instructions, voice_profile, capabilities, greeting_template, status, created_at, updated_at"

// Fetch returns the descriptor for agentID. Archived descriptors are
// reported as ErrAgentNotFound so callers never distinguish "archived"
// from "never existed".
func (s *SQLiteStore) Fetch(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = ?", agentID,
	)
	d, err := scanAgent(row)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.StatusArchived {
		return nil, domain.NewDomainError("SQLiteStore.Fetch", domain.ErrAgentNotFound, "agent "+agentID+" is archived")
	}
	return d, nil
}

// ListActive returns summaries of active descriptors, newest first.
func (s *SQLiteStore) ListActive(ctx context.Context, limit int) ([]domain.AgentSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, display_name, voice_profile, status, created_at FROM agents WHERE status = ? ORDER BY created_at DESC LIMIT ?",
		string(domain.StatusActive), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentSummary
	for rows.Next() {
		var sum domain.AgentSummary
		var voice, status, createdStr string
		if err := rows.Scan(&sum.ID, &sum.DisplayName, &voice, &status, &createdStr); err != nil {
			return nil, err
		}
		sum.VoiceProfile = domain.VoiceProfile(voice)
		sum.Status = domain.DescriptorStatus(status)
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Put inserts or replaces a descriptor. Exposed for seeding and tests;
// the production write path lives in the authoring service.
func (s *SQLiteStore) Put(ctx context.Context, d *domain.AgentDescriptor) error {
	capsJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO agents ("+agentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ID, d.DisplayName, d.PersonaName, d.PersonaInstructions,
		string(d.VoiceProfile), string(capsJSON), d.GreetingTemplate, string(d.Status),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func scanAgent(row *sql.Row) (*domain.AgentDescriptor, error) {
	var d domain.AgentDescriptor
	var voice, capsStr, status, createdStr, updatedStr string
	if err := row.Scan(&d.ID, &d.DisplayName, &d.PersonaName, &d.PersonaInstructions,
		&voice, &capsStr, &d.GreetingTemplate, &status, &createdStr, &updatedStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	d.VoiceProfile = domain.VoiceProfile(voice)
	d.Status = domain.DescriptorStatus(status)
	if err := json.Unmarshal([]byte(capsStr), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &d, nil
}
