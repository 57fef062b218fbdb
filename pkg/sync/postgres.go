package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afu9/control-center/pkg/afu9err"
)

// PostgresStore is the database/sql-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateAuditEvent inserts an audit row, swallowing a duplicate
// EventHash within the bucket window, per the idempotency rule.
func (s *PostgresStore) CreateAuditEvent(ctx context.Context, ev AuditEvent) (bool, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_audit_events (id, event_type, direction, issue_id, forge_issue_number, happened_at, payload, event_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_hash) DO NOTHING`,
		id, ev.EventType, string(ev.Direction), ev.IssueID, ev.ForgeIssueNumber, ev.Timestamp, payload, ev.EventHash)
	if err != nil {
		return false, fmt.Errorf("sync: create audit event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sync: audit rows affected: %w", err)
	}
	return n > 0, nil
}

// CreateConflict persists a SyncConflict row. Conflicts are never
// auto-resolved; ResolvedAt/ResolutionNotes are set later by a human
// action, not by this call.
func (s *PostgresStore) CreateConflict(ctx context.Context, c Conflict) (*Conflict, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, issue_id, conflict_type, description, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		id, c.IssueID, string(c.ConflictType), c.Description, now)
	if err != nil {
		return nil, fmt.Errorf("sync: create conflict: %w", err)
	}
	return s.GetConflict(ctx, id)
}

// GetConflict fetches one SyncConflict by id.
func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	var c Conflict
	var resolvedAt sql.NullTime
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, conflict_type, description, resolved_at, resolution_notes, created_at
		FROM sync_conflicts WHERE id = $1`, id).
		Scan(&c.ID, &c.IssueID, &c.ConflictType, &c.Description, &resolvedAt, &notes, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeNotFound, "sync conflict not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("sync: get conflict: %w", err)
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	c.ResolutionNotes = notes.String
	return &c, nil
}

// ResolveConflict records a human's resolution of a previously
// persisted conflict. It does not retry or re-attempt the sync itself.
func (s *PostgresStore) ResolveConflict(ctx context.Context, id, notes string) (*Conflict, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_conflicts SET resolved_at = $1, resolution_notes = $2
		WHERE id = $3 AND resolved_at IS NULL`, now, notes, id)
	if err != nil {
		return nil, fmt.Errorf("sync: resolve conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, afu9err.New(afu9err.CodeConflict, "conflict already resolved or not found: "+id)
	}
	return s.GetConflict(ctx, id)
}

// ListOpenConflicts returns every unresolved conflict for issueID.
func (s *PostgresStore) ListOpenConflicts(ctx context.Context, issueID string) ([]*Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, conflict_type, description, resolved_at, resolution_notes, created_at
		FROM sync_conflicts WHERE issue_id = $1 AND resolved_at IS NULL ORDER BY created_at`, issueID)
	if err != nil {
		return nil, fmt.Errorf("sync: list open conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Conflict
	for rows.Next() {
		var c Conflict
		var resolvedAt sql.NullTime
		var notes sql.NullString
		if err := rows.Scan(&c.ID, &c.IssueID, &c.ConflictType, &c.Description, &resolvedAt, &notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			c.ResolvedAt = &resolvedAt.Time
		}
		c.ResolutionNotes = notes.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
