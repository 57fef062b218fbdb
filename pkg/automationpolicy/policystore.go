package automationpolicy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore implements Store by reading the automation_policies
// table, the configured half of the Lawbook the evaluator enforces:
// one row per actionType, holding the allowlisted envs, approval
// requirement, cooldown, and rate-limit window.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// PolicyFor resolves the configured Policy for actionType. A missing
// row is reported as (nil, false, nil) — the evaluator turns that into
// a deny, it never treats a missing policy as "any action" implicitly.
func (s *PostgresStore) PolicyFor(ctx context.Context, actionType string) (*Policy, bool, error) {
	var p Policy
	var envsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT name, action_type, allowed_envs, requires_approval,
		       cooldown_seconds, window_seconds, max_runs_per_window, idempotency_key_template
		FROM automation_policies WHERE action_type = $1`, actionType).Scan(
		&p.Name, &p.ActionType, &envsJSON, &p.RequiresApproval,
		&p.CooldownSeconds, &p.WindowSeconds, &p.MaxRunsPerWindow, &p.IdempotencyKeyTemplate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("automationpolicy: policy for %s: %w", actionType, err)
	}
	if err := json.Unmarshal(envsJSON, &p.AllowedEnvs); err != nil {
		return nil, false, fmt.Errorf("automationpolicy: decode allowed_envs: %w", err)
	}
	return &p, true, nil
}
