package postmortem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the database/sql-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertOutcomeRecord implements the idempotent-by-outcomeKey upsert:
// if a row for OutcomeKey already exists, it is returned unchanged with
// IsNew = false regardless of whether PostmortemHash matches, since a
// changed hash under the same key would mean the incident's inputs
// themselves changed underneath a resolved incident — an unresolvable
// conflict, so the first-written record wins.
func (s *PostgresStore) UpsertOutcomeRecord(ctx context.Context, record OutcomeRecord) (*OutcomeRecord, error) {
	existing, err := s.getByKey(ctx, record.OutcomeKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		existing.IsNew = false
		return existing, nil
	}

	artifactJSON, err := json.Marshal(record.Artifact)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO postmortem_outcomes (outcome_key, postmortem_hash, pack_hash, incident_id, artifact, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (outcome_key) DO NOTHING`,
		record.OutcomeKey, record.PostmortemHash, record.PackHash, record.IncidentID, artifactJSON, now)
	if err != nil {
		return nil, fmt.Errorf("postmortem: upsert outcome: %w", err)
	}

	stored, err := s.getByKey(ctx, record.OutcomeKey)
	if err != nil {
		return nil, err
	}
	stored.IsNew = true
	return stored, nil
}

func (s *PostgresStore) getByKey(ctx context.Context, outcomeKey string) (*OutcomeRecord, error) {
	var rec OutcomeRecord
	var artifactRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT outcome_key, postmortem_hash, pack_hash, incident_id, artifact, created_at
		FROM postmortem_outcomes WHERE outcome_key = $1`, outcomeKey).
		Scan(&rec.OutcomeKey, &rec.PostmortemHash, &rec.PackHash, &rec.IncidentID, &artifactRaw, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(artifactRaw, &rec.Artifact); err != nil {
		return nil, fmt.Errorf("postmortem: decode artifact: %w", err)
	}
	return &rec, nil
}
