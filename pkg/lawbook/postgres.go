package lawbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresSource implements Source against an append-only activations
// table: the active version for a rulebook ID is whatever row was
// activated most recently. Activating a new version never mutates or
// deletes the prior row, so the activation history itself is an
// evidence trail, consistent with the rest of the control plane's
// content-addressed, never-mutated-in-place entities.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an already-migrated *sql.DB.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// ActiveVersion returns the most recently activated version for
// rulebookID, or ("", nil) if none has ever been activated.
func (s *PostgresSource) ActiveVersion(ctx context.Context, rulebookID string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM lawbook_activations
		WHERE rulebook_id = $1 ORDER BY activated_at DESC LIMIT 1`, rulebookID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lawbook: active version: %w", err)
	}
	return version, nil
}

// Activate records rulebookID's new active version. It is the only
// write path — there is no "deactivate", since the most recent row
// always wins and the Resolver's cache is invalidated explicitly by
// the caller after this returns.
func (s *PostgresSource) Activate(ctx context.Context, rulebookID, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lawbook_activations (rulebook_id, version, activated_at)
		VALUES ($1, $2, $3)`, rulebookID, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("lawbook: activate: %w", err)
	}
	return nil
}
