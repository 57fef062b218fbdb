package postmortem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/afu9/control-center/pkg/canonicalize"
)

// PostgresSource implements Source over the incident tables and the
// operational store's verification_reports, joined by issue_id —
// postmortem generation never writes to either, it only reads.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an already-migrated *sql.DB.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) GetIncident(ctx context.Context, incidentID string) (*Incident, error) {
	var inc Incident
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, service, started_at, resolved_at
		FROM incidents WHERE id = $1`, incidentID).
		Scan(&inc.ID, &inc.Title, &inc.Service, &inc.StartedAt, &inc.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postmortem: incident not found: %s", incidentID)
	}
	if err != nil {
		return nil, fmt.Errorf("postmortem: get incident: %w", err)
	}
	return &inc, nil
}

func (s *PostgresSource) GetEvidence(ctx context.Context, incidentID string) ([]EvidenceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, description, source_hash FROM incident_evidence
		WHERE incident_id = $1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("postmortem: get evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []EvidenceItem
	for rows.Next() {
		var it EvidenceItem
		if err := rows.Scan(&it.Kind, &it.Description, &it.SourceHash); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresSource) GetEvents(ctx context.Context, incidentID string) ([]IncidentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, message, created_at FROM incident_events
		WHERE incident_id = $1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("postmortem: get events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []IncidentEvent
	for rows.Next() {
		var ev IncidentEvent
		if err := rows.Scan(&ev.Kind, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresSource) GetRemediationRuns(ctx context.Context, incidentID string) ([]RemediationRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook, outcome, auto_fixed, started_at, ended_at FROM remediation_runs
		WHERE incident_id = $1 ORDER BY started_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("postmortem: get remediation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RemediationRun
	for rows.Next() {
		var r RemediationRun
		if err := rows.Scan(&r.ID, &r.Playbook, &r.Outcome, &r.AutoFixed, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetVerificationResult resolves the latest verification_reports row
// for the issue the incident links to. No report yet is not an error,
// it is reported as ("", "", nil) per the Source contract.
func (s *PostgresSource) GetVerificationResult(ctx context.Context, incidentID string) (result, reportHash string, err error) {
	var issueID string
	err = s.db.QueryRowContext(ctx, `SELECT issue_id FROM incidents WHERE id = $1`, incidentID).Scan(&issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("postmortem: incident not found: %s", incidentID)
	}
	if err != nil {
		return "", "", fmt.Errorf("postmortem: resolve incident issue: %w", err)
	}

	var payload []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT result, payload FROM verification_reports
		WHERE issue_id = $1 ORDER BY created_at DESC LIMIT 1`, issueID).Scan(&result, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("postmortem: get verification result: %w", err)
	}
	return result, canonicalize.HashBytes(payload), nil
}
