package opstore

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

func (s *PostgresStore) CreateRun(ctx context.Context, run Run) (*Run, error) {
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return nil, err
	}
	artifacts, err := json.Marshal(run.Artifacts)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, issue_id, forge_repo, pr_number, title, url, steps, artifacts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, run.IssueID, run.ForgeRepo, run.PRNumber, run.Title, run.URL, steps, artifacts, now)
	if err != nil {
		return nil, fmt.Errorf("opstore: create run: %w", err)
	}
	return s.GetRun(ctx, id)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var steps, artifacts []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, forge_repo, pr_number, title, url, steps, artifacts, created_at
		FROM runs WHERE id = $1`, id).
		Scan(&run.ID, &run.IssueID, &run.ForgeRepo, &run.PRNumber, &run.Title, &run.URL, &steps, &artifacts, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeRunNotFound, "run not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("opstore: get run: %w", err)
	}
	_ = json.Unmarshal(steps, &run.Steps)
	_ = json.Unmarshal(artifacts, &run.Artifacts)
	return &run, nil
}

func (s *PostgresStore) CreateDeployEvent(ctx context.Context, ev DeployEvent) (*DeployEvent, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deploy_events (id, run_id, env, service, version, commit_hash, status, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, nullable(ev.RunID), ev.Env, ev.Service, ev.Version, ev.CommitHash, ev.Status, ev.Message, now)
	if err != nil {
		return nil, fmt.Errorf("opstore: create deploy event: %w", err)
	}
	return s.GetDeploy(ctx, id)
}

func (s *PostgresStore) GetDeploy(ctx context.Context, id string) (*DeployEvent, error) {
	var ev DeployEvent
	var runID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, coalesce(run_id,''), env, service, version, commit_hash, status, message, created_at
		FROM deploy_events WHERE id = $1`, id).
		Scan(&ev.ID, &runID, &ev.Env, &ev.Service, &ev.Version, &ev.CommitHash, &ev.Status, &ev.Message, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeDeployNotFound, "deploy not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("opstore: get deploy: %w", err)
	}
	ev.RunID = runID.String
	return &ev, nil
}

func (s *PostgresStore) LatestDeploysForEnv(ctx context.Context, env string, limit int) ([]*DeployEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, coalesce(run_id,''), env, service, version, commit_hash, status, message, created_at
		FROM deploy_events WHERE env = $1 ORDER BY created_at DESC LIMIT $2`, env, limit)
	if err != nil {
		return nil, fmt.Errorf("opstore: latest deploys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DeployEvent
	for rows.Next() {
		var ev DeployEvent
		var runID sql.NullString
		if err := rows.Scan(&ev.ID, &runID, &ev.Env, &ev.Service, &ev.Version, &ev.CommitHash, &ev.Status, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.RunID = runID.String
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CachedSnapshot(ctx context.Context, env string, ttl time.Duration) (*DeployStatusSnapshot, bool, error) {
	var snap DeployStatusSnapshot
	var reasons, signals []byte
	var observedAt time.Time
	var correlationID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT env, status, reasons, signals, observed_at, correlation_id
		FROM deploy_status_snapshots WHERE env = $1 ORDER BY observed_at DESC LIMIT 1`, env).
		Scan(&snap.Env, &snap.Status, &reasons, &signals, &observedAt, &correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("opstore: cached snapshot: %w", err)
	}
	if time.Since(observedAt) > ttl {
		return nil, false, nil
	}
	snap.ObservedAt = observedAt
	snap.CorrelationID = correlationID.String
	_ = json.Unmarshal(reasons, &snap.Reasons)
	_ = json.Unmarshal(signals, &snap.Signals)
	return &snap, true, nil
}

func (s *PostgresStore) StoreSnapshot(ctx context.Context, snap DeployStatusSnapshot) error {
	reasons, err := json.Marshal(snap.Reasons)
	if err != nil {
		return err
	}
	signals, err := json.Marshal(snap.Signals)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deploy_status_snapshots (env, status, reasons, signals, observed_at, correlation_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		snap.Env, string(snap.Status), reasons, signals, snap.ObservedAt, nullable(snap.CorrelationID))
	if err != nil {
		return fmt.Errorf("opstore: store snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateVerdict(ctx context.Context, v Verdict) (*Verdict, error) {
	id := v.ID
	if id == "" {
		id = uuid.NewString()
	}
	tokens, err := json.Marshal(v.Tokens)
	if err != nil {
		return nil, err
	}
	signals, err := json.Marshal(v.Signals)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts (id, deploy_id, execution_id, policy_snapshot_id, fingerprint_id,
			error_class, service, confidence_score, proposed_action, tokens, signals, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, nullable(v.DeployID), v.ExecutionID, v.PolicySnapshotID, v.FingerprintID,
		v.ErrorClass, v.Service, v.ConfidenceScore, v.ProposedAction, tokens, signals, now)
	if err != nil {
		return nil, fmt.Errorf("opstore: create verdict: %w", err)
	}
	return s.GetVerdict(ctx, id)
}

func (s *PostgresStore) GetVerdict(ctx context.Context, id string) (*Verdict, error) {
	var v Verdict
	var deployID sql.NullString
	var tokens, signals []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, coalesce(deploy_id,''), execution_id, policy_snapshot_id, fingerprint_id,
			error_class, service, confidence_score, proposed_action, tokens, signals, created_at
		FROM verdicts WHERE id = $1`, id).
		Scan(&v.ID, &deployID, &v.ExecutionID, &v.PolicySnapshotID, &v.FingerprintID,
			&v.ErrorClass, &v.Service, &v.ConfidenceScore, &v.ProposedAction, &tokens, &signals, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeVerdictNotFound, "verdict not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("opstore: get verdict: %w", err)
	}
	v.DeployID = deployID.String
	_ = json.Unmarshal(tokens, &v.Tokens)
	_ = json.Unmarshal(signals, &v.Signals)
	return &v, nil
}

func (s *PostgresStore) GetPolicySnapshot(ctx context.Context, id string) (*PolicySnapshot, error) {
	var snap PolicySnapshot
	err := s.db.QueryRowContext(ctx, `SELECT id, version FROM policy_snapshots WHERE id = $1`, id).
		Scan(&snap.ID, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opstore: get policy snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) CreateVerificationReport(ctx context.Context, r VerificationReport) (*VerificationReport, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_reports (id, issue_id, result, title, url, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, r.IssueID, r.Result, r.Title, r.URL, payload, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("opstore: create verification report: %w", err)
	}
	return s.GetVerificationReport(ctx, id)
}

func (s *PostgresStore) GetVerificationReport(ctx context.Context, id string) (*VerificationReport, error) {
	var r VerificationReport
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, result, title, url, payload FROM verification_reports WHERE id = $1`, id).
		Scan(&r.ID, &r.IssueID, &r.Result, &r.Title, &r.URL, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeVerificationNotFound, "verification report not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("opstore: get verification report: %w", err)
	}
	_ = json.Unmarshal(payload, &r.Payload)
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
