package automationpolicy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/afu9/control-center/pkg/lawbook"
)

// PostgresHistory answers the Evaluator's cooldown/rate-limit
// questions against the policy_execution_records table. When it wraps
// a *sql.Tx (as EvaluateAndRecord does), the count-query and the
// audit-insert that follows run in one transaction, so the count and
// the record it justifies never diverge.
type PostgresHistory struct {
	q queryer
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewPostgresHistory wraps a *sql.DB or *sql.Tx.
func NewPostgresHistory(q queryer) *PostgresHistory {
	return &PostgresHistory{q: q}
}

func (h *PostgresHistory) LastAllowedExecution(ctx context.Context, actionType, targetIdentifier string) (time.Time, error) {
	var t sql.NullTime
	err := h.q.QueryRowContext(ctx, `
		SELECT max(created_at) FROM policy_execution_records
		WHERE action_type = $1 AND target_identifier = $2 AND decision = 'allowed'`,
		actionType, targetIdentifier).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("automationpolicy: last allowed execution: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (h *PostgresHistory) CountAllowedExecutionsSince(ctx context.Context, actionType, targetIdentifier string, since time.Time) (int, error) {
	var count int
	err := h.q.QueryRowContext(ctx, `
		SELECT count(*) FROM policy_execution_records
		WHERE action_type = $1 AND target_identifier = $2 AND decision = 'allowed' AND created_at >= $3`,
		actionType, targetIdentifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("automationpolicy: count allowed executions: %w", err)
	}
	return count, nil
}

// Record persists the PolicyExecutionRecord for one Evaluate call,
// allowed or denied.
func (h *PostgresHistory) Record(ctx context.Context, req Request, resp *Response) error {
	enforcement, err := json.Marshal(resp.EnforcementData)
	if err != nil {
		return err
	}
	_, err = h.q.ExecContext(ctx, `
		INSERT INTO policy_execution_records (
			action_type, action_fingerprint, target_identifier, decision, reason,
			idempotency_key_hash, lawbook_version, lawbook_hash, enforcement_data, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ActionType, resp.ActionFingerprint, req.TargetIdentifier, resp.Decision, resp.Reason,
		resp.IdempotencyKeyHash, resp.LawbookVersion, resp.LawbookHash, enforcement, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("automationpolicy: record execution: %w", err)
	}
	return nil
}

// EvaluateAndRecord runs one Evaluate call and its PolicyExecutionRecord
// write inside a single transaction, serialized per (actionType,
// targetIdentifier) via a transaction-scoped advisory lock, so the
// rate-limit count and the audit row stay consistent under concurrent
// callers targeting the same action/target pair.
func EvaluateAndRecord(ctx context.Context, db *sql.DB, policies Store, lawbooks *lawbook.Resolver, rulebookID string, req Request) (*Response, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("automationpolicy: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockKey := advisoryLockKey(req.ActionType, req.TargetIdentifier)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return nil, fmt.Errorf("automationpolicy: acquire lock: %w", err)
	}

	history := NewPostgresHistory(tx)
	eval := NewEvaluator(policies, history, lawbooks, rulebookID)
	resp, err := eval.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := history.Record(ctx, req, resp); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("automationpolicy: commit tx: %w", err)
	}
	return resp, nil
}

func advisoryLockKey(actionType, targetIdentifier string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(actionType + "|" + targetIdentifier))
	return int64(h.Sum64())
}
