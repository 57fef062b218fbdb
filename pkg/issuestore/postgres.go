package issuestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/statemachine"
)

// canonicalIDPattern matches "I<digits>" or "E<digits>.<digits>".
var canonicalIDPattern = regexp.MustCompile(`^(I[0-9]+|E[0-9]+\.[0-9]+)$`)

// PostgresStore is the database/sql + lib/pq backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIssue(ctx context.Context, draft Draft) (*Issue, error) {
	if draft.CanonicalID != "" && !canonicalIDPattern.MatchString(draft.CanonicalID) {
		return nil, afu9err.New(afu9err.CodeInvalidInput, "canonicalId must match I<digits> or E<digits>.<digits>")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	labels, err := json.Marshal(nonNilStrings(draft.Labels))
	if err != nil {
		return nil, err
	}
	criteria, err := json.Marshal(nonNilStrings(draft.AcceptanceCriteria))
	if err != nil {
		return nil, err
	}

	priority := draft.Priority
	if priority == "" {
		priority = "P2"
	}

	const q = `
		INSERT INTO issues (
			id, public_id, canonical_id, local_status, forge_mirror_status, execution_state,
			priority, labels, scope, acceptance_criteria, notes, forge_repo, forge_issue_number,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`
	_, err = s.db.ExecContext(ctx, q,
		id, draft.PublicID, nullableString(draft.CanonicalID), string(statemachine.StatusCreated),
		string(statemachine.MirrorUnknown), string(statemachine.ExecIdle),
		priority, labels, draft.Scope, criteria, draft.Notes, draft.ForgeRepo, draft.ForgeIssueNumber,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, afu9err.New(afu9err.CodeConflict, "issue with that publicId/canonicalId already exists")
		}
		return nil, fmt.Errorf("issuestore: create issue: %w", err)
	}

	return s.GetIssue(ctx, id)
}

// patchableColumns maps Draft-style field names to column names for
// PatchIssue. Callers never touch local_status directly through this
// path — status transitions go through the state machine's own
// contract, not arbitrary field edits.
var patchableColumns = map[string]string{
	"scope":              "scope",
	"notes":              "notes",
	"priority":           "priority",
	"forgeUrl":           "forge_url",
	"prNumber":           "pr_number",
	"prUrl":              "pr_url",
	"forgeIssueNumber":   "forge_issue_number",
	"lawbookVersion":     "lawbook_version",
	"acceptanceCriteria": "acceptance_criteria",
	"labels":             "labels",
}

// jsonColumns is the subset of patchableColumns whose value must be
// marshaled to JSON before binding (they're JSONB columns).
var jsonColumns = map[string]bool{"acceptanceCriteria": true, "labels": true}

func (s *PostgresStore) PatchIssue(ctx context.Context, id string, fields map[string]any) (*Issue, error) {
	if len(fields) == 0 {
		return s.GetIssue(ctx, id)
	}

	var setClauses []string
	var args []any
	i := 1
	for field, value := range fields {
		col, ok := patchableColumns[field]
		if !ok {
			return nil, afu9err.New(afu9err.CodeInvalidInput, "field not patchable: "+field)
		}
		if jsonColumns[field] {
			if strs, ok := value.([]string); ok {
				value = nonNilStrings(strs)
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, afu9err.New(afu9err.CodeInvalidInput, "invalid value for "+field)
			}
			value = encoded
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, value)
		i++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now().UTC())
	i++
	args = append(args, id)

	q := fmt.Sprintf("UPDATE issues SET %s WHERE id = $%d", strings.Join(setClauses, ", "), i)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("issuestore: patch issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, afu9err.New(afu9err.CodeNotFound, "issue not found: "+id)
	}
	return s.GetIssue(ctx, id)
}

// ActivateIssue is an atomic compare-and-set: find the current ACTIVE
// issue (if any), deactivate it, activate the target, all within one
// transaction. A concurrent activation racing this one surfaces as
// SINGLE_ACTIVE_VIOLATION via the partial unique index.
func (s *PostgresStore) ActivateIssue(ctx context.Context, id string) (*Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("issuestore: begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentActiveID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM issues WHERE local_status = $1 FOR UPDATE`, string(statemachine.StatusActive)).Scan(&currentActiveID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no current active issue, nothing to deactivate
	case err != nil:
		return nil, fmt.Errorf("issuestore: lookup active issue: %w", err)
	case currentActiveID == id:
		// already active; nothing to do
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE issues SET local_status = $1, updated_at = $2 WHERE id = $3`,
			string(statemachine.StatusSpecReady), time.Now().UTC(), currentActiveID); err != nil {
			return nil, fmt.Errorf("issuestore: deactivate current active: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE issues SET local_status = $1, updated_at = $2 WHERE id = $3`,
		string(statemachine.StatusActive), time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, afu9err.New(afu9err.CodeSingleActiveViolation, "another issue is already active").
				WithDetails(map[string]any{"currentActive": currentActiveID})
		}
		return nil, fmt.Errorf("issuestore: activate target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, afu9err.New(afu9err.CodeNotFound, "issue not found: "+id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("issuestore: commit activate tx: %w", err)
	}
	return s.GetIssue(ctx, id)
}

// UpdateLocalStatus enforces the state graph itself, rather than
// trusting the caller to have already validated: it locks the row,
// reads the current status, and rejects any (current, status) pair
// statemachine.IsValidTransition wouldn't allow, so a future caller
// that skips its own pre-check still can't write an arbitrary status.
func (s *PostgresStore) UpdateLocalStatus(ctx context.Context, id string, status statemachine.LocalStatus) (*Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("issuestore: begin update-status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT local_status FROM issues WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, afu9err.New(afu9err.CodeNotFound, "issue not found: "+id)
	case err != nil:
		return nil, fmt.Errorf("issuestore: lookup current status: %w", err)
	}

	if !statemachine.IsValidTransition(statemachine.LocalStatus(current), status) {
		return nil, afu9err.New(afu9err.CodeInvalidTransition, "not a valid transition").
			WithDetails(map[string]any{"from": current, "to": string(status)})
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET local_status = $1, updated_at = $2,
		execution_override = CASE WHEN $1 IN ('DONE', 'KILLED') THEN FALSE ELSE execution_override END
		WHERE id = $3`,
		string(status), time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("issuestore: update local status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("issuestore: commit update-status tx: %w", err)
	}
	return s.GetIssue(ctx, id)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, issueID, eventType, actor string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issue_events (issue_id, event_type, actor, payload_json) VALUES ($1,$2,$3,$4)`,
		issueID, eventType, actor, body)
	if err != nil {
		return fmt.Errorf("issuestore: append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, filter Filter) ([]*Issue, error) {
	limit := filter.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	var where []string
	var args []any
	i := 1
	if filter.LocalStatus != "" {
		where = append(where, fmt.Sprintf("local_status = $%d", i))
		args = append(args, string(filter.LocalStatus))
		i++
	}
	if filter.ForgeRepo != "" {
		where = append(where, fmt.Sprintf("forge_repo = $%d", i))
		args = append(args, filter.ForgeRepo)
		i++
	}
	if filter.Priority != "" {
		where = append(where, fmt.Sprintf("priority = $%d", i))
		args = append(args, filter.Priority)
		i++
	}

	q := "SELECT " + issueColumns + " FROM issues"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", i, i+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("issuestore: list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetIssue(ctx context.Context, id string) (*Issue, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = $1", id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeNotFound, "issue not found: "+id)
	}
	return issue, err
}

// GetForHandoff returns the Issue shape consumed by the executor
// handoff: the same row as GetIssue, distinct only in intent.
func (s *PostgresStore) GetForHandoff(ctx context.Context, id string) (*Issue, error) {
	return s.GetIssue(ctx, id)
}

func (s *PostgresStore) GetIssueEvents(ctx context.Context, id string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, event_type, actor, payload_json, created_at
		 FROM issue_events WHERE issue_id = $1 ORDER BY created_at DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("issuestore: get issue events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.IssueID, &e.EventType, &e.Actor, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.PayloadJSON); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

const issueColumns = `id, public_id, coalesce(canonical_id, ''), local_status, forge_mirror_status, execution_state,
	priority, labels, coalesce(scope, ''), acceptance_criteria, coalesce(notes, ''), coalesce(forge_repo, ''),
	coalesce(forge_issue_number, 0), coalesce(forge_url, ''), coalesce(pr_number, 0), coalesce(pr_url, ''),
	coalesce(lawbook_version, ''), execution_override, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (*Issue, error) {
	var issue Issue
	var labels, criteria []byte
	var localStatus, mirrorStatus, execState string

	err := row.Scan(
		&issue.ID, &issue.PublicID, &issue.CanonicalID, &localStatus, &mirrorStatus, &execState,
		&issue.Priority, &labels, &issue.Scope, &criteria, &issue.Notes, &issue.ForgeRepo,
		&issue.ForgeIssueNumber, &issue.ForgeURL, &issue.PRNumber, &issue.PRURL,
		&issue.LawbookVersion, &issue.ExecutionOverride, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.LocalStatus = statemachine.LocalStatus(localStatus)
	issue.ForgeMirrorStatus = statemachine.ForgeMirrorStatus(mirrorStatus)
	issue.ExecutionState = statemachine.ExecutionState(execState)
	if len(labels) > 0 {
		_ = json.Unmarshal(labels, &issue.Labels)
	}
	if len(criteria) > 0 {
		_ = json.Unmarshal(criteria, &issue.AcceptanceCriteria)
	}
	return &issue, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate")
}
