package issuestore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func issueRow(id string, status statemachine.LocalStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "public_id", "canonical_id", "local_status", "forge_mirror_status", "execution_state",
		"priority", "labels", "scope", "acceptance_criteria", "notes", "forge_repo",
		"forge_issue_number", "forge_url", "pr_number", "pr_url", "lawbook_version",
		"execution_override", "created_at", "updated_at",
	}).AddRow(id, "I-1", "I1", string(status), "UNKNOWN", "IDLE",
		"P1", []byte(`[]`), "", []byte(`[]`), "", "",
		0, "", 0, "", "",
		false, now, now)
}

func TestCreateIssue_RejectsMalformedCanonicalID(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.CreateIssue(context.Background(), Draft{PublicID: "I-1", CanonicalID: "not-valid"})
	require.Error(t, err)

	var aerr *afu9err.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, afu9err.CodeInvalidInput, aerr.Code)
}

func TestCreateIssue_Success(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO issues").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .* FROM issues WHERE id = \\$1").WillReturnRows(issueRow("abc-123", statemachine.StatusCreated))

	issue, err := store.CreateIssue(context.Background(), Draft{PublicID: "I-1", CanonicalID: "I1"})
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusCreated, issue.LocalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIssue_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	emptyRows := sqlmock.NewRows([]string{
		"id", "public_id", "canonical_id", "local_status", "forge_mirror_status", "execution_state",
		"priority", "labels", "scope", "acceptance_criteria", "notes", "forge_repo",
		"forge_issue_number", "forge_url", "pr_number", "pr_url", "lawbook_version",
		"execution_override", "created_at", "updated_at",
	})
	mock.ExpectQuery("SELECT .* FROM issues WHERE id = \\$1").WillReturnRows(emptyRows)

	_, err := store.GetIssue(context.Background(), "missing")
	require.Error(t, err)

	var aerr *afu9err.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, afu9err.CodeNotFound, aerr.Code)
}

func TestActivateIssue_DeactivatesPreviousActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM issues WHERE local_status = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("prev-active-id"))
	mock.ExpectExec("UPDATE issues SET local_status = \\$1").
		WithArgs(string(statemachine.StatusSpecReady), sqlmock.AnyArg(), "prev-active-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE issues SET local_status = \\$1").
		WithArgs(string(statemachine.StatusActive), sqlmock.AnyArg(), "target-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT .* FROM issues WHERE id = \\$1").WillReturnRows(issueRow("target-id", statemachine.StatusActive))

	issue, err := store.ActivateIssue(context.Background(), "target-id")
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusActive, issue.LocalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIssues_ClampsLimitToMax(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM issues ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(MaxListLimit, 0).
		WillReturnRows(issueRow("abc", statemachine.StatusActive))

	issues, err := store.ListIssues(context.Background(), Filter{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchIssue_RejectsUnpatchableField(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.PatchIssue(context.Background(), "abc", map[string]any{"localStatus": "DONE"})
	require.Error(t, err)
}

func TestUpdateLocalStatus_ValidTransitionWrites(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT local_status FROM issues WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"local_status"}).AddRow(string(statemachine.StatusReviewReady)))
	mock.ExpectExec("UPDATE issues SET local_status = \\$1").
		WithArgs(string(statemachine.StatusMergeReady), sqlmock.AnyArg(), "target-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT .* FROM issues WHERE id = \\$1").WillReturnRows(issueRow("target-id", statemachine.StatusMergeReady))

	issue, err := store.UpdateLocalStatus(context.Background(), "target-id", statemachine.StatusMergeReady)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusMergeReady, issue.LocalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLocalStatus_RejectsTransitionNotInStateGraph(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT local_status FROM issues WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"local_status"}).AddRow(string(statemachine.StatusCreated)))
	mock.ExpectRollback()

	_, err := store.UpdateLocalStatus(context.Background(), "target-id", statemachine.StatusMergeReady)
	require.Error(t, err)

	var aerr *afu9err.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, afu9err.CodeInvalidTransition, aerr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLocalStatus_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT local_status FROM issues WHERE id = \\$1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.UpdateLocalStatus(context.Background(), "missing", statemachine.StatusActive)
	require.Error(t, err)

	var aerr *afu9err.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, afu9err.CodeNotFound, aerr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
