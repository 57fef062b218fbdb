package verdict_test

import (
	"context"
	"testing"

	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/statemachine"
	"github.com/afu9/control-center/pkg/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	issue  *issuestore.Issue
	events []string
}

func (f *fakeStore) CreateIssue(context.Context, issuestore.Draft) (*issuestore.Issue, error) { panic("unused") }
func (f *fakeStore) PatchIssue(context.Context, string, map[string]any) (*issuestore.Issue, error) {
	panic("unused")
}
func (f *fakeStore) ActivateIssue(context.Context, string) (*issuestore.Issue, error) { panic("unused") }
func (f *fakeStore) ListIssues(context.Context, issuestore.Filter) ([]*issuestore.Issue, error) {
	panic("unused")
}
func (f *fakeStore) GetIssueEvents(context.Context, string, int) ([]*issuestore.Event, error) {
	panic("unused")
}
func (f *fakeStore) GetForHandoff(context.Context, string) (*issuestore.Issue, error) { panic("unused") }
func (f *fakeStore) GetIssue(_ context.Context, id string) (*issuestore.Issue, error) { return f.issue, nil }
func (f *fakeStore) UpdateLocalStatus(_ context.Context, _ string, status statemachine.LocalStatus) (*issuestore.Issue, error) {
	f.issue.LocalStatus = status
	return f.issue, nil
}
func (f *fakeStore) AppendEvent(_ context.Context, _, eventType, _ string, _ map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

func TestApplyVerdict_RedMovesToHold(t *testing.T) {
	store := &fakeStore{issue: &issuestore.Issue{LocalStatus: statemachine.StatusImplementing}}
	res, err := verdict.ApplyVerdict(context.Background(), store, "i1", verdict.Red)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusHold, res.NewStatus)
	assert.True(t, res.StateChanged)
	assert.Equal(t, []string{"VERDICT_SET", "STATE_CHANGED"}, store.events)
}

func TestApplyVerdict_GreenOnReviewReadyMovesToVerified(t *testing.T) {
	store := &fakeStore{issue: &issuestore.Issue{LocalStatus: statemachine.StatusReviewReady}}
	res, err := verdict.ApplyVerdict(context.Background(), store, "i1", verdict.Green)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusVerified, res.NewStatus)
	assert.True(t, res.StateChanged)
}

func TestApplyVerdict_GreenOnVerifiedMovesToDone(t *testing.T) {
	store := &fakeStore{issue: &issuestore.Issue{LocalStatus: statemachine.StatusVerified}}
	res, err := verdict.ApplyVerdict(context.Background(), store, "i1", verdict.Green)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusDone, res.NewStatus)
}

func TestApplyVerdict_GreenElsewhereUnchanged(t *testing.T) {
	store := &fakeStore{issue: &issuestore.Issue{LocalStatus: statemachine.StatusImplementing}}
	res, err := verdict.ApplyVerdict(context.Background(), store, "i1", verdict.Green)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusImplementing, res.NewStatus)
	assert.False(t, res.StateChanged)
	assert.Equal(t, []string{"VERDICT_SET"}, store.events)
}

func TestApplyVerdict_TerminalStateRefuses(t *testing.T) {
	store := &fakeStore{issue: &issuestore.Issue{LocalStatus: statemachine.StatusKilled}}
	res, err := verdict.ApplyVerdict(context.Background(), store, "i1", verdict.Red)
	require.NoError(t, err)
	assert.False(t, res.StateChanged)
	assert.Equal(t, statemachine.StatusKilled, res.NewStatus)
}
