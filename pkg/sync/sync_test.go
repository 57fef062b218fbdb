package sync

import (
	"testing"
	"time"

	"github.com/afu9/control-center/pkg/forge"
	"github.com/afu9/control-center/pkg/statemachine"
	"github.com/stretchr/testify/assert"
)

func mustTime(offsetSeconds int64) time.Time {
	return time.Unix(offsetSeconds, 0).UTC()
}

func TestDetermineTargetStatus_MergedWins(t *testing.T) {
	pr := &forge.PullRequest{State: "open", Merged: true}
	target, ok := determineTargetStatus(pr, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, statemachine.StatusDone, target)
}

func TestDetermineTargetStatus_PendingCheckMeansImplementing(t *testing.T) {
	pr := &forge.PullRequest{State: "open"}
	checks := []forge.CheckRun{{Required: true, Status: "queued"}}
	target, ok := determineTargetStatus(pr, nil, checks)
	assert.True(t, ok)
	assert.Equal(t, statemachine.StatusImplementing, target)
}

func TestDetermineTargetStatus_PassingChecksPlusApprovalMeansMergeReady(t *testing.T) {
	pr := &forge.PullRequest{State: "open"}
	checks := []forge.CheckRun{{Required: true, Status: "completed", Conclusion: "success"}}
	reviews := []forge.Review{{State: "APPROVED"}}
	target, ok := determineTargetStatus(pr, reviews, checks)
	assert.True(t, ok)
	assert.Equal(t, statemachine.StatusMergeReady, target)
}

func TestDetermineTargetStatus_ChangesRequestedBlocksMergeReady(t *testing.T) {
	pr := &forge.PullRequest{State: "open"}
	checks := []forge.CheckRun{{Required: true, Status: "completed", Conclusion: "success"}}
	reviews := []forge.Review{{State: "APPROVED"}, {State: "CHANGES_REQUESTED"}}
	target, ok := determineTargetStatus(pr, reviews, checks)
	assert.True(t, ok)
	assert.Equal(t, statemachine.StatusReviewReady, target)
}

func TestDetermineTargetStatus_FallsBackToStatusLabel(t *testing.T) {
	pr := &forge.PullRequest{State: "closed", Labels: []string{"status:hold"}}
	target, ok := determineTargetStatus(pr, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, statemachine.StatusHold, target)
}

func TestDetermineTargetStatus_NoSignalMeansNoOpinion(t *testing.T) {
	pr := &forge.PullRequest{State: "closed"}
	_, ok := determineTargetStatus(pr, nil, nil)
	assert.False(t, ok)
}

func TestBucketedEventHash_SameBucketSamePayloadIsStable(t *testing.T) {
	e := &Engine{}
	payload := map[string]any{"a": 1}
	h1, err := e.bucketedEventHash("STATE_CHANGED", "issue-1", 42, mustTime(0), payload)
	assert.NoError(t, err)
	h2, err := e.bucketedEventHash("STATE_CHANGED", "issue-1", 42, mustTime(60), payload)
	assert.NoError(t, err)
	assert.Equal(t, h1, h2, "same 5-minute bucket must hash identically")
}

func TestBucketedEventHash_DifferentBucketDiffers(t *testing.T) {
	e := &Engine{}
	payload := map[string]any{"a": 1}
	h1, err := e.bucketedEventHash("STATE_CHANGED", "issue-1", 42, mustTime(0), payload)
	assert.NoError(t, err)
	h2, err := e.bucketedEventHash("STATE_CHANGED", "issue-1", 42, mustTime(301), payload)
	assert.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
