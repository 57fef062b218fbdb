package opstore

import (
	"testing"
	"time"
)

func TestComputeDeployStatus_NoEvents(t *testing.T) {
	snap := ComputeDeployStatus("prod", nil, time.Now())
	if snap.Status != SnapshotYellow {
		t.Errorf("status = %v, want %v", snap.Status, SnapshotYellow)
	}
	if len(snap.Reasons) != 1 || snap.Reasons[0].Code != "NO_DEPLOYS" {
		t.Errorf("reasons = %+v, want single NO_DEPLOYS reason", snap.Reasons)
	}
}

func TestComputeDeployStatus_LatestFailedIsRed(t *testing.T) {
	events := []*DeployEvent{
		{ID: "d-2", Status: "FAILED", Version: "v2", Service: "api", CommitHash: "abc123", Message: "migration failed"},
		{ID: "d-1", Status: "SUCCEEDED", Version: "v1", Service: "api"},
	}
	snap := ComputeDeployStatus("prod", events, time.Now())
	if snap.Status != SnapshotRed {
		t.Errorf("status = %v, want %v", snap.Status, SnapshotRed)
	}
	if len(snap.Reasons) != 1 || snap.Reasons[0].Code != "LATEST_DEPLOY_FAILED" {
		t.Errorf("reasons = %+v, want single LATEST_DEPLOY_FAILED reason", snap.Reasons)
	}
}

func TestComputeDeployStatus_LatestInProgressIsYellow(t *testing.T) {
	events := []*DeployEvent{
		{ID: "d-1", Status: "IN_PROGRESS", Version: "v1", Service: "api"},
	}
	snap := ComputeDeployStatus("prod", events, time.Now())
	if snap.Status != SnapshotYellow {
		t.Errorf("status = %v, want %v", snap.Status, SnapshotYellow)
	}
}

func TestComputeDeployStatus_LatestSucceededIsGreen(t *testing.T) {
	events := []*DeployEvent{
		{ID: "d-1", Status: "SUCCEEDED", Version: "v1", Service: "api"},
	}
	snap := ComputeDeployStatus("prod", events, time.Now())
	if snap.Status != SnapshotGreen {
		t.Errorf("status = %v, want %v", snap.Status, SnapshotGreen)
	}
	if snap.Signals["latestVersion"] != "v1" {
		t.Errorf("signals = %+v, want latestVersion v1", snap.Signals)
	}
}

func TestComputeDeployStatus_OnlyLooksAtLatestEvent(t *testing.T) {
	events := []*DeployEvent{
		{ID: "d-2", Status: "SUCCEEDED", Version: "v2", Service: "api"},
		{ID: "d-1", Status: "FAILED", Version: "v1", Service: "api"},
	}
	snap := ComputeDeployStatus("prod", events, time.Now())
	if snap.Status != SnapshotGreen {
		t.Errorf("status = %v, want %v (a prior failure must not affect the current status)", snap.Status, SnapshotGreen)
	}
}
