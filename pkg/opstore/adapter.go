package opstore

import (
	"context"
	"strconv"

	"github.com/afu9/control-center/pkg/evidenceingest"
)

// EvidenceSource adapts a Store into evidenceingest.Source, translating
// the richer opstore row shapes into the flatter payload-map shapes the
// ingestors hash and project.
type EvidenceSource struct {
	store Store
}

// NewEvidenceSource wraps store for use by evidenceingest.New.
func NewEvidenceSource(store Store) *EvidenceSource {
	return &EvidenceSource{store: store}
}

func (a *EvidenceSource) GetRun(ctx context.Context, runID string) (*evidenceingest.Run, error) {
	run, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts := make([]evidenceingest.RunArtifact, 0, len(run.Steps)+len(run.Artifacts))
	for _, step := range run.Steps {
		artifacts = append(artifacts, evidenceingest.RunArtifact{
			SourceID: stepSourceID(step.Idx),
			Title:    "step " + strconv.Itoa(step.Idx),
			Payload: map[string]any{
				"idx": step.Idx, "status": step.Status, "exitCode": step.ExitCode,
				"durationMs": step.DurationMs, "stdoutTail": step.StdoutTail, "stderrTail": step.StderrTail,
			},
		})
	}
	for _, art := range run.Artifacts {
		artifacts = append(artifacts, evidenceingest.RunArtifact{
			SourceID: art.SHA256,
			Title:    art.Kind,
			URL:      art.URL,
			Payload:  map[string]any{"sha256": art.SHA256, "bytes": art.Bytes, "kind": art.Kind},
		})
	}
	return &evidenceingest.Run{
		ID: run.ID, IssueID: run.IssueID, ForgeRepo: run.ForgeRepo, PRNumber: run.PRNumber,
		Title: run.Title, URL: run.URL,
		Payload:   map[string]any{"forgeRepo": run.ForgeRepo, "prNumber": run.PRNumber},
		Artifacts: artifacts,
	}, nil
}

func (a *EvidenceSource) GetDeploy(ctx context.Context, deployID string) (*evidenceingest.Deploy, error) {
	ev, err := a.store.GetDeploy(ctx, deployID)
	if err != nil {
		return nil, err
	}
	return &evidenceingest.Deploy{
		ID: ev.ID, RunID: ev.RunID, Env: ev.Env, Service: ev.Service,
		Version: ev.Version, CommitHash: ev.CommitHash, Status: ev.Status,
		Title: ev.Service + "@" + ev.Env,
	}, nil
}

func (a *EvidenceSource) GetVerdict(ctx context.Context, verdictID string) (*evidenceingest.Verdict, error) {
	v, err := a.store.GetVerdict(ctx, verdictID)
	if err != nil {
		return nil, err
	}
	version := ""
	if snap, err := a.store.GetPolicySnapshot(ctx, v.PolicySnapshotID); err == nil && snap != nil {
		version = snap.Version
	}
	return &evidenceingest.Verdict{
		ID: v.ID, DeployID: v.DeployID, PolicySnapshotID: v.PolicySnapshotID,
		PolicySnapshotVersion: version,
		Title:                 v.ErrorClass,
		Payload: map[string]any{
			"errorClass": v.ErrorClass, "service": v.Service, "confidenceScore": v.ConfidenceScore,
			"proposedAction": v.ProposedAction, "tokens": v.Tokens, "signals": v.Signals,
			"executionId": v.ExecutionID, "fingerprintId": v.FingerprintID,
		},
	}, nil
}

func (a *EvidenceSource) GetVerificationReport(ctx context.Context, reportID string) (*evidenceingest.VerificationReport, error) {
	r, err := a.store.GetVerificationReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return &evidenceingest.VerificationReport{
		ID: r.ID, IssueID: r.IssueID, Title: r.Title, URL: r.URL,
		Payload: map[string]any{"result": r.Result, "payload": r.Payload},
	}, nil
}

func stepSourceID(idx int) string {
	return "step-" + strconv.Itoa(idx)
}
