// Package evidenceingest projects rows from the operational store
// (runs, deploys, verdicts, verification reports) into the Timeline
// graph. Every ingestion function follows the same skeleton: fetch
// from the operational store, compute the natural key, upsert the
// node, record a SourceRef with sha256(canonicalJSON(row)), create
// edges — mirroring the fetch-hash-verify shape of the evidence
// contract registry, generalized from "verify evidence satisfies a
// contract" to "project evidence into a graph".
package evidenceingest

import (
	"context"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/canonicalize"
	"github.com/afu9/control-center/pkg/timeline"
)

// RunArtifact is a single step or produced artifact belonging to a Run.
type RunArtifact struct {
	SourceID string // stable id: step idx or artifact sha256
	Title    string
	URL      string
	Payload  map[string]any
}

// Run is the operational-store shape ingestRun reads.
type Run struct {
	ID        string
	IssueID   string
	ForgeRepo string
	PRNumber  int
	Title     string
	URL       string
	Payload   map[string]any
	Artifacts []RunArtifact
}

// Deploy is the operational-store shape ingestDeploy reads.
type Deploy struct {
	ID         string
	RunID      string
	Env        string
	Service    string
	Version    string
	CommitHash string
	Status     string
	Title      string
	URL        string
}

// Verdict is the operational-store shape ingestVerdict reads.
type Verdict struct {
	ID                 string
	DeployID           string
	PolicySnapshotID   string
	PolicySnapshotVersion string // "" if the snapshot has no version
	Title              string
	URL                string
	Payload            map[string]any
}

// VerificationReport is the operational-store shape ingestVerification reads.
type VerificationReport struct {
	ID      string
	IssueID string
	Title   string
	URL     string
	Payload map[string]any
}

// Source is the read-only operational store ingestion pulls from.
// Each getter returns afu9err.CodeRunNotFound / CodeDeployNotFound /
// CodeVerdictNotFound / CodeVerificationNotFound when the row is absent.
type Source interface {
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetDeploy(ctx context.Context, deployID string) (*Deploy, error)
	GetVerdict(ctx context.Context, verdictID string) (*Verdict, error)
	GetVerificationReport(ctx context.Context, reportID string) (*VerificationReport, error)
}

// Ingestor projects operational-store rows into the Timeline graph.
type Ingestor struct {
	source   Source
	timeline timeline.Store
	clock    func() time.Time
}

// New builds an Ingestor over the given operational store and Timeline.
func New(source Source, tl timeline.Store) *Ingestor {
	return &Ingestor{source: source, timeline: tl, clock: time.Now}
}

// WithClock overrides the clock used to stamp fetched_at on every node
// created by a single ingestion call.
func (ig *Ingestor) WithClock(clock func() time.Time) *Ingestor {
	ig.clock = clock
	return ig
}

func wrapFailure(err error) error {
	if _, ok := err.(*afu9err.Error); ok {
		return err
	}
	return afu9err.New(afu9err.CodeIngestionFailed, err.Error())
}

func hashOf(row any) (string, error) {
	b, err := canonicalize.JCS(row)
	if err != nil {
		return "", afu9err.New(afu9err.CodeIngestionFailed, "canonicalize row: "+err.Error())
	}
	return canonicalize.HashBytes(b), nil
}

func (ig *Ingestor) recordSource(ctx context.Context, nodeID, sourceKind string, row any) error {
	hash, err := hashOf(row)
	if err != nil {
		return err
	}
	ref, ok := row.(map[string]any)
	if !ok {
		ref = map[string]any{"row": row}
	}
	if _, err := ig.timeline.CreateSource(ctx, nodeID, sourceKind, ref, hash); err != nil {
		return wrapFailure(err)
	}
	return nil
}

// IngestRun creates one RUN node, one ARTIFACT node per step/artifact,
// and one RUN_HAS_ARTIFACT edge per artifact. All nodes created by this
// call carry the same fetched_at timestamp.
func (ig *Ingestor) IngestRun(ctx context.Context, runID string) (*timeline.Node, error) {
	run, err := ig.source.GetRun(ctx, runID)
	if err != nil {
		return nil, wrapFailure(err)
	}

	fetchedAt := ig.clock().UTC()
	payload := withFetchedAt(run.Payload, fetchedAt)

	runNode, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
		SourceSystem: "afu9", SourceType: "run", SourceID: run.ID,
		NodeType: timeline.NodeRun, Title: run.Title, URL: run.URL, PayloadJSON: payload,
	})
	if err != nil {
		return nil, wrapFailure(err)
	}
	if err := ig.recordSource(ctx, runNode.ID, "run", payload); err != nil {
		return nil, err
	}

	for _, a := range run.Artifacts {
		artifactPayload := withFetchedAt(a.Payload, fetchedAt)
		artifactNode, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
			SourceSystem: "afu9", SourceType: "artifact", SourceID: a.SourceID,
			NodeType: timeline.NodeArtifact, Title: a.Title, URL: a.URL, PayloadJSON: artifactPayload,
		})
		if err != nil {
			return nil, wrapFailure(err)
		}
		if err := ig.recordSource(ctx, artifactNode.ID, "artifact", artifactPayload); err != nil {
			return nil, err
		}
		if _, err := ig.timeline.CreateEdge(ctx, runNode.ID, artifactNode.ID, edgeType("RUN", timeline.EdgeHasArtifactSuffix), nil); err != nil {
			return nil, wrapFailure(err)
		}
	}

	return runNode, nil
}

// IngestDeploy creates one DEPLOY node whose payload carries env,
// service, version, commitHash, status.
func (ig *Ingestor) IngestDeploy(ctx context.Context, deployID string) (*timeline.Node, error) {
	deploy, err := ig.source.GetDeploy(ctx, deployID)
	if err != nil {
		return nil, wrapFailure(err)
	}

	payload := map[string]any{
		"env": deploy.Env, "service": deploy.Service, "version": deploy.Version,
		"commitHash": deploy.CommitHash, "status": deploy.Status,
		"fetchedAt": ig.clock().UTC().Format(time.RFC3339Nano),
	}

	node, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
		SourceSystem: "afu9", SourceType: "deploy", SourceID: deploy.ID,
		NodeType: timeline.NodeDeploy, Title: deploy.Title, URL: deploy.URL, PayloadJSON: payload,
	})
	if err != nil {
		return nil, wrapFailure(err)
	}
	if err := ig.recordSource(ctx, node.ID, "deploy", payload); err != nil {
		return nil, err
	}
	if deploy.RunID != "" {
		runNode, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
			SourceSystem: "afu9", SourceType: "run", SourceID: deploy.RunID, NodeType: timeline.NodeRun,
		})
		if err != nil {
			return nil, wrapFailure(err)
		}
		if _, err := ig.timeline.CreateEdge(ctx, runNode.ID, node.ID, timeline.EdgeRunHasDeploy, nil); err != nil {
			return nil, wrapFailure(err)
		}
	}
	return node, nil
}

// IngestVerdict creates one VERDICT node; its lawbookVersion is taken
// from the verdict's policy snapshot (may be empty if the snapshot
// carries none).
func (ig *Ingestor) IngestVerdict(ctx context.Context, verdictID string) (*timeline.Node, error) {
	verdict, err := ig.source.GetVerdict(ctx, verdictID)
	if err != nil {
		return nil, wrapFailure(err)
	}

	payload := withFetchedAt(verdict.Payload, ig.clock().UTC())
	node, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
		SourceSystem: "afu9", SourceType: "verdict", SourceID: verdict.ID,
		NodeType: timeline.NodeVerdict, Title: verdict.Title, URL: verdict.URL,
		PayloadJSON: payload, LawbookVersion: verdict.PolicySnapshotVersion,
	})
	if err != nil {
		return nil, wrapFailure(err)
	}
	if err := ig.recordSource(ctx, node.ID, "verdict", payload); err != nil {
		return nil, err
	}
	if verdict.DeployID != "" {
		deployNode, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
			SourceSystem: "afu9", SourceType: "deploy", SourceID: verdict.DeployID, NodeType: timeline.NodeDeploy,
		})
		if err != nil {
			return nil, wrapFailure(err)
		}
		if _, err := ig.timeline.CreateEdge(ctx, deployNode.ID, node.ID, timeline.EdgeDeployHasVerdict, nil); err != nil {
			return nil, wrapFailure(err)
		}
	}
	return node, nil
}

// IngestVerification creates one ARTIFACT node with
// sourceType = "verification_report".
func (ig *Ingestor) IngestVerification(ctx context.Context, reportID string) (*timeline.Node, error) {
	report, err := ig.source.GetVerificationReport(ctx, reportID)
	if err != nil {
		return nil, wrapFailure(err)
	}

	payload := withFetchedAt(report.Payload, ig.clock().UTC())
	node, err := ig.timeline.UpsertNode(ctx, timeline.UpsertNodeInput{
		SourceSystem: "afu9", SourceType: "verification_report", SourceID: report.ID,
		NodeType: timeline.NodeArtifact, Title: report.Title, URL: report.URL, PayloadJSON: payload,
	})
	if err != nil {
		return nil, wrapFailure(err)
	}
	if err := ig.recordSource(ctx, node.ID, "verification_report", payload); err != nil {
		return nil, err
	}
	return node, nil
}

func withFetchedAt(payload map[string]any, at time.Time) map[string]any {
	out := map[string]any{"fetchedAt": at.Format(time.RFC3339Nano)}
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func edgeType(prefix, suffix string) timeline.EdgeType {
	return timeline.EdgeType(prefix + suffix)
}
