package evidenceingest

import (
	"context"
	"testing"
	"time"

	"github.com/afu9/control-center/pkg/timeline"
)

type fakeSource struct {
	runs    map[string]*Run
	deploys map[string]*Deploy
}

func (s *fakeSource) GetRun(ctx context.Context, runID string) (*Run, error) {
	return s.runs[runID], nil
}

func (s *fakeSource) GetDeploy(ctx context.Context, deployID string) (*Deploy, error) {
	return s.deploys[deployID], nil
}

func (s *fakeSource) GetVerdict(ctx context.Context, verdictID string) (*Verdict, error) {
	return nil, nil
}

func (s *fakeSource) GetVerificationReport(ctx context.Context, reportID string) (*VerificationReport, error) {
	return nil, nil
}

type fakeTimeline struct {
	nodes []timeline.UpsertNodeInput
	edges []timeline.Edge
}

func (f *fakeTimeline) UpsertNode(ctx context.Context, in timeline.UpsertNodeInput) (*timeline.Node, error) {
	f.nodes = append(f.nodes, in)
	return &timeline.Node{
		ID: in.SourceSystem + ":" + in.SourceType + ":" + in.SourceID,
		SourceSystem: in.SourceSystem, SourceType: in.SourceType, SourceID: in.SourceID,
		NodeType: in.NodeType, Title: in.Title, URL: in.URL, PayloadJSON: in.PayloadJSON,
		LawbookVersion: in.LawbookVersion,
	}, nil
}

func (f *fakeTimeline) CreateEdge(ctx context.Context, from, to string, edgeType timeline.EdgeType, payload map[string]any) (*timeline.Edge, error) {
	e := timeline.Edge{FromNodeID: from, ToNodeID: to, EdgeType: edgeType, PayloadJSON: payload}
	f.edges = append(f.edges, e)
	return &e, nil
}

func (f *fakeTimeline) CreateSource(ctx context.Context, nodeID, sourceKind string, ref map[string]any, sha256 string) (*timeline.Source, error) {
	return &timeline.Source{NodeID: nodeID, SourceKind: sourceKind, RefJSON: ref, SHA256: sha256}, nil
}

func (f *fakeTimeline) ChainForIssue(ctx context.Context, issueID, sourceSystem string) (*timeline.Chain, error) {
	return nil, nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIngestRun_CreatesRunAndArtifactNodesWithEdges(t *testing.T) {
	source := &fakeSource{runs: map[string]*Run{
		"run-1": {
			ID: "run-1", IssueID: "issue-1", Title: "build",
			Artifacts: []RunArtifact{
				{SourceID: "step-0", Title: "step 0", Payload: map[string]any{"idx": 0}},
				{SourceID: "sha-abc", Title: "binary", Payload: map[string]any{"sha256": "abc"}},
			},
		},
	}}
	tl := &fakeTimeline{}
	ig := New(source, tl).WithClock(fixedClock(time.Unix(1000, 0)))

	node, err := ig.IngestRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}
	if node.NodeType != timeline.NodeRun {
		t.Errorf("node type = %v, want RUN", node.NodeType)
	}
	if len(tl.nodes) != 3 {
		t.Fatalf("created %d nodes, want 3 (1 run + 2 artifacts)", len(tl.nodes))
	}
	if len(tl.edges) != 2 {
		t.Fatalf("created %d edges, want 2", len(tl.edges))
	}
	for _, e := range tl.edges {
		if e.EdgeType != "RUN_HAS_ARTIFACT" {
			t.Errorf("edge type = %v, want RUN_HAS_ARTIFACT", e.EdgeType)
		}
	}
}

func TestIngestRun_StampsFetchedAtOnEveryPayload(t *testing.T) {
	source := &fakeSource{runs: map[string]*Run{
		"run-1": {ID: "run-1", Payload: map[string]any{"forgeRepo": "acme/widgets"}},
	}}
	tl := &fakeTimeline{}
	at := time.Unix(1700000000, 0).UTC()
	ig := New(source, tl).WithClock(fixedClock(at))

	if _, err := ig.IngestRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}
	got, ok := tl.nodes[0].PayloadJSON["fetchedAt"].(string)
	if !ok || got != at.Format(time.RFC3339Nano) {
		t.Errorf("fetchedAt = %v, want %v", got, at.Format(time.RFC3339Nano))
	}
	if tl.nodes[0].PayloadJSON["forgeRepo"] != "acme/widgets" {
		t.Errorf("payload lost original field: %+v", tl.nodes[0].PayloadJSON)
	}
}

func TestIngestDeploy_LinksRunWhenRunIDPresent(t *testing.T) {
	source := &fakeSource{deploys: map[string]*Deploy{
		"deploy-1": {ID: "deploy-1", RunID: "run-1", Env: "prod", Service: "api", Status: "SUCCEEDED"},
	}}
	tl := &fakeTimeline{}
	ig := New(source, tl).WithClock(fixedClock(time.Now()))

	if _, err := ig.IngestDeploy(context.Background(), "deploy-1"); err != nil {
		t.Fatalf("IngestDeploy: %v", err)
	}
	if len(tl.edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(tl.edges))
	}
	if tl.edges[0].EdgeType != timeline.EdgeRunHasDeploy {
		t.Errorf("edge type = %v, want %v", tl.edges[0].EdgeType, timeline.EdgeRunHasDeploy)
	}
}

func TestIngestDeploy_NoEdgeWithoutRunID(t *testing.T) {
	source := &fakeSource{deploys: map[string]*Deploy{
		"deploy-1": {ID: "deploy-1", Env: "prod", Service: "api", Status: "SUCCEEDED"},
	}}
	tl := &fakeTimeline{}
	ig := New(source, tl).WithClock(fixedClock(time.Now()))

	if _, err := ig.IngestDeploy(context.Background(), "deploy-1"); err != nil {
		t.Fatalf("IngestDeploy: %v", err)
	}
	if len(tl.edges) != 0 {
		t.Errorf("edges = %d, want 0 when deploy has no RunID", len(tl.edges))
	}
}
