// Package timeline implements the content-addressed linkage graph
// that ties an Issue to its PRs, Runs, Deploys, Verdicts, Artifacts,
// and Comments. Nodes are upserted idempotently by natural key, edges
// are a closed set of typed links, and chainForIssue walks the graph
// in a fixed, contract-stable order. The content-hash-then-upsert
// shape follows the ProofGraph's node-hash idiom, generalized from a
// single hash-chained DAG to natural-key upserts across
// heterogeneous node types.
package timeline

import (
	"context"
	"time"
)

// NodeType is the closed set of Timeline node kinds.
type NodeType string

const (
	NodeIssue    NodeType = "ISSUE"
	NodePR       NodeType = "PR"
	NodeRun      NodeType = "RUN"
	NodeDeploy   NodeType = "DEPLOY"
	NodeVerdict  NodeType = "VERDICT"
	NodeArtifact NodeType = "ARTIFACT"
	NodeComment  NodeType = "COMMENT"
)

// nodeTypeOrder is the fixed, contract-stable ordering chainForIssue
// must preserve.
var nodeTypeOrder = map[NodeType]int{
	NodeIssue: 0, NodePR: 1, NodeRun: 2, NodeDeploy: 3,
	NodeVerdict: 4, NodeArtifact: 5, NodeComment: 6,
}

// EdgeType is the closed set of Timeline edge kinds.
type EdgeType string

const (
	EdgeIssueHasPR     EdgeType = "ISSUE_HAS_PR"
	EdgePRHasRun       EdgeType = "PR_HAS_RUN"
	EdgeRunHasDeploy   EdgeType = "RUN_HAS_DEPLOY"
	EdgeDeployHasVerdict EdgeType = "DEPLOY_HAS_VERDICT"
	EdgeHasArtifactSuffix = "_HAS_ARTIFACT"
	EdgeHasCommentSuffix  = "_HAS_COMMENT"
)

// Node is one vertex in the Timeline graph, natural-keyed by
// (SourceSystem, SourceType, SourceID).
type Node struct {
	ID             string
	SourceSystem   string // "afu9" | "forge"
	SourceType     string
	SourceID       string
	NodeType       NodeType
	Title          string
	URL            string
	PayloadJSON    map[string]any
	ContentHash    string
	LawbookVersion string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Edge links two nodes with a typed relationship.
type Edge struct {
	FromNodeID  string
	ToNodeID    string
	EdgeType    EdgeType
	PayloadJSON map[string]any
}

// Source is an append-only provenance record backing a Node.
type Source struct {
	ID         int64
	NodeID     string
	SourceKind string
	RefJSON    map[string]any
	SHA256     string
	CreatedAt  time.Time
}

// UpsertNodeInput is the caller-supplied shape for UpsertNode.
type UpsertNodeInput struct {
	SourceSystem   string
	SourceType     string
	SourceID       string
	NodeType       NodeType
	Title          string
	URL            string
	PayloadJSON    map[string]any
	LawbookVersion string
}

// Chain is the result of chainForIssue: every reachable node and edge,
// in contract-stable order, plus basic traversal metadata.
type Chain struct {
	Nodes    []*Node
	Edges    []*Edge
	Metadata map[string]any
}

// Store is the Timeline persistence contract.
type Store interface {
	// UpsertNode is idempotent by natural key: if the key exists and
	// the content is byte-equal, the existing row is returned
	// unchanged; otherwise payload/title/url/lawbookVersion/updatedAt
	// are updated in place.
	UpsertNode(ctx context.Context, in UpsertNodeInput) (*Node, error)
	// CreateEdge is a no-op if the (from, to, type) edge already exists.
	CreateEdge(ctx context.Context, from, to string, edgeType EdgeType, payload map[string]any) (*Edge, error)
	// CreateSource appends a SourceRef; sources are never updated.
	CreateSource(ctx context.Context, nodeID, sourceKind string, ref map[string]any, sha256 string) (*Source, error)
	// ChainForIssue seeds on the ISSUE node for (sourceSystem, "issue",
	// issueID) and traverses every reachable node/edge.
	ChainForIssue(ctx context.Context, issueID, sourceSystem string) (*Chain, error)
}

// OrderNodes sorts nodes by the fixed nodeType sequence, then
// createdAt ascending, then id ascending — the ordering chainForIssue
// must preserve as part of its public contract.
func OrderNodes(nodes []*Node) {
	sortStable(nodes, func(a, b *Node) bool {
		oa, ob := nodeTypeOrder[a.NodeType], nodeTypeOrder[b.NodeType]
		if oa != ob {
			return oa < ob
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func sortStable(nodes []*Node, less func(a, b *Node) bool) {
	// Simple insertion sort: the node-count per chain is small and
	// this keeps the ordering rule legible and obviously stable.
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && less(nodes[j], nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
