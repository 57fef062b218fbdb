package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/canonicalize"
	"github.com/google/uuid"
)

// PostgresStore is the Postgres-backed implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInvalidInput, "payload is not JCS-canonicalizable: "+err.Error())
	}
	return b, nil
}

// UpsertNode is idempotent by (sourceSystem, sourceType, sourceID): if
// the row exists and its content hash matches, it is returned
// unchanged; otherwise payload/title/url/lawbookVersion/updatedAt are
// updated in place.
func (s *PostgresStore) UpsertNode(ctx context.Context, in UpsertNodeInput) (*Node, error) {
	payloadJSON, err := marshalPayload(in.PayloadJSON)
	if err != nil {
		return nil, err
	}
	contentHash := canonicalize.HashBytes(payloadJSON)

	existing, err := s.findNode(ctx, in.SourceSystem, in.SourceType, in.SourceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if existing != nil && existing.ContentHash == contentHash {
		return existing, nil
	}

	if existing != nil {
		const q = `UPDATE timeline_nodes
			SET title = $1, url = $2, payload_json = $3, content_hash = $4,
			    lawbook_version = $5, updated_at = now()
			WHERE id = $6
			RETURNING ` + nodeColumns
		row := s.db.QueryRowContext(ctx, q, in.Title, in.URL, payloadJSON, contentHash, in.LawbookVersion, existing.ID)
		return scanNode(row)
	}

	id := uuid.NewString()
	const ins = `INSERT INTO timeline_nodes
		(id, source_system, source_type, source_id, node_type, title, url, payload_json, content_hash, lawbook_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
		RETURNING ` + nodeColumns
	row := s.db.QueryRowContext(ctx, ins, id, in.SourceSystem, in.SourceType, in.SourceID,
		string(in.NodeType), in.Title, in.URL, payloadJSON, contentHash, in.LawbookVersion)
	return scanNode(row)
}

func (s *PostgresStore) findNode(ctx context.Context, sourceSystem, sourceType, sourceID string) (*Node, error) {
	const q = `SELECT ` + nodeColumns + ` FROM timeline_nodes
		WHERE source_system = $1 AND source_type = $2 AND source_id = $3`
	row := s.db.QueryRowContext(ctx, q, sourceSystem, sourceType, sourceID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// CreateEdge is a no-op if the (from, to, type) edge already exists.
func (s *PostgresStore) CreateEdge(ctx context.Context, from, to string, edgeType EdgeType, payload map[string]any) (*Edge, error) {
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO timeline_edges (from_node_id, to_node_id, edge_type, payload_json, created_at)
		VALUES ($1,$2,$3,$4, now())
		ON CONFLICT (from_node_id, to_node_id, edge_type) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, from, to, string(edgeType), payloadJSON); err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "create edge: "+err.Error())
	}
	return &Edge{FromNodeID: from, ToNodeID: to, EdgeType: edgeType, PayloadJSON: payload}, nil
}

// CreateSource appends an evidence provenance record. Sources are
// never updated once written.
func (s *PostgresStore) CreateSource(ctx context.Context, nodeID, sourceKind string, ref map[string]any, sha256 string) (*Source, error) {
	refJSON, err := marshalPayload(ref)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO timeline_sources (node_id, source_kind, ref_json, sha256, created_at)
		VALUES ($1,$2,$3,$4, now())
		RETURNING id, node_id, source_kind, ref_json, sha256, created_at`
	row := s.db.QueryRowContext(ctx, q, nodeID, sourceKind, refJSON, sha256)

	var src Source
	var refRaw []byte
	if err := row.Scan(&src.ID, &src.NodeID, &src.SourceKind, &refRaw, &src.SHA256, &src.CreatedAt); err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "create source: "+err.Error())
	}
	if err := json.Unmarshal(refRaw, &src.RefJSON); err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "decode source ref: "+err.Error())
	}
	return &src, nil
}

// chainEdgeTypes is the fixed spine the traversal follows from ISSUE
// down to VERDICT, before fanning out to ARTIFACT/COMMENT children of
// every visited node.
var chainEdgeTypes = []EdgeType{EdgeIssueHasPR, EdgePRHasRun, EdgeRunHasDeploy, EdgeDeployHasVerdict}

// ChainForIssue seeds on the ISSUE node for (sourceSystem, "issue",
// issueID) and traverses every reachable node and edge: the fixed
// spine ISSUE -> PR -> RUN -> DEPLOY -> VERDICT, plus *_HAS_ARTIFACT
// and *_HAS_COMMENT fan-outs from every node visited along the way.
// The returned nodes are ordered by the fixed NodeType sequence, then
// createdAt ascending, then id ascending — part of the public
// contract, preserved via OrderNodes.
func (s *PostgresStore) ChainForIssue(ctx context.Context, issueID, sourceSystem string) (*Chain, error) {
	root, err := s.findNode(ctx, sourceSystem, "issue", issueID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, afu9err.New(afu9err.CodeNotFound, "no timeline node for issue "+issueID)
	}

	visited := map[string]*Node{root.ID: root}
	var allEdges []*Edge

	frontier := []*Node{root}
	for _, edgeType := range chainEdgeTypes {
		var next []*Node
		for _, n := range frontier {
			edges, err := s.outgoingEdges(ctx, n.ID, edgeType)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				allEdges = append(allEdges, e)
				if _, ok := visited[e.ToNodeID]; !ok {
					child, err := s.getNodeByID(ctx, e.ToNodeID)
					if err != nil {
						return nil, err
					}
					visited[child.ID] = child
					next = append(next, child)
				}
			}
		}
		frontier = append(frontier, next...)
	}

	// Fan out ARTIFACT/COMMENT edges from every node visited so far.
	for _, n := range frontier {
		for _, suffix := range []string{EdgeHasArtifactSuffix, EdgeHasCommentSuffix} {
			edges, err := s.outgoingEdgesLike(ctx, n.ID, suffix)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				allEdges = append(allEdges, e)
				if _, ok := visited[e.ToNodeID]; !ok {
					child, err := s.getNodeByID(ctx, e.ToNodeID)
					if err != nil {
						return nil, err
					}
					visited[child.ID] = child
				}
			}
		}
	}

	nodes := make([]*Node, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, n)
	}
	OrderNodes(nodes)

	return &Chain{
		Nodes: nodes,
		Edges: allEdges,
		Metadata: map[string]any{
			"issueId":      issueID,
			"sourceSystem": sourceSystem,
			"nodeCount":    len(nodes),
			"edgeCount":    len(allEdges),
		},
	}, nil
}

func (s *PostgresStore) outgoingEdges(ctx context.Context, fromID string, edgeType EdgeType) ([]*Edge, error) {
	const q = `SELECT from_node_id, to_node_id, edge_type, payload_json FROM timeline_edges
		WHERE from_node_id = $1 AND edge_type = $2`
	return s.queryEdges(ctx, q, fromID, string(edgeType))
}

func (s *PostgresStore) outgoingEdgesLike(ctx context.Context, fromID, suffix string) ([]*Edge, error) {
	const q = `SELECT from_node_id, to_node_id, edge_type, payload_json FROM timeline_edges
		WHERE from_node_id = $1 AND edge_type LIKE $2`
	return s.queryEdges(ctx, q, fromID, "%"+suffix)
}

func (s *PostgresStore) queryEdges(ctx context.Context, q, fromID, arg string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, q, fromID, arg)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "query edges: "+err.Error())
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		var e Edge
		var edgeType string
		var payloadRaw []byte
		if err := rows.Scan(&e.FromNodeID, &e.ToNodeID, &edgeType, &payloadRaw); err != nil {
			return nil, afu9err.New(afu9err.CodeInternal, "scan edge: "+err.Error())
		}
		e.EdgeType = EdgeType(edgeType)
		if len(payloadRaw) > 0 {
			_ = json.Unmarshal(payloadRaw, &e.PayloadJSON)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

func (s *PostgresStore) getNodeByID(ctx context.Context, id string) (*Node, error) {
	const q = `SELECT ` + nodeColumns + ` FROM timeline_nodes WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, afu9err.New(afu9err.CodeNotFound, "timeline node "+id+" not found")
	}
	return n, err
}

const nodeColumns = `id, source_system, source_type, source_id, node_type, coalesce(title, ''), coalesce(url, ''),
	payload_json, content_hash, coalesce(lawbook_version, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var nodeType string
	var payloadRaw []byte
	if err := row.Scan(&n.ID, &n.SourceSystem, &n.SourceType, &n.SourceID, &nodeType,
		&n.Title, &n.URL, &payloadRaw, &n.ContentHash, &n.LawbookVersion, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, afu9err.New(afu9err.CodeInternal, "scan timeline node: "+err.Error())
	}
	n.NodeType = NodeType(nodeType)
	if len(payloadRaw) > 0 {
		_ = json.Unmarshal(payloadRaw, &n.PayloadJSON)
	}
	return &n, nil
}
