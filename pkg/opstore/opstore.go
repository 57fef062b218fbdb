// Package opstore persists the operational entities evidence
// ingestion reads from: Runs/RunSteps/RunArtifacts, DeployEvents (and
// their computed DeployStatusSnapshots), Verdicts, and
// VerificationReports. It implements pkg/evidenceingest.Source so the
// ingestors can project these rows into the Timeline graph, following
// the registry package's read-model-then-project split.
package opstore

import (
	"context"
	"time"
)

// RunStep is one ordered step of a Run.
type RunStep struct {
	Idx         int
	Status      string
	ExitCode    int
	DurationMs  int64
	StdoutTail  string
	StderrTail  string
}

// RunArtifact is one produced artifact of a Run.
type RunArtifact struct {
	SHA256 string
	Bytes  int64
	Kind   string
	URL    string
}

// Run groups ordered Steps and produced Artifacts.
type Run struct {
	ID        string
	IssueID   string
	ForgeRepo string
	PRNumber  int
	Title     string
	URL       string
	Steps     []RunStep
	Artifacts []RunArtifact
	CreatedAt time.Time
}

// DeployEvent is never mutated after insertion.
type DeployEvent struct {
	ID         string
	RunID      string
	Env        string
	Service    string
	Version    string
	CommitHash string
	Status     string
	Message    string
	CreatedAt  time.Time
}

// SnapshotStatus is the closed set of deploy health classifications.
type SnapshotStatus string

const (
	SnapshotGreen  SnapshotStatus = "GREEN"
	SnapshotYellow SnapshotStatus = "YELLOW"
	SnapshotRed    SnapshotStatus = "RED"
)

// Reason is one contributing factor to a DeployStatusSnapshot.
type Reason struct {
	Code     string
	Severity string
	Message  string
	Evidence map[string]any
}

// DeployStatusSnapshot is the periodically computed, short-TTL cached
// health read for one environment.
type DeployStatusSnapshot struct {
	Env           string
	Status        SnapshotStatus
	Reasons       []Reason
	Signals       map[string]any
	ObservedAt    time.Time
	CorrelationID string
}

// PolicySnapshot is the immutable rulebook version in effect when a
// Verdict was rendered.
type PolicySnapshot struct {
	ID      string
	Version string
}

// Verdict is the classifier's GREEN/HOLD/RED decision plus its
// supporting evidence, distinct from pkg/verdict.ApplyVerdict (which
// only consumes the already-decided Verdict value to move an Issue).
type Verdict struct {
	ID               string
	DeployID         string
	ExecutionID      string
	PolicySnapshotID string
	FingerprintID    string
	ErrorClass       string
	Service          string
	ConfidenceScore  int
	ProposedAction   string
	Tokens           []string
	Signals          map[string]any
	CreatedAt        time.Time
}

// VerificationReport is the pass/fail/unknown outcome of a
// verification run against an Issue.
type VerificationReport struct {
	ID      string
	IssueID string
	Result  string // PASS | FAIL | UNKNOWN
	Title   string
	URL     string
	Payload map[string]any
}

// Store is the operational persistence contract.
type Store interface {
	CreateRun(ctx context.Context, run Run) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	CreateDeployEvent(ctx context.Context, ev DeployEvent) (*DeployEvent, error)
	GetDeploy(ctx context.Context, id string) (*DeployEvent, error)
	LatestDeploysForEnv(ctx context.Context, env string, limit int) ([]*DeployEvent, error)
	CachedSnapshot(ctx context.Context, env string, ttl time.Duration) (*DeployStatusSnapshot, bool, error)
	StoreSnapshot(ctx context.Context, snap DeployStatusSnapshot) error
	CreateVerdict(ctx context.Context, v Verdict) (*Verdict, error)
	GetVerdict(ctx context.Context, id string) (*Verdict, error)
	GetPolicySnapshot(ctx context.Context, id string) (*PolicySnapshot, error)
	CreateVerificationReport(ctx context.Context, r VerificationReport) (*VerificationReport, error)
	GetVerificationReport(ctx context.Context, id string) (*VerificationReport, error)
}

// ComputeDeployStatus is a pure, deterministic function of the most
// recent deploy event for an environment — no heuristic
// classification at runtime. Only events[0] is classified: FAILED
// gives RED, IN_PROGRESS gives YELLOW, any other status GREEN. With no
// events at all the status is YELLOW (reason NO_DEPLOYS).
func ComputeDeployStatus(env string, events []*DeployEvent, observedAt time.Time) DeployStatusSnapshot {
	snap := DeployStatusSnapshot{Env: env, Status: SnapshotGreen, Signals: map[string]any{}, ObservedAt: observedAt}
	if len(events) == 0 {
		snap.Status = SnapshotYellow
		snap.Reasons = append(snap.Reasons, Reason{Code: "NO_DEPLOYS", Severity: "info", Message: "no deploy events recorded for " + env})
		return snap
	}

	latest := events[0]
	snap.Signals["latestVersion"] = latest.Version
	snap.Signals["latestService"] = latest.Service

	switch latest.Status {
	case "FAILED":
		snap.Status = SnapshotRed
		snap.Reasons = append(snap.Reasons, Reason{
			Code: "LATEST_DEPLOY_FAILED", Severity: "critical", Message: latest.Message,
			Evidence: map[string]any{"deployId": latest.ID, "commitHash": latest.CommitHash},
		})
	case "IN_PROGRESS":
		snap.Status = SnapshotYellow
		snap.Reasons = append(snap.Reasons, Reason{
			Code: "DEPLOY_IN_PROGRESS", Severity: "warning", Message: "deploy in progress",
			Evidence: map[string]any{"deployId": latest.ID},
		})
	default:
		snap.Reasons = append(snap.Reasons, Reason{
			Code: "LATEST_DEPLOY_OK", Severity: "info", Message: latest.Status,
			Evidence: map[string]any{"deployId": latest.ID},
		})
	}
	return snap
}
