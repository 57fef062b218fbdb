// Package forge defines the narrow contract the control plane uses to
// talk to the external issue-and-PR host. It is deliberately thin: the
// Forge is treated as an external collaborator, and this package only
// enumerates the operations the sync engine and evidence ingestors
// actually need. Every call is expected to be routed through
// pkg/repoaccess first — this package never performs its own
// allowlist check.
package forge

import (
	"context"
	"time"
)

// PullRequest is the subset of PR state the sync engine reasons about.
type PullRequest struct {
	Number      int
	URL         string
	State       string // "open" | "closed"
	Merged      bool
	MergedAt    *time.Time
	HeadBranch  string
	BaseBranch  string
	Labels      []string
	ProjectStatus string // explicit project-board column, if any
}

// Review is one PR review.
type Review struct {
	ID    string
	State string // "APPROVED" | "CHANGES_REQUESTED" | "COMMENTED" | "PENDING"
}

// CheckRun is one CI/status check attached to a PR's head commit.
type CheckRun struct {
	Name       string
	Status     string // "queued" | "in_progress" | "completed"
	Conclusion string // "success" | "failure" | "neutral" | ... ("" if not completed)
	Required   bool
}

// Issue is the subset of the Forge-side issue state the sync engine
// reads when deriving ForgeMirrorStatus from labels/issue.state.
type Issue struct {
	Number int
	State  string // "open" | "closed"
	Labels []string
}

// Client is the full set of Forge operations the control plane
// consumes. Implementations MUST NOT be constructed directly — callers
// go through pkg/repoaccess.WithAuthenticatedClient, which performs
// the admissibility check before minting a token.
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	ListCheckRuns(ctx context.Context, owner, repo string, number int) ([]CheckRun, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
	ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error)
	// ApplyLabelDelta adds `add` and removes `remove` from the target
	// issue/PR's label set. Implementations should no-op gracefully on
	// a label that's already present/absent.
	ApplyLabelDelta(ctx context.Context, owner, repo string, number int, add, remove []string) error
}

// TokenMinter exchanges app credentials for a short-lived installation
// token scoped to one repo. Implementations talk to the Forge's own
// app-auth endpoint; this package only defines the shape.
type TokenMinter interface {
	InstallationToken(ctx context.Context, owner, repo string) (token string, expiresAt time.Time, err error)
}
