package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/statemachine"
)

// SweepTarget names one Issue the sweep should reconcile, plus the
// Forge coordinates SyncForgeToLocal needs.
type SweepTarget struct {
	IssueID          string
	Owner            string
	Repo             string
	ForgeIssueNumber int
}

// SweepResult aggregates one sweep run's outcome.
type SweepResult struct {
	SyncedIssues       int
	FailedIssues       int
	ConflictsDetected  int
	TransitionsBlocked int
}

// openStatuses is every LocalStatus the sweep considers "open" and
// therefore worth reconciling; DONE/KILLED/HOLD issues are skipped.
var openStatuses = map[statemachine.LocalStatus]bool{
	statemachine.StatusCreated:          true,
	statemachine.StatusSpecReady:        true,
	statemachine.StatusActive:           true,
	statemachine.StatusImplementingPrep: true,
	statemachine.StatusImplementing:     true,
	statemachine.StatusReviewReady:      true,
	statemachine.StatusVerified:         true,
	statemachine.StatusMergeReady:       true,
}

// Runner periodically sweeps all open Issues through SyncForgeToLocal.
// Per-issue failures never abort the sweep: this runs at-least-once
// and isolates failures per issue.
type Runner struct {
	engine              *Engine
	issues              issuestore.Store
	MaxConcurrentIssues int
	Options             Options
}

// NewRunner builds a Runner with a sane default fan-out.
func NewRunner(engine *Engine, issues issuestore.Store) *Runner {
	return &Runner{engine: engine, issues: issues, MaxConcurrentIssues: 8, Options: DefaultOptions()}
}

// SweepOnce reconciles every currently-open Issue once. targets
// supplies the Forge coordinates (owner/repo/PR number) for each open
// Issue — the sweep driver (an HTTP handler or cron job) is expected
// to have already resolved these from the Issue's stored ForgeRepo/
// PRNumber fields before calling in.
func (r *Runner) SweepOnce(ctx context.Context, targets []SweepTarget) SweepResult {
	var result SweepResult
	resultsCh := make(chan *Result, len(targets))
	errCh := make(chan error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.MaxConcurrentIssues))

	for _, t := range targets {
		t := t
		g.Go(func() error {
			issue, err := r.issues.GetIssue(gctx, t.IssueID)
			if err != nil {
				errCh <- err
				return nil
			}
			if !openStatuses[issue.LocalStatus] {
				return nil // not an open Issue: skipped
			}
			res, err := r.engine.SyncForgeToLocal(gctx, t.IssueID, t.Owner, t.Repo, t.ForgeIssueNumber, r.Options)
			if err != nil {
				errCh <- err
				return nil // per-issue failures do not abort the sweep
			}
			resultsCh <- res
			return nil
		})
	}

	_ = g.Wait()
	close(resultsCh)
	close(errCh)

	for range errCh {
		result.FailedIssues++
	}
	for res := range resultsCh {
		result.SyncedIssues++
		if res.Conflict != nil {
			result.ConflictsDetected++
			if res.Conflict.ConflictType == ConflictTransitionNotAllowed {
				result.TransitionsBlocked++
			}
		}
	}

	return result
}
