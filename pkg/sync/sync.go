// Package sync implements the Bidirectional Sync Engine: deterministic,
// idempotent reconciliation between an Issue's LocalStatus and its
// mirrored Forge state. Every audit row's eventHash follows the
// connector zero-trust gate's ComputeProvenanceTag idiom (hash the
// request and response context, not just the payload), bucketed into a
// 5-minute idempotency window.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/canonicalize"
	"github.com/afu9/control-center/pkg/forge"
	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/repoaccess"
	"github.com/afu9/control-center/pkg/statemachine"
)

// ConflictType is the closed set of reasons a sync pass can refuse to
// write.
type ConflictType string

const (
	ConflictStateDivergence    ConflictType = "STATE_DIVERGENCE"
	ConflictTransitionNotAllowed ConflictType = "TRANSITION_NOT_ALLOWED"
	ConflictPreconditionFailed ConflictType = "PRECONDITION_FAILED"
	ConflictEvidenceMissing    ConflictType = "EVIDENCE_MISSING"
	ConflictManualOverrideBlocked ConflictType = "MANUAL_OVERRIDE_BLOCKED"
)

// Conflict is one unresolved SyncConflict row. Conflicts are persisted
// but never auto-resolved.
type Conflict struct {
	ID              string
	IssueID         string
	ConflictType    ConflictType
	Description     string
	ResolvedAt      *time.Time
	ResolutionNotes string
	CreatedAt       time.Time
}

// Direction is which way one AuditEvent moved data.
type Direction string

const (
	DirectionForgeToLocal Direction = "FORGE_TO_LOCAL"
	DirectionLocalToForge Direction = "LOCAL_TO_FORGE"
)

// AuditEvent is one append-only SyncAuditEvent row.
type AuditEvent struct {
	ID               string
	EventType        string
	Direction        Direction
	IssueID          string
	ForgeIssueNumber int
	Timestamp        time.Time
	Payload          map[string]any
	EventHash        string
}

// Store persists audit events and conflicts. CreateAuditEvent must be
// idempotent on EventHash within the bucket window: a duplicate insert
// is swallowed, not an error.
type Store interface {
	CreateAuditEvent(ctx context.Context, ev AuditEvent) (inserted bool, err error)
	CreateConflict(ctx context.Context, c Conflict) (*Conflict, error)
}

// PreconditionChecker validates state-specific preconditions (e.g.
// VERIFIED requires a passed VerificationReport) the bare transition
// table can't express. A nil checker passes every target unconditionally.
type PreconditionChecker interface {
	CheckPrecondition(ctx context.Context, issue *issuestore.Issue, target statemachine.LocalStatus) error
}

// Options configures one SyncForgeToLocal call. The zero value is the
// safe default: dry run, no manual override.
type Options struct {
	DryRun              bool
	AllowManualOverride bool
}

// DefaultOptions returns dry-run-by-default options.
func DefaultOptions() Options {
	return Options{DryRun: true}
}

// Result is what one sync call reports back to its caller.
type Result struct {
	TargetStatus statemachine.LocalStatus
	Written      bool
	Conflict     *Conflict
	DryRun       bool
}

// Engine drives both sync directions.
type Engine struct {
	issues      issuestore.Store
	syncStore   Store
	access      *repoaccess.Policy
	clients     *repoaccess.ClientFactory
	preconds    PreconditionChecker
	clock       func() time.Time
}

// New builds an Engine. preconds may be nil.
func New(issues issuestore.Store, syncStore Store, access *repoaccess.Policy, clients *repoaccess.ClientFactory, preconds PreconditionChecker) *Engine {
	return &Engine{issues: issues, syncStore: syncStore, access: access, clients: clients, preconds: preconds, clock: time.Now}
}

// WithClock overrides the clock used for event timestamps and the
// 5-minute idempotency bucket.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// projectStatusLabels maps an explicit project-board label onto the
// LocalStatus it implies, per the status-label mapping.
var projectStatusLabels = map[string]statemachine.LocalStatus{
	"status:spec-ready":   statemachine.StatusSpecReady,
	"status:implementing": statemachine.StatusImplementing,
	"status:review-ready": statemachine.StatusReviewReady,
	"status:verified":     statemachine.StatusVerified,
	"status:merge-ready":  statemachine.StatusMergeReady,
	"status:done":         statemachine.StatusDone,
	"status:hold":         statemachine.StatusHold,
}

// determineTargetStatus implements the priority-ordered rule from
// Precedence: merged PR beats check/review state, which beats explicit
// status labels.
func determineTargetStatus(pr *forge.PullRequest, reviews []forge.Review, checks []forge.CheckRun) (statemachine.LocalStatus, bool) {
	if pr.Merged {
		return statemachine.StatusDone, true
	}

	if pr.State == "open" {
		allRequiredPassed := true
		anyPending := false
		for _, c := range checks {
			if !c.Required {
				continue
			}
			if c.Status != "completed" {
				anyPending = true
				continue
			}
			if c.Conclusion != "success" {
				allRequiredPassed = false
			}
		}

		approved := false
		changesRequested := false
		for _, r := range reviews {
			switch r.State {
			case "APPROVED":
				approved = true
			case "CHANGES_REQUESTED":
				changesRequested = true
			}
		}

		if allRequiredPassed && !anyPending && approved && !changesRequested {
			return statemachine.StatusMergeReady, true
		}
		if anyPending {
			return statemachine.StatusImplementing, true
		}
		if len(reviews) > 0 {
			return statemachine.StatusReviewReady, true
		}
	}

	for _, label := range pr.Labels {
		if target, ok := projectStatusLabels[label]; ok {
			return target, true
		}
	}

	return "", false
}

func (e *Engine) bucketedEventHash(eventType, issueID string, forgeIssueNumber int, at time.Time, payload map[string]any) (string, error) {
	bucket := at.Unix() / 300
	canon, err := canonicalize.JCSString(payload)
	if err != nil {
		return "", afu9err.New(afu9err.CodeInvalidInput, "canonicalize sync payload: "+err.Error())
	}
	raw := fmt.Sprintf("%s|%s|%d|%d|%s", eventType, issueID, forgeIssueNumber, bucket, canon)
	return canonicalize.HashBytes([]byte(raw)), nil
}

func (e *Engine) recordAudit(ctx context.Context, eventType string, dir Direction, issueID string, forgeIssueNumber int, payload map[string]any) error {
	now := e.clock().UTC()
	hash, err := e.bucketedEventHash(eventType, issueID, forgeIssueNumber, now, payload)
	if err != nil {
		return err
	}
	_, err = e.syncStore.CreateAuditEvent(ctx, AuditEvent{
		EventType: eventType, Direction: dir, IssueID: issueID, ForgeIssueNumber: forgeIssueNumber,
		Timestamp: now, Payload: payload, EventHash: hash,
	})
	return err
}

// SyncForgeToLocal implements the Forge→Local sync direction.
func (e *Engine) SyncForgeToLocal(ctx context.Context, issueID, owner, repo string, forgeIssueNumber int, opts Options) (*Result, error) {
	issue, err := e.issues.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	client, err := e.access.WithAuthenticatedClient(ctx, e.clients, owner, repo, "", "")
	if err != nil {
		return nil, err
	}

	pr, err := client.GetPullRequest(ctx, owner, repo, forgeIssueNumber)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeUnavailable, "fetch pull request: "+err.Error())
	}
	reviews, err := client.ListReviews(ctx, owner, repo, forgeIssueNumber)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeUnavailable, "fetch reviews: "+err.Error())
	}
	checks, err := client.ListCheckRuns(ctx, owner, repo, forgeIssueNumber)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeUnavailable, "fetch check runs: "+err.Error())
	}

	target, ok := determineTargetStatus(pr, reviews, checks)
	if !ok {
		return &Result{DryRun: opts.DryRun}, nil
	}

	payload := map[string]any{
		"prNumber": forgeIssueNumber, "prState": pr.State, "merged": pr.Merged,
		"targetStatus": string(target), "currentStatus": string(issue.LocalStatus),
	}

	if !statemachine.IsValidTransition(issue.LocalStatus, target) {
		conflict, err := e.createConflict(ctx, issue.ID, ConflictTransitionNotAllowed,
			fmt.Sprintf("forge sync proposed %s -> %s, not a valid transition", issue.LocalStatus, target))
		if err != nil {
			return nil, err
		}
		if err := e.recordAudit(ctx, "TRANSITION_NOT_ALLOWED", DirectionForgeToLocal, issue.ID, forgeIssueNumber, payload); err != nil {
			return nil, err
		}
		return &Result{TargetStatus: target, Conflict: conflict, DryRun: opts.DryRun}, nil
	}

	if e.preconds != nil {
		if err := e.preconds.CheckPrecondition(ctx, issue, target); err != nil {
			conflictType := ConflictPreconditionFailed
			if aerr, ok := err.(*afu9err.Error); ok && aerr.Code == afu9err.CodeEvidenceMissing {
				conflictType = ConflictEvidenceMissing
			}
			conflict, cerr := e.createConflict(ctx, issue.ID, conflictType, err.Error())
			if cerr != nil {
				return nil, cerr
			}
			if aerr := e.recordAudit(ctx, string(conflictType), DirectionForgeToLocal, issue.ID, forgeIssueNumber, payload); aerr != nil {
				return nil, aerr
			}
			return &Result{TargetStatus: target, Conflict: conflict, DryRun: opts.DryRun}, nil
		}
	}

	if issue.ExecutionOverride && !opts.AllowManualOverride {
		conflict, err := e.createConflict(ctx, issue.ID, ConflictManualOverrideBlocked,
			"issue has executionOverride set; sync requires allowManualOverride")
		if err != nil {
			return nil, err
		}
		if err := e.recordAudit(ctx, "MANUAL_OVERRIDE_BLOCKED", DirectionForgeToLocal, issue.ID, forgeIssueNumber, payload); err != nil {
			return nil, err
		}
		return &Result{TargetStatus: target, Conflict: conflict, DryRun: opts.DryRun}, nil
	}

	if opts.DryRun {
		if err := e.recordAudit(ctx, "STATE_CHANGED", DirectionForgeToLocal, issue.ID, forgeIssueNumber, payload); err != nil {
			return nil, err
		}
		return &Result{TargetStatus: target, DryRun: true}, nil
	}

	if _, err := e.issues.UpdateLocalStatus(ctx, issue.ID, target); err != nil {
		return nil, err
	}
	if err := e.issues.AppendEvent(ctx, issue.ID, "STATE_CHANGED", "SYSTEM", payload); err != nil {
		return nil, err
	}
	if err := e.recordAudit(ctx, "STATE_CHANGED", DirectionForgeToLocal, issue.ID, forgeIssueNumber, payload); err != nil {
		return nil, err
	}

	return &Result{TargetStatus: target, Written: true, DryRun: false}, nil
}

func (e *Engine) createConflict(ctx context.Context, issueID string, conflictType ConflictType, description string) (*Conflict, error) {
	return e.syncStore.CreateConflict(ctx, Conflict{IssueID: issueID, ConflictType: conflictType, Description: description})
}

// localStatusLabels is the inverse of projectStatusLabels, used to
// compute the label set SyncLocalToForge writes back.
var localStatusLabels = func() map[statemachine.LocalStatus]string {
	m := make(map[statemachine.LocalStatus]string, len(projectStatusLabels))
	for label, status := range projectStatusLabels {
		m[status] = label
	}
	return m
}()

// SyncLocalToForge implements the Local→Forge sync direction: compute the
// label implied by the current LocalStatus, diff against the Forge's
// current labels, and write the delta.
func (e *Engine) SyncLocalToForge(ctx context.Context, issueID, owner, repo string, forgeIssueNumber int) error {
	issue, err := e.issues.GetIssue(ctx, issueID)
	if err != nil {
		return err
	}

	wantLabel, ok := localStatusLabels[issue.LocalStatus]
	if !ok {
		return nil
	}

	client, err := e.access.WithAuthenticatedClient(ctx, e.clients, owner, repo, "", "")
	if err != nil {
		return err
	}

	current, err := client.ListLabels(ctx, owner, repo, forgeIssueNumber)
	if err != nil {
		return afu9err.New(afu9err.CodeUnavailable, "list labels: "+err.Error())
	}

	var add, remove []string
	hasWant := false
	for _, label := range current {
		if label == wantLabel {
			hasWant = true
			continue
		}
		if _, isStatusLabel := statusLabelSet()[label]; isStatusLabel {
			remove = append(remove, label)
		}
	}
	if !hasWant {
		add = append(add, wantLabel)
	}

	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	if err := client.ApplyLabelDelta(ctx, owner, repo, forgeIssueNumber, add, remove); err != nil {
		return afu9err.New(afu9err.CodeUnavailable, "apply label delta: "+err.Error())
	}

	return e.recordAudit(ctx, "LABELS_APPLIED", DirectionLocalToForge, issue.ID, forgeIssueNumber, map[string]any{
		"add": add, "remove": remove, "localStatus": string(issue.LocalStatus),
	})
}

func statusLabelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(projectStatusLabels))
	for label := range projectStatusLabels {
		set[label] = struct{}{}
	}
	return set
}
