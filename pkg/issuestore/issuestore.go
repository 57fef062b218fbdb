// Package issuestore persists Issues and their append-only event log.
// It owns the single-active invariant both at the storage layer
// (a partial unique index on local_status = 'ACTIVE') and as an
// application-level pre-flight check inside ActivateIssue's
// compare-and-set transaction, following the same
// belt-and-suspenders pattern common to upsert paths guarding a
// single-row invariant.
package issuestore

import (
	"context"
	"time"

	"github.com/afu9/control-center/pkg/statemachine"
)

// MaxListLimit is the hard ceiling on ListIssues pagination.
const MaxListLimit = 500

// Issue is the full row shape for an Issue entity.
type Issue struct {
	ID                uuid
	PublicID          string
	CanonicalID       string
	LocalStatus       statemachine.LocalStatus
	ForgeMirrorStatus statemachine.ForgeMirrorStatus
	ExecutionState    statemachine.ExecutionState
	Priority          string // P0, P1, P2
	Labels            []string
	Scope             string
	AcceptanceCriteria []string
	Notes             string
	ForgeRepo         string
	ForgeIssueNumber  int
	ForgeURL          string
	PRNumber          int
	PRURL             string
	LawbookVersion    string
	ExecutionOverride bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// uuid is a thin alias kept local to this package so callers don't
// need to import google/uuid just to reference Issue.ID's type.
type uuid = string

// Draft is the input to CreateIssue.
type Draft struct {
	PublicID           string
	CanonicalID        string
	Priority           string
	Labels             []string
	Scope              string
	AcceptanceCriteria []string
	Notes              string
	ForgeRepo          string
	ForgeIssueNumber   int
}

// Event is one append-only row in the Issue's event log.
type Event struct {
	ID          int64
	IssueID     string
	EventType   string // CREATED | STATUS_CHANGED | HANDOFF_STATE_CHANGED | VERDICT_SET | ...
	Actor       string // "SYSTEM" or a human id
	PayloadJSON map[string]any
	CreatedAt   time.Time
}

// Filter narrows ListIssues; zero values are "no filter" for that field.
type Filter struct {
	LocalStatus statemachine.LocalStatus
	ForgeRepo   string
	Priority    string
	Offset      int
	Limit       int
}

// Store is the Issue persistence contract.
type Store interface {
	CreateIssue(ctx context.Context, draft Draft) (*Issue, error)
	PatchIssue(ctx context.Context, id string, fields map[string]any) (*Issue, error)
	// ActivateIssue atomically deactivates whatever Issue is currently
	// ACTIVE (if any) and activates id, in one transaction.
	ActivateIssue(ctx context.Context, id string) (*Issue, error)
	ListIssues(ctx context.Context, filter Filter) ([]*Issue, error)
	GetIssueEvents(ctx context.Context, id string, limit int) ([]*Event, error)
	GetForHandoff(ctx context.Context, id string) (*Issue, error)
	GetIssue(ctx context.Context, id string) (*Issue, error)
	// UpdateLocalStatus writes a new local_status for id. Implementations
	// enforce statemachine.IsValidTransition against the row's current
	// status themselves — callers are expected to pre-check too, for a
	// better error before any write is attempted, but the store never
	// trusts that pre-check alone.
	UpdateLocalStatus(ctx context.Context, id string, status statemachine.LocalStatus) (*Issue, error)
	// AppendEvent inserts one explicit IssueEvent row, for business
	// events (VERDICT_SET, SYNC_CONFLICT, ...) the column-change
	// triggers don't already synthesize.
	AppendEvent(ctx context.Context, issueID, eventType, actor string, payload map[string]any) error
}
