// Package verdict applies a GREEN/HOLD/RED verdict to an Issue's
// current status, advancing it through REVIEW_READY → VERIFIED →
// DONE on success or diverting it to HOLD on failure. It is a thin,
// clock-free policy layer over pkg/issuestore and pkg/statemachine,
// following the same lifecycle-manager shape as the escalation
// manager: load current state, decide the next state, persist,
// always emit the primary event, conditionally emit the follow-on one.
package verdict

import (
	"context"

	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/statemachine"
)

// Verdict is the classifier output being applied to an Issue.
type Verdict string

const (
	Green Verdict = "GREEN"
	Hold  Verdict = "HOLD"
	Red   Verdict = "RED"
)

// Result reports what ApplyVerdict did.
type Result struct {
	Success      bool
	NewStatus    statemachine.LocalStatus
	StateChanged bool
}

// terminalStatuses never transition, regardless of verdict.
var terminalStatuses = map[statemachine.LocalStatus]bool{
	statemachine.StatusDone:   true,
	statemachine.StatusKilled: true,
}

// nextStatus computes the verdict's target LocalStatus, or "" if the
// verdict has no effect on the current status. It defers entirely to
// pkg/statemachine's own transition table rather than re-encoding it,
// so the two packages can never disagree about what a verdict does.
func nextStatus(current statemachine.LocalStatus, v Verdict) statemachine.LocalStatus {
	if terminalStatuses[current] {
		return ""
	}

	switch v {
	case Red, Hold:
		to, _ := statemachine.IsValid(current, "verdictRedOrHold")
		return to
	case Green:
		if to, ok := statemachine.IsValid(current, "verdictGreen"); ok {
			return to
		}
	}
	return ""
}

// ApplyVerdict loads issueID from store, computes the verdict's
// effect, persists the new status if it changed, and emits
// VERDICT_SET (always) and STATE_CHANGED (only on an actual change).
func ApplyVerdict(ctx context.Context, store issuestore.Store, issueID string, v Verdict) (*Result, error) {
	issue, err := store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	target := nextStatus(issue.LocalStatus, v)
	changed := target != "" && target != issue.LocalStatus

	if changed {
		if _, err := store.UpdateLocalStatus(ctx, issueID, target); err != nil {
			return nil, err
		}
	}

	newStatus := issue.LocalStatus
	if changed {
		newStatus = target
	}

	if err := store.AppendEvent(ctx, issueID, "VERDICT_SET", "SYSTEM", map[string]any{
		"verdict":   string(v),
		"newStatus": string(newStatus),
	}); err != nil {
		return nil, err
	}

	if changed {
		if err := store.AppendEvent(ctx, issueID, "STATE_CHANGED", "SYSTEM", map[string]any{
			"from": string(issue.LocalStatus),
			"to":   string(target),
		}); err != nil {
			return nil, err
		}
	}

	return &Result{Success: true, NewStatus: newStatus, StateChanged: changed}, nil
}
