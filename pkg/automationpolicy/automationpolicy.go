// Package automationpolicy is the admissibility gate every proposed
// side-effect passes through before execution: given an action type,
// target, environment, and approval state, it produces a deterministic
// allow/deny decision while enforcing cooldown windows, rate limits,
// and idempotency. The ordered-checks, first-failure-wins evaluation
// loop and the clock-injectable sliding-window bookkeeping follow the
// connector zero-trust gate's pattern, generalized from a single
// per-minute counter to the policy's configured cooldown/window pair.
package automationpolicy

import (
	"context"
	"time"
)

// Policy is the configured automation rule for one actionType.
type Policy struct {
	Name                   string
	ActionType             string
	AllowedEnvs            []string // empty means "any env is fine"
	RequiresApproval       bool
	CooldownSeconds        int
	WindowSeconds          int
	MaxRunsPerWindow       int
	IdempotencyKeyTemplate string // e.g. "{actionType}:{targetIdentifier}:{env}"
}

// Store resolves the configured Policy for an actionType.
type Store interface {
	PolicyFor(ctx context.Context, actionType string) (*Policy, bool, error)
}

// ExecutionHistory answers the cooldown/rate-limit questions the
// evaluator needs about past allowed executions of (actionType,
// targetIdentifier).
type ExecutionHistory interface {
	// LastAllowedExecution returns the time of the most recent allowed
	// execution, or zero time if there is none.
	LastAllowedExecution(ctx context.Context, actionType, targetIdentifier string) (time.Time, error)
	// CountAllowedExecutionsSince counts allowed executions at or after since.
	CountAllowedExecutionsSince(ctx context.Context, actionType, targetIdentifier string, since time.Time) (int, error)
}

// Request describes a proposed side-effect awaiting admissibility.
type Request struct {
	RequestID        string
	SessionID        string
	ActionType       string
	TargetType       string
	TargetIdentifier string
	ActionContext    map[string]any
	DeploymentEnv    string
	HasApproval      bool
	Actor            string
}

// Response is the admissibility decision plus everything needed to
// persist a PolicyExecutionRecord.
type Response struct {
	Allow              bool
	Decision           string // "allowed" | "denied"
	Reason             string
	NextAllowedAt      *time.Time
	RequiresApproval   bool
	IdempotencyKey     string
	IdempotencyKeyHash string
	ActionFingerprint  string
	PolicyName         string
	LawbookVersion     string
	LawbookHash        string
	EnforcementData    map[string]any
}
