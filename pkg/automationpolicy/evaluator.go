package automationpolicy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afu9/control-center/pkg/canonicalize"
	"github.com/afu9/control-center/pkg/lawbook"
)

// Evaluator runs the ordered admissibility checks against a Store and
// ExecutionHistory, resolving the active lawbook via a
// lawbook.Resolver.
type Evaluator struct {
	policies   Store
	executions ExecutionHistory
	lawbooks   *lawbook.Resolver
	rulebookID string
	clock      func() time.Time
}

// NewEvaluator builds an Evaluator. rulebookID defaults to
// lawbook.DefaultRulebookID when empty.
func NewEvaluator(policies Store, executions ExecutionHistory, lawbooks *lawbook.Resolver, rulebookID string) *Evaluator {
	if rulebookID == "" {
		rulebookID = lawbook.DefaultRulebookID
	}
	return &Evaluator{
		policies:   policies,
		executions: executions,
		lawbooks:   lawbooks,
		rulebookID: rulebookID,
		clock:      time.Now,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

func deny(reason string) *Response {
	return &Response{Allow: false, Decision: "denied", Reason: reason}
}

// Evaluate runs the nine ordered checks, first failure wins.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Response, error) {
	// 1. Load rulebook — fail-closed.
	version, err := e.lawbooks.RequireActive(ctx, e.rulebookID)
	if err != nil {
		resp := deny("No active lawbook configured (fail-closed)")
		return resp, nil
	}
	lawbookHash := canonicalize.HashBytes([]byte(version))

	// 2. Find policy for actionType.
	policy, ok, err := e.policies.PolicyFor(ctx, req.ActionType)
	if err != nil {
		return nil, err
	}
	if !ok {
		resp := deny("No policy defined")
		resp.LawbookVersion = version
		resp.LawbookHash = lawbookHash
		return resp, nil
	}

	fingerprint, err := canonicalize.CanonicalHash(map[string]any{
		"actionType":       req.ActionType,
		"targetIdentifier": req.TargetIdentifier,
		"actionContext":    req.ActionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("automationpolicy: compute fingerprint: %w", err)
	}

	// 3. Validate rate-limit config.
	if policy.WindowSeconds < 0 || policy.MaxRunsPerWindow < 0 || policy.CooldownSeconds < 0 {
		resp := deny("Invalid rate-limit configuration")
		resp.PolicyName = policy.Name
		resp.LawbookVersion, resp.LawbookHash = version, lawbookHash
		resp.ActionFingerprint = fingerprint
		return resp, nil
	}

	// 4. Compute idempotency key.
	idemKey := idempotencyKey(policy, req)
	idemHash := canonicalize.HashBytes([]byte(idemKey))

	base := &Response{
		PolicyName:         policy.Name,
		LawbookVersion:     version,
		LawbookHash:        lawbookHash,
		IdempotencyKey:     idemKey,
		IdempotencyKeyHash: idemHash,
		ActionFingerprint:  fingerprint,
	}

	// 5. Environment check.
	if len(policy.AllowedEnvs) > 0 {
		if req.DeploymentEnv == "" || !contains(policy.AllowedEnvs, req.DeploymentEnv) {
			resp := *base
			resp.Allow, resp.Decision = false, "denied"
			resp.Reason = "Deployment environment not permitted by policy"
			return &resp, nil
		}
	}

	// 6. Approval check.
	if policy.RequiresApproval && !req.HasApproval {
		resp := *base
		resp.Allow, resp.Decision = false, "denied"
		resp.Reason = "Action requires explicit approval - not granted"
		resp.RequiresApproval = true
		resp.NextAllowedAt = nil
		return &resp, nil
	}

	now := e.clock()

	// 7. Cooldown check.
	if policy.CooldownSeconds > 0 {
		last, err := e.executions.LastAllowedExecution(ctx, req.ActionType, req.TargetIdentifier)
		if err != nil {
			return nil, err
		}
		if !last.IsZero() {
			nextAllowed := last.Add(time.Duration(policy.CooldownSeconds) * time.Second)
			if now.Before(nextAllowed) {
				resp := *base
				resp.Allow, resp.Decision = false, "denied"
				resp.Reason = "Action is in cooldown"
				resp.NextAllowedAt = &nextAllowed
				return &resp, nil
			}
		}
	}

	// 8. Rate-limit check.
	if policy.MaxRunsPerWindow > 0 && policy.WindowSeconds > 0 {
		windowStart := now.Add(-time.Duration(policy.WindowSeconds) * time.Second)
		count, err := e.executions.CountAllowedExecutionsSince(ctx, req.ActionType, req.TargetIdentifier, windowStart)
		if err != nil {
			return nil, err
		}
		if count >= policy.MaxRunsPerWindow {
			nextAllowed := now.Add(time.Duration(policy.WindowSeconds) * time.Second)
			resp := *base
			resp.Allow, resp.Decision = false, "denied"
			resp.Reason = "Rate limit exceeded for action/target"
			resp.NextAllowedAt = &nextAllowed
			return &resp, nil
		}
	}

	// 9. Allow.
	resp := *base
	resp.Allow, resp.Decision = true, "allowed"
	resp.Reason = "ok"
	return &resp, nil
}

func idempotencyKey(policy *Policy, req Request) string {
	if policy.IdempotencyKeyTemplate != "" {
		return strings.NewReplacer(
			"{actionType}", req.ActionType,
			"{targetIdentifier}", req.TargetIdentifier,
			"{env}", req.DeploymentEnv,
		).Replace(policy.IdempotencyKeyTemplate)
	}
	return fmt.Sprintf("%s:%s:%s", req.ActionType, req.TargetIdentifier, req.DeploymentEnv)
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
