// Package sideeffect adapts a narrow container-orchestrator contract
// (describeService/forceNewDeployment/pollServiceStability), gating
// every call behind pkg/automationpolicy the same way a perimeter
// enforcer clears tool constraints before a tool call proceeds: deny
// by default, allow only on an explicit Evaluate
// pass. The bounded poll loop is grounded on the connector/escalation
// packages' ctx.Err()-driven, time.After-free polling idiom so
// cancellation always wins over a pending tick.
package sideeffect

import (
	"context"
	"database/sql"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/lawbook"
)

// Deployment is one entry in a service's deployment list.
type Deployment struct {
	Status string // e.g. "PRIMARY" | "ACTIVE" | "REACTIVATING"
}

// ServiceDescription is the orchestrator's describeService response.
type ServiceDescription struct {
	RunningCount int
	DesiredCount int
	Deployments  []Deployment
}

// Orchestrator is the narrow SDK contract this package is allowed to
// depend on (the orchestrator SDK itself is out of scope here).
type Orchestrator interface {
	DescribeService(ctx context.Context, cluster, service string) (*ServiceDescription, error)
	ForceNewDeployment(ctx context.Context, cluster, service string) error
}

// StabilityResult is pollServiceStability's outcome.
type StabilityResult struct {
	Stable bool
	Error  string // "" | "TIMEOUT"
}

// stableDeploymentStatuses is the closed set of deployment statuses a
// single deployment must be in for the service to be considered stable.
var stableDeploymentStatuses = map[string]bool{"PRIMARY": true, "ACTIVE": true}

// isStable reports whether desc is stable: runningCount ==
// desiredCount, exactly one deployment, and that deployment's status
// is PRIMARY or ACTIVE.
func isStable(desc *ServiceDescription) bool {
	if desc.RunningCount != desc.DesiredCount {
		return false
	}
	if len(desc.Deployments) != 1 {
		return false
	}
	return stableDeploymentStatuses[desc.Deployments[0].Status]
}

// PolicyGate is the admissibility check every side effect passes
// through before execution. automationpolicy.EvaluateAndRecord
// (transactional, Postgres-backed) satisfies this via a thin wrapper
// at the wiring site; tests substitute a fake.
type PolicyGate interface {
	Evaluate(ctx context.Context, req automationpolicy.Request) (*automationpolicy.Response, error)
}

// Adapter gates Orchestrator calls behind a PolicyGate, mirroring
// perimeter.go's CheckTool: deny unless the gate explicitly allows.
type Adapter struct {
	orchestrator Orchestrator
	gate         PolicyGate
}

// New builds an Adapter.
func New(orchestrator Orchestrator, gate PolicyGate) *Adapter {
	return &Adapter{orchestrator: orchestrator, gate: gate}
}

// PostgresPolicyGate adapts automationpolicy.EvaluateAndRecord's
// transactional, persisted evaluation to the PolicyGate interface, for
// wiring a real Adapter at the cmd/ composition root.
type PostgresPolicyGate struct {
	DB         *sql.DB
	Policies   automationpolicy.Store
	Lawbooks   *lawbook.Resolver
	RulebookID string
}

func (g *PostgresPolicyGate) Evaluate(ctx context.Context, req automationpolicy.Request) (*automationpolicy.Response, error) {
	return automationpolicy.EvaluateAndRecord(ctx, g.DB, g.Policies, g.Lawbooks, g.RulebookID, req)
}

func (a *Adapter) checkAllowed(ctx context.Context, actionType, target string) error {
	if a.gate == nil {
		return afu9err.New(afu9err.CodeTargetNotAllowed, "side effect denied: no policy gate configured")
	}
	resp, err := a.gate.Evaluate(ctx, automationpolicy.Request{
		ActionType: actionType, TargetType: "service", TargetIdentifier: target,
	})
	if err != nil {
		return err
	}
	if !resp.Allow {
		return afu9err.New(afu9err.CodeTargetNotAllowed, "side effect denied: "+resp.Reason)
	}
	return nil
}

// DescribeService is read-only and is not policy-gated; it is the
// input pollServiceStability and callers use to decide whether a
// force-new-deployment is warranted.
func (a *Adapter) DescribeService(ctx context.Context, cluster, service string) (*ServiceDescription, error) {
	return a.orchestrator.DescribeService(ctx, cluster, service)
}

// ForceNewDeployment clears the Automation Policy Evaluator for
// "force_new_deployment" against the target service before calling
// through to the orchestrator.
func (a *Adapter) ForceNewDeployment(ctx context.Context, cluster, service string) error {
	if err := a.checkAllowed(ctx, "force_new_deployment", cluster+"/"+service); err != nil {
		return err
	}
	return a.orchestrator.ForceNewDeployment(ctx, cluster, service)
}

// PollServiceStability polls DescribeService on checkIntervalSeconds
// until the service is stable or maxWaitSeconds elapses, whichever
// comes first. It never blocks past ctx's cancellation: a timer tick
// and ctx.Done() race in the same select, so the caller's deadline
// always wins over a pending poll. maxWaitSeconds = 0 returns a
// TIMEOUT result immediately, per B4.
func (a *Adapter) PollServiceStability(ctx context.Context, cluster, service string, maxWaitSeconds, checkIntervalSeconds int) (*StabilityResult, error) {
	if maxWaitSeconds <= 0 {
		return &StabilityResult{Stable: false, Error: "TIMEOUT"}, nil
	}
	if checkIntervalSeconds <= 0 {
		checkIntervalSeconds = 5
	}

	deadline := time.Now().Add(time.Duration(maxWaitSeconds) * time.Second)
	interval := time.Duration(checkIntervalSeconds) * time.Second

	for {
		desc, err := a.orchestrator.DescribeService(ctx, cluster, service)
		if err != nil {
			return nil, err
		}
		if isStable(desc) {
			return &StabilityResult{Stable: true}, nil
		}
		if time.Now().After(deadline) {
			return &StabilityResult{Stable: false, Error: "TIMEOUT"}, nil
		}

		remaining := time.Until(deadline)
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
