package sideeffect_test

import (
	"context"
	"testing"
	"time"

	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/sideeffect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	descs          []sideeffect.ServiceDescription
	call           int
	forceNewCalled bool
	forceNewErr    error
}

func (f *fakeOrchestrator) DescribeService(_ context.Context, _, _ string) (*sideeffect.ServiceDescription, error) {
	d := f.descs[f.call]
	if f.call < len(f.descs)-1 {
		f.call++
	}
	return &d, nil
}

func (f *fakeOrchestrator) ForceNewDeployment(_ context.Context, _, _ string) error {
	f.forceNewCalled = true
	return f.forceNewErr
}

type fakeGate struct {
	allow  bool
	reason string
}

func (g fakeGate) Evaluate(_ context.Context, req automationpolicy.Request) (*automationpolicy.Response, error) {
	if g.allow {
		return &automationpolicy.Response{Allow: true, Decision: "allowed"}, nil
	}
	return &automationpolicy.Response{Allow: false, Decision: "denied", Reason: g.reason}, nil
}

func TestPollServiceStability_ZeroMaxWaitTimesOutImmediately(t *testing.T) {
	orch := &fakeOrchestrator{descs: []sideeffect.ServiceDescription{
		{RunningCount: 0, DesiredCount: 2, Deployments: []sideeffect.Deployment{{Status: "ACTIVE"}}},
		{RunningCount: 2, DesiredCount: 2, Deployments: []sideeffect.Deployment{{Status: "PRIMARY"}}},
	}}
	a := sideeffect.New(orch, fakeGate{allow: true})

	start := time.Now()
	result, err := a.PollServiceStability(context.Background(), "cluster", "svc", 0, 5)
	require.NoError(t, err)
	assert.False(t, result.Stable)
	assert.Equal(t, "TIMEOUT", result.Error)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, orch.call, "describeService must not be called when maxWaitSeconds is 0")
}

func TestPollServiceStability_BecomesStableWithinWindow(t *testing.T) {
	orch := &fakeOrchestrator{descs: []sideeffect.ServiceDescription{
		{RunningCount: 1, DesiredCount: 2, Deployments: []sideeffect.Deployment{{Status: "PRIMARY"}, {Status: "ACTIVE"}}},
		{RunningCount: 2, DesiredCount: 2, Deployments: []sideeffect.Deployment{{Status: "PRIMARY"}}},
	}}
	a := sideeffect.New(orch, fakeGate{allow: true})

	result, err := a.PollServiceStability(context.Background(), "cluster", "svc", 5, 1)
	require.NoError(t, err)
	assert.True(t, result.Stable)
	assert.Empty(t, result.Error)
}

func TestPollServiceStability_TimesOutWhenNeverStable(t *testing.T) {
	orch := &fakeOrchestrator{descs: []sideeffect.ServiceDescription{
		{RunningCount: 0, DesiredCount: 3, Deployments: []sideeffect.Deployment{{Status: "REACTIVATING"}}},
	}}
	a := sideeffect.New(orch, fakeGate{allow: true})

	result, err := a.PollServiceStability(context.Background(), "cluster", "svc", 1, 1)
	require.NoError(t, err)
	assert.False(t, result.Stable)
	assert.Equal(t, "TIMEOUT", result.Error)
}

func TestPollServiceStability_RespectsContextCancellation(t *testing.T) {
	orch := &fakeOrchestrator{descs: []sideeffect.ServiceDescription{
		{RunningCount: 0, DesiredCount: 3, Deployments: []sideeffect.Deployment{{Status: "REACTIVATING"}}},
	}}
	a := sideeffect.New(orch, fakeGate{allow: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.PollServiceStability(ctx, "cluster", "svc", 30, 10)
	require.Error(t, err)
}

func TestForceNewDeployment_DeniedWhenGateRefuses(t *testing.T) {
	orch := &fakeOrchestrator{}
	a := sideeffect.New(orch, fakeGate{allow: false, reason: "no policy defined"})

	err := a.ForceNewDeployment(context.Background(), "cluster", "svc")
	require.Error(t, err)
	assert.False(t, orch.forceNewCalled)
}

func TestForceNewDeployment_CallsThroughWhenAllowed(t *testing.T) {
	orch := &fakeOrchestrator{}
	a := sideeffect.New(orch, fakeGate{allow: true})

	err := a.ForceNewDeployment(context.Background(), "cluster", "svc")
	require.NoError(t, err)
	assert.True(t, orch.forceNewCalled)
}

func TestForceNewDeployment_DeniedWhenGateMissing(t *testing.T) {
	orch := &fakeOrchestrator{}
	a := sideeffect.New(orch, nil)

	err := a.ForceNewDeployment(context.Background(), "cluster", "svc")
	require.Error(t, err)
	assert.False(t, orch.forceNewCalled)
}
