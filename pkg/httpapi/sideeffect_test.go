package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/config"
	"github.com/afu9/control-center/pkg/sideeffect"
)

type fakeOrchestrator struct {
	desc      *sideeffect.ServiceDescription
	forceErr  error
	forceCall int
}

func (f *fakeOrchestrator) DescribeService(_ context.Context, _, _ string) (*sideeffect.ServiceDescription, error) {
	return f.desc, nil
}

func (f *fakeOrchestrator) ForceNewDeployment(_ context.Context, _, _ string) error {
	f.forceCall++
	return f.forceErr
}

type fakeGate struct{ allow bool }

func (g *fakeGate) Evaluate(_ context.Context, _ automationpolicy.Request) (*automationpolicy.Response, error) {
	return &automationpolicy.Response{Allow: g.allow, Reason: "test"}, nil
}

func TestHandleForceDeploy_DisabledByConfig(t *testing.T) {
	orch := &fakeOrchestrator{}
	s := &Server{
		Cfg:         &config.Config{ForceNewDeployEnabled: false},
		SideEffects: sideeffect.New(orch, &fakeGate{allow: true}),
	}
	body, _ := json.Marshal(map[string]string{"cluster": "c", "service": "svc"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/force", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleForceDeploy(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if orch.forceCall != 0 {
		t.Fatalf("orchestrator should not be called when the flag is off")
	}
}

func TestHandleForceDeploy_AllowedCallsThrough(t *testing.T) {
	orch := &fakeOrchestrator{}
	s := &Server{
		Cfg:         &config.Config{ForceNewDeployEnabled: true},
		SideEffects: sideeffect.New(orch, &fakeGate{allow: true}),
	}
	body, _ := json.Marshal(map[string]string{"cluster": "c", "service": "svc"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/force", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleForceDeploy(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if orch.forceCall != 1 {
		t.Fatalf("orchestrator.ForceNewDeployment call count = %d, want 1", orch.forceCall)
	}
}

func TestHandleForceDeploy_PolicyDenied(t *testing.T) {
	orch := &fakeOrchestrator{}
	s := &Server{
		Cfg:         &config.Config{ForceNewDeployEnabled: true},
		SideEffects: sideeffect.New(orch, &fakeGate{allow: false}),
	}
	body, _ := json.Marshal(map[string]string{"cluster": "c", "service": "svc"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/force", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleForceDeploy(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if orch.forceCall != 0 {
		t.Fatalf("orchestrator should not be called when the policy gate denies")
	}
}

func TestHandleForceDeploy_MissingFields(t *testing.T) {
	s := &Server{
		Cfg:         &config.Config{ForceNewDeployEnabled: true},
		SideEffects: sideeffect.New(&fakeOrchestrator{}, &fakeGate{allow: true}),
	}
	body, _ := json.Marshal(map[string]string{"cluster": "c"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/force", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleForceDeploy(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlePollStability_ReturnsStableResult(t *testing.T) {
	orch := &fakeOrchestrator{desc: &sideeffect.ServiceDescription{
		RunningCount: 2,
		DesiredCount: 2,
		Deployments:  []sideeffect.Deployment{{Status: "PRIMARY"}},
	}}
	s := &Server{SideEffects: sideeffect.New(orch, &fakeGate{allow: true})}
	body, _ := json.Marshal(map[string]any{"cluster": "c", "service": "svc", "maxWaitSeconds": 5, "checkIntervalSeconds": 1})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/poll-stability", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handlePollStability(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var result sideeffect.StabilityResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.Stable {
		t.Fatalf("expected a stable result")
	}
}

func TestHandlePollStability_ZeroWaitTimesOutImmediately(t *testing.T) {
	orch := &fakeOrchestrator{desc: &sideeffect.ServiceDescription{RunningCount: 1, DesiredCount: 2}}
	s := &Server{SideEffects: sideeffect.New(orch, &fakeGate{allow: true})}
	body, _ := json.Marshal(map[string]any{"cluster": "c", "service": "svc", "maxWaitSeconds": 0})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deploy/poll-stability", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handlePollStability(rec, req)

	var result sideeffect.StabilityResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Stable || result.Error != "TIMEOUT" {
		t.Fatalf("result = %+v, want TIMEOUT", result)
	}
}
