package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/lawbook"
)

type fixedLawbookSource struct{ version string }

func (s *fixedLawbookSource) ActiveVersion(_ context.Context, _ string) (string, error) {
	return s.version, nil
}

type fakePolicyStore struct{ policy *automationpolicy.Policy }

func (s *fakePolicyStore) PolicyFor(_ context.Context, _ string) (*automationpolicy.Policy, bool, error) {
	if s.policy == nil {
		return nil, false, nil
	}
	return s.policy, true, nil
}

type emptyExecutionHistory struct{}

func (emptyExecutionHistory) LastAllowedExecution(_ context.Context, _, _ string) (time.Time, error) {
	return time.Time{}, nil
}

func (emptyExecutionHistory) CountAllowedExecutionsSince(_ context.Context, _, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func TestHandlePolicyEvaluate_DisabledWhenNoEvaluator(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/policy/evaluate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	s.handlePolicyEvaluate(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandlePolicyEvaluate_MalformedBody(t *testing.T) {
	policies := automationpolicy.NewEvaluator(
		&fakePolicyStore{policy: &automationpolicy.Policy{Name: "deploy", ActionType: "force_new_deployment"}},
		emptyExecutionHistory{},
		lawbook.New(&fixedLawbookSource{version: "v1"}),
		"default",
	)
	s := &Server{Policies: policies}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/policy/evaluate", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()

	s.handlePolicyEvaluate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlePolicyEvaluate_AllowedRequest(t *testing.T) {
	policies := automationpolicy.NewEvaluator(
		&fakePolicyStore{policy: &automationpolicy.Policy{Name: "deploy", ActionType: "force_new_deployment"}},
		emptyExecutionHistory{},
		lawbook.New(&fixedLawbookSource{version: "v1"}),
		"default",
	)
	s := &Server{Policies: policies}

	body, _ := json.Marshal(automationpolicy.Request{
		ActionType:       "force_new_deployment",
		TargetType:       "service",
		TargetIdentifier: "svc",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/policy/evaluate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handlePolicyEvaluate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp automationpolicy.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Allow {
		t.Fatalf("expected the request to be allowed, got reason %q", resp.Reason)
	}
}

func TestHandlePolicyEvaluate_NoLawbookIsFailClosed(t *testing.T) {
	policies := automationpolicy.NewEvaluator(
		&fakePolicyStore{},
		emptyExecutionHistory{},
		lawbook.New(&fixedLawbookSource{version: ""}),
		"default",
	)
	s := &Server{Policies: policies}

	body, _ := json.Marshal(automationpolicy.Request{ActionType: "force_new_deployment", TargetIdentifier: "svc"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/policy/evaluate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handlePolicyEvaluate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp automationpolicy.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Allow {
		t.Fatalf("expected deny when no lawbook is active")
	}
}
