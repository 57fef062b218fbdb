package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
)

// forceDeployRequest is the body for POST /api/admin/deploy/force.
type forceDeployRequest struct {
	Cluster string `json:"cluster"`
	Service string `json:"service"`
}

// handleForceDeploy implements POST /api/admin/deploy/force: clears
// the Automation Policy Evaluator for force_new_deployment against the
// target service, then calls through to the orchestrator. Denied
// outright when FORCE_NEW_DEPLOY_ENABLED is unset, regardless of what
// the policy evaluator would otherwise say.
func (s *Server) handleForceDeploy(w http.ResponseWriter, r *http.Request) {
	if s.Cfg == nil || !s.Cfg.ForceNewDeployEnabled {
		WriteError(w, r, http.StatusForbidden, afu9err.CodeTargetNotAllowed, "force-new-deployment adapter is disabled", nil)
		return
	}
	if s.SideEffects == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "side effect adapter disabled", nil)
		return
	}
	var req forceDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}
	if req.Cluster == "" || req.Service == "" {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "cluster and service are required", nil)
		return
	}

	if err := s.SideEffects.ForceNewDeployment(r.Context(), req.Cluster, req.Service); err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"cluster": req.Cluster,
		"service": req.Service,
		"status":  "deployment forced",
	})
}

// pollStabilityRequest is the body for POST /api/admin/deploy/poll-stability.
type pollStabilityRequest struct {
	Cluster              string `json:"cluster"`
	Service              string `json:"service"`
	MaxWaitSeconds       int    `json:"maxWaitSeconds"`
	CheckIntervalSeconds int    `json:"checkIntervalSeconds"`
}

// handlePollStability implements POST /api/admin/deploy/poll-stability.
// It is not policy-gated: DescribeService is read-only, so the poll
// loop itself carries no side effect beyond the caller's own deadline.
func (s *Server) handlePollStability(w http.ResponseWriter, r *http.Request) {
	if s.SideEffects == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "side effect adapter disabled", nil)
		return
	}
	var req pollStabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}
	if req.Cluster == "" || req.Service == "" {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "cluster and service are required", nil)
		return
	}

	result, err := s.SideEffects.PollServiceStability(r.Context(), req.Cluster, req.Service, req.MaxWaitSeconds, req.CheckIntervalSeconds)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
