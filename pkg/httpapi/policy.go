package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/automationpolicy"
)

// handlePolicyEvaluate implements POST /api/admin/policy/evaluate: an
// admin-only dry-run of the Automation Policy Evaluator against a
// hypothetical request, so an operator can answer "would this action
// be allowed right now" without actually proposing the side effect.
func (s *Server) handlePolicyEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.Policies == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "policy evaluator disabled", nil)
		return
	}
	var req automationpolicy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}
	resp, err := s.Policies.Evaluate(r.Context(), req)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
