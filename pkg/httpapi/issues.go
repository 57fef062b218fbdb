package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/statemachine"
)

// handleListIssues implements GET /api/afu9/issues.
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := issuestore.Filter{
		LocalStatus: statemachine.LocalStatus(q.Get("status")),
		ForgeRepo:   q.Get("forgeRepo"),
		Priority:    q.Get("priority"),
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "invalid offset", nil)
			return
		}
		filter.Offset = n
	}
	filter.Limit = issuestore.MaxListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "invalid limit", nil)
			return
		}
		if n > issuestore.MaxListLimit {
			n = issuestore.MaxListLimit
		}
		filter.Limit = n
	}

	issues, err := s.Issues.ListIssues(r.Context(), filter)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

// handleIssueDetail implements GET /api/afu9/issues/{id}.
func (s *Server) handleIssueDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.Issues.GetIssue(r.Context(), id)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	events, err := s.Issues.GetIssueEvents(r.Context(), id, 100)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	effective := statemachine.EffectiveStatus(issue.LocalStatus, issue.ForgeMirrorStatus, issue.ExecutionState)
	writeJSON(w, http.StatusOK, map[string]any{
		"issue":           issue,
		"events":          events,
		"effectiveStatus": effective,
	})
}

// pickRequest is the body for S1 pick.
type pickRequest struct {
	PublicID         string   `json:"publicId"`
	CanonicalID      string   `json:"canonicalId"`
	Priority         string   `json:"priority"`
	Labels           []string `json:"labels"`
	Scope            string   `json:"scope"`
	ForgeRepo        string   `json:"forgeRepo"`
	ForgeIssueNumber int      `json:"forgeIssueNumber"`
}

// handlePick implements POST /api/afu9/s1s3/issues/pick. It creates
// a new Issue from the request and then activates it via the store's
// compare-and-set, which enforces the single-active invariant at the
// storage layer. It does not look up an existing Issue: a publicId or
// canonicalId already in the store makes CreateIssue fail.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	var req pickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}
	if req.Priority == "" {
		req.Priority = "P2"
	}

	issue, err := s.Issues.CreateIssue(r.Context(), issuestore.Draft{
		PublicID:         req.PublicID,
		CanonicalID:      req.CanonicalID,
		Priority:         req.Priority,
		Labels:           req.Labels,
		Scope:            req.Scope,
		ForgeRepo:        req.ForgeRepo,
		ForgeIssueNumber: req.ForgeIssueNumber,
	})
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}

	activated, err := s.Issues.ActivateIssue(r.Context(), issue.ID)
	if err != nil {
		if ae, ok := err.(*afu9err.Error); ok && ae.Code == afu9err.CodeSingleActiveViolation {
			WriteError(w, r, http.StatusConflict, afu9err.CodeSingleActiveViolation, ae.Message, ae.Details)
			return
		}
		WriteFromErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"issue": activated})
}

// specRequest is the body for S2 save-spec.
type specRequest struct {
	Scope              string   `json:"scope"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Notes              string   `json:"notes"`
}

// handleSpec implements POST /api/afu9/s1s3/issues/{id}/spec (B1).
func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req specRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}
	if len(req.AcceptanceCriteria) == 0 {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeAcceptanceCriteriaRequired, "acceptanceCriteria must contain at least one entry", nil)
		return
	}

	issue, err := s.Issues.GetIssue(r.Context(), id)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	if !statemachine.IsValidTransition(issue.LocalStatus, statemachine.StatusSpecReady) {
		WriteError(w, r, http.StatusUnprocessableEntity, afu9err.CodeInvalidTransition, "issue is not in a state that can save a spec", map[string]any{"localStatus": string(issue.LocalStatus)})
		return
	}

	updated, err := s.Issues.PatchIssue(r.Context(), id, map[string]any{
		"scope":              req.Scope,
		"acceptanceCriteria": req.AcceptanceCriteria,
		"notes":              req.Notes,
	})
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	updated, err = s.Issues.UpdateLocalStatus(r.Context(), id, statemachine.StatusSpecReady)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": updated})
}

// handleImplement implements POST /api/afu9/s1s3/issues/{id}/implement
// (S3, async). It validates the transition synchronously, moves the
// Issue to IMPLEMENTING_PREP and returns 202 with the issue ID and its
// new status. It creates no run record and no PR branch, and the
// response carries no run ID or branch name.
func (s *Server) handleImplement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.Issues.GetIssue(r.Context(), id)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	if !statemachine.IsValidTransition(issue.LocalStatus, statemachine.StatusImplementingPrep) {
		WriteError(w, r, http.StatusConflict, afu9err.CodeInvalidTransition, "an implement run is already in flight or not permitted from this state", map[string]any{"localStatus": string(issue.LocalStatus)})
		return
	}
	updated, err := s.Issues.UpdateLocalStatus(r.Context(), id, statemachine.StatusImplementingPrep)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"issueId": updated.ID,
		"status":  string(updated.LocalStatus),
	})
}
