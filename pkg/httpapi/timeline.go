package httpapi

import (
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
)

// handleTimelineChain implements GET /api/timeline/chain.
func (s *Server) handleTimelineChain(w http.ResponseWriter, r *http.Request) {
	issueID := r.URL.Query().Get("issueId")
	if issueID == "" {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "issueId is required", nil)
		return
	}
	sourceSystem := r.URL.Query().Get("sourceSystem")
	if sourceSystem == "" {
		sourceSystem = "afu9"
	}
	if sourceSystem != "afu9" && sourceSystem != "forge" {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "sourceSystem must be afu9 or forge", nil)
		return
	}

	chain, err := s.Timeline.ChainForIssue(r.Context(), issueID, sourceSystem)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}
