package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
)

// handleWebhook implements POST /api/webhooks/forge. Signature
// verification happens before delivery dedup or persistence, so a
// forged payload never reaches the store.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "could not read body", nil)
		return
	}

	sig := r.Header.Get("X-Forge-Signature-256")
	if err := s.Webhooks.VerifySignature(body, sig); err != nil {
		WriteFromErr(w, r, err)
		return
	}

	deliveryID := r.Header.Get("X-Forge-Delivery")
	eventType := r.Header.Get("X-Forge-Event")
	if deliveryID == "" || eventType == "" {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "missing delivery/event headers", nil)
		return
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed JSON payload", nil)
			return
		}
	}
	eventAction, _ := payload["action"].(string)
	repo, _ := payload["repository"].(string)

	result, err := s.Webhooks.HandleInboundWebhook(r.Context(), deliveryID, eventType, eventAction, repo, body, sig, payload)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}

	status := "ok"
	if result.Duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"dispatched": result.Dispatched,
		"workflow":   result.Workflow,
	})
}
