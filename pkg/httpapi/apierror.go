// Package httpapi assembles the control plane's components behind a
// version-stable HTTP surface. Error responses use a fixed envelope —
// {errorCode, requestId, message, details} — rather than an RFC 7807
// problem-detail shape, since callers depend on this exact JSON
// contract.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
)

// errorBody is the wire shape every error response uses.
type errorBody struct {
	ErrorCode string         `json:"errorCode"`
	RequestID string         `json:"requestId"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError writes the fixed error envelope with the given HTTP
// status and afu9err code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code afu9err.Code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		ErrorCode: string(code),
		RequestID: requestID(r),
		Message:   message,
		Details:   details,
	})
}

// WriteFromErr classifies err (an *afu9err.Error when possible) and
// writes the matching status + envelope. Unrecognized errors become a
// 500 INTERNAL — they are never upgraded to a success response.
func WriteFromErr(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := asAfu9Err(err)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}
	WriteError(w, r, statusFor(ae.Code), ae.Code, ae.Message, ae.Details)
}

func asAfu9Err(err error) (*afu9err.Error, bool) {
	ae, ok := err.(*afu9err.Error)
	return ae, ok
}

// statusFor maps each stable error code to its HTTP status.
func statusFor(code afu9err.Code) int {
	switch code {
	case afu9err.CodeInvalidInput, afu9err.CodeAcceptanceCriteriaRequired,
		afu9err.CodeInvalidEnv, afu9err.CodeInvalidPath:
		return http.StatusBadRequest
	case afu9err.CodeRepoNotAllowed, afu9err.CodeTargetNotAllowed,
		afu9err.CodeApprovalRequired, afu9err.CodeLawbookDenied:
		return http.StatusForbidden
	case afu9err.CodeLawbookNotConfigured, afu9err.CodePolicyConfigError:
		return http.StatusServiceUnavailable
	case afu9err.CodeCooldownActive, afu9err.CodeRateLimitExceeded,
		afu9err.CodeSingleActiveViolation, afu9err.CodeConflict,
		afu9err.CodeSyncConflict, afu9err.CodeManualOverrideBlock:
		return http.StatusConflict
	case afu9err.CodeInvalidTransition, afu9err.CodeTransitionPreconditionFail,
		afu9err.CodeEvidenceMissing:
		return http.StatusUnprocessableEntity
	case afu9err.CodeNotFound, afu9err.CodeRunNotFound, afu9err.CodeDeployNotFound,
		afu9err.CodeVerdictNotFound, afu9err.CodeVerificationNotFound:
		return http.StatusNotFound
	case afu9err.CodeUnavailable:
		return http.StatusServiceUnavailable
	case afu9err.CodeSignatureInvalid:
		return http.StatusUnauthorized
	case afu9err.CodeTimeout:
		return http.StatusGatewayTimeout
	case afu9err.CodeIngestionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a response with the given status code and body
// encoded as JSON.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
