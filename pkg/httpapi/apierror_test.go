package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afu9/control-center/pkg/afu9err"
)

func TestWriteFromErr_KnownCodeMapsToStatus(t *testing.T) {
	cases := []struct {
		code afu9err.Code
		want int
	}{
		{afu9err.CodeInvalidInput, http.StatusBadRequest},
		{afu9err.CodeRepoNotAllowed, http.StatusForbidden},
		{afu9err.CodeLawbookNotConfigured, http.StatusServiceUnavailable},
		{afu9err.CodeSingleActiveViolation, http.StatusConflict},
		{afu9err.CodeInvalidTransition, http.StatusUnprocessableEntity},
		{afu9err.CodeNotFound, http.StatusNotFound},
		{afu9err.CodeSignatureInvalid, http.StatusUnauthorized},
		{afu9err.CodeTimeout, http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		WriteFromErr(rec, req, afu9err.New(tc.code, "boom"))
		if rec.Code != tc.want {
			t.Errorf("code %s: status = %d, want %d", tc.code, rec.Code, tc.want)
		}

		var body struct {
			ErrorCode string `json:"errorCode"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.ErrorCode != string(tc.code) {
			t.Errorf("errorCode = %q, want %q", body.ErrorCode, tc.code)
		}
		if body.Message != "boom" {
			t.Errorf("message = %q, want boom", body.Message)
		}
	}
}

func TestWriteFromErr_UnrecognizedErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	WriteFromErr(rec, req, errors.New("plain error"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body struct {
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ErrorCode != string(afu9err.CodeInternal) {
		t.Errorf("errorCode = %q, want %q", body.ErrorCode, afu9err.CodeInternal)
	}
}

func TestWriteError_EchoesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-42")

	WriteError(rec, req, http.StatusBadRequest, afu9err.CodeInvalidInput, "bad", nil)

	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.RequestID != "req-42" {
		t.Errorf("requestId = %q, want req-42", body.RequestID)
	}
}

func TestWriteError_DetailsOmittedWhenNil(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	WriteError(rec, req, http.StatusBadRequest, afu9err.CodeInvalidInput, "bad", nil)

	if bytes.Contains(rec.Body.Bytes(), []byte(`"details"`)) {
		t.Error("expected details field to be omitted when nil")
	}
}
