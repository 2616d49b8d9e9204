// Package httputil maps coded domain errors onto HTTP responses so handlers
// never hand-roll status codes.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "redpocket/pkg/domain-errors"
)

// errorResponse is the wire shape for failures. error_description is omitted
// for internal errors so infrastructure details never leak to callers.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// statusByCode maps domain error codes to HTTP statuses. Unknown codes fall
// back to 500.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:              http.StatusBadRequest,
	dErrors.CodeValidation:              http.StatusBadRequest,
	dErrors.CodeInvalidInput:            http.StatusBadRequest,
	dErrors.CodeBelowMinimum:            http.StatusBadRequest,
	dErrors.CodeNotFound:                http.StatusNotFound,
	dErrors.CodeConflict:                http.StatusConflict,
	dErrors.CodeAlreadyClaimed:          http.StatusConflict,
	dErrors.CodeIdentityConflict:        http.StatusConflict,
	dErrors.CodeInvalidState:            http.StatusConflict,
	dErrors.CodeSelfMergeForbidden:      http.StatusUnprocessableEntity,
	dErrors.CodeExpired:                 http.StatusGone,
	dErrors.CodeExhausted:               http.StatusGone,
	dErrors.CodeInsufficientBalance:     http.StatusUnprocessableEntity,
	dErrors.CodeUnauthorized:            http.StatusUnauthorized,
	dErrors.CodeInvalidVerificationCode: http.StatusUnauthorized,
	dErrors.CodeInvariantViolation:      http.StatusInternalServerError,
	dErrors.CodeInternal:                http.StatusInternalServerError,
	dErrors.CodeUnavailable:             http.StatusServiceUnavailable,
}

// WriteError renders err as a JSON error response. Non-coded errors are
// treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := errorResponse{Error: string(code)}
	if status != http.StatusInternalServerError {
		resp.ErrorDescription = dErrors.MessageOf(err)
	}

	WriteJSON(w, status, resp)
}

// WriteJSON renders v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
