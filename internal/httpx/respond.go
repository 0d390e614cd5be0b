package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vendly/ordercore/internal/apperr"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the uniform error envelope. The message must already
// be caller-safe.
func WriteError(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, errorBody{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// statusOf maps error codes to HTTP statuses. Handlers that need a
// different status for a code (the verify endpoint returns 400 on a bad
// signature) call WriteError directly.
func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeConflict:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated, apperr.CodeBadSignature:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError maps a tagged error onto the wire: external code and
// caller-safe message only, internal detail stays server-side.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	WriteError(w, statusOf(code), apperr.MessageOf(err), string(code))
}
