package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"labsales/internal/core"
	"labsales/internal/logger"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, status, errorResponse{Error: message, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps domain errors to HTTP statuses and stable error codes.
// Unclassified errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	var fe *core.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}

	var status int
	switch {
	case errors.Is(err, core.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrImmutableField):
		status, resp.Code = http.StatusUnprocessableEntity, "IMMUTABLE_FIELD"
	case errors.Is(err, core.ErrRangeViolation):
		status, resp.Code = http.StatusUnprocessableEntity, "RANGE_VIOLATION"
	case errors.Is(err, core.ErrConcurrencyConflict):
		status, resp.Code = http.StatusConflict, "CONCURRENCY_CONFLICT"
		resp.Retryable = true
	case errors.Is(err, core.ErrPreconditionViolation):
		status, resp.Code = http.StatusConflict, "PRECONDITION_FAILED"
	default:
		log := logger.WithRequestID(requestIDFromContext(r.Context()))
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		status, resp.Code, resp.Error = http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
	writeErrorResponse(w, r, status, resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
