package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"nexrt/internal/plugin"
	"nexrt/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps runtime errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, plugin.ErrNotLoaded):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, plugin.ErrBreakerOpen):
		IncrementBackpressure("breaker_open")
		return http.StatusServiceUnavailable
	case errors.Is(err, plugin.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
