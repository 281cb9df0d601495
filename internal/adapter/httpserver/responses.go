// Package httpserver exposes the generation API (§6) over HTTP/JSON: request
// admission, status polling, cancellation, history, health and metrics.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// errorEnvelope is the uniform error shape of §6: {code, message, details?, timestamp}.
type errorEnvelope struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain sentinel to its §6 HTTP status and error code and
// writes the uniform envelope. codeOverride, when non-empty, replaces the
// sentinel-derived code (used for the per-kind queue error codes that share
// the ErrInternal sentinel but differ by which queue failed). A
// VALIDATION_ERROR override also sets status 400, so request-shape errors
// built without a sentinel still answer as client faults.
func writeError(w http.ResponseWriter, err error, codeOverride string, details interface{}) {
	status := http.StatusInternalServerError
	code := "INTERNAL_SERVER_ERROR"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	case errors.Is(err, domain.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
		code = "INSUFFICIENT_CREDITS"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	case errors.Is(err, domain.ErrNotOwner):
		status = http.StatusForbidden
		code = "NOT_OWNER"
	case errors.Is(err, domain.ErrNotCancellable):
		status = http.StatusConflict
		code = "NOT_CANCELLABLE"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, domain.ErrUpstreamRateLimit), errors.Is(err, domain.ErrAllProvidersFailed):
		status = http.StatusServiceUnavailable
		code = "INTERNAL_SERVER_ERROR"
	}
	if codeOverride != "" {
		code = codeOverride
		if codeOverride == "VALIDATION_ERROR" {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, errorEnvelope{Code: code, Message: err.Error(), Details: details, Timestamp: time.Now().UTC()})
}
