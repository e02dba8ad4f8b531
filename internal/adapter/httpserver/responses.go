package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/service/sse"
)

// errorEnvelope is the uniform error body every endpoint returns.
type errorEnvelope struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy to status, code, and retryability.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	retryable := false

	var rle *domain.RateLimitError
	switch {
	case errors.As(err, &rle):
		retryable = true
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter))
		if rle.ServiceUnavailable {
			status = http.StatusServiceUnavailable
			code = "RATE_LIMIT_SERVICE_UNAVAILABLE"
		} else {
			status = http.StatusTooManyRequests
			code = "RATE_LIMIT_EXCEEDED"
		}
		observability.RateLimitRejected(code)
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		code = "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrAuthNoSubject):
		status = http.StatusForbidden
		code = "AUTH_ERROR"
	case errors.Is(err, domain.ErrOwnership):
		status = http.StatusForbidden
		code = "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrGone):
		status = http.StatusGone
		code = "GONE"
	case errors.Is(err, domain.ErrConflict):
		// Cancellation is the only surface that maps conflicts; the job is
		// already terminal.
		status = http.StatusBadRequest
		code = "NOT_CANCELLABLE"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMIT_EXCEEDED"
		retryable = true
	case errors.Is(err, domain.ErrBudgetExceeded):
		status = http.StatusPaymentRequired
		code = "BUDGET_EXCEEDED"
	case errors.Is(err, sse.ErrMaxConnections):
		status = http.StatusServiceUnavailable
		code = "CONNECTION_LIMIT"
	case errors.Is(err, domain.ErrRetryable):
		status = http.StatusInternalServerError
		code = "RETRYABLE_ERROR"
		retryable = true
	case errors.Is(err, domain.ErrPipeline):
		status = http.StatusInternalServerError
		code = "MODULE_FAILURE"
	}

	writeJSON(w, status, errorEnvelope{
		Error:     err.Error(),
		Code:      code,
		Retryable: retryable,
		RequestID: r.Header.Get("X-Request-Id"),
	})
}
