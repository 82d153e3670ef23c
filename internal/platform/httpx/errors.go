package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// RetryAfterSeconds is advertised when the store reports lock contention.
const RetryAfterSeconds = "1"

// StatusFor maps domain errors onto HTTP status codes and problem titles.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrOverlap):
		return http.StatusConflict, "Overlapping Request"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "Invalid State"
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrInsufficientBudget):
		return http.StatusUnprocessableEntity, "Insufficient Budget"
	case errors.Is(err, shared.ErrInvalidRange):
		return http.StatusUnprocessableEntity, "Invalid Range"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, shared.ErrResourceBusy):
		return http.StatusServiceUnavailable, "Resource Busy"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	Problem(w, status, title, detail)
}
