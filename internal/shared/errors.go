package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or reference violation.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidRange indicates an unusable date range.
	ErrInvalidRange = errors.New("invalid date range")
	// ErrOverlap indicates the range collides with another open request.
	ErrOverlap = errors.New("overlapping vacation request")
	// ErrInsufficientBudget indicates the ledger invariant would break.
	ErrInsufficientBudget = errors.New("insufficient vacation budget")
	// ErrForbidden indicates a failed role or ownership check.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates a transition attempted from the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrResourceBusy indicates a lock or transaction timeout. Callers may retry.
	ErrResourceBusy = errors.New("resource busy")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized indicates a missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResourceBusy)
}
