package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// PathInt64 parses a positive integer URL parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, name, raw)
	}
	return v, nil
}

// QueryInt parses an optional integer query parameter, returning def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, name, raw)
	}
	return v, nil
}

// Principal returns the authenticated caller or ErrUnauthorized.
func Principal(r *http.Request) (shared.Principal, error) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		return shared.Principal{}, shared.ErrUnauthorized
	}
	return p, nil
}

// RequireRole rejects callers without one of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := Principal(r)
			if err != nil {
				RespondError(w, err)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			RespondError(w, fmt.Errorf("%w: role %s not permitted", shared.ErrForbidden, p.Role))
		})
	}
}

// SelfOrAdmin allows admins and the owner of userID.
func SelfOrAdmin(p shared.Principal, userID int64) error {
	if p.IsAdmin() || p.UserID == userID {
		return nil
	}
	return fmt.Errorf("%w: user %d may not access user %d", shared.ErrForbidden, p.UserID, userID)
}
