package auth

import (
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Bearer resolves the Authorization header into a principal. Requests
// without a valid token are rejected with 401.
func Bearer(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey-hr"`)
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			p, err := tokens.Parse(strings.TrimSpace(raw))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey-hr", error="invalid_token"`)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	}
}
