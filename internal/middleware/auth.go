package middleware

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/ragdesk/ragdesk/backend/internal/auth"
	"github.com/ragdesk/ragdesk/backend/pkg/utils"
)

// Authenticate resolves the caller with strategy and stores the principal in
// the request context. Unauthenticated requests are answered with 401.
func Authenticate(strategy auth.Strategy, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := strategy.Authenticate(r)
			if err != nil {
				if logger != nil {
					logger.Debug("rejected request", "path", r.URL.Path, "strategy", strategy.Name(), "error", err)
				}
				strategy.Challenge(w)
				utils.RespondError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
