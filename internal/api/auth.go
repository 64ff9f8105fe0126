package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/apperr"
)

// BearerAuth reads "Authorization: Bearer <token>" and lets check decide
// whether the caller may proceed. Requests without the header are checked
// with an empty token. Auth failures answer 401.
func BearerAuth(check func(token string) error, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(bearerToken(r)); err != nil {
				if apperr.Is(err, apperr.Auth) {
					httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
					return
				}
				writeError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
