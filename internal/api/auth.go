package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the session and reviewer endpoints with a static
// bearer token. The health endpoint stays outside this middleware so
// supervisors can check liveness without credentials; wiring skips the
// middleware entirely when no token is configured.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r, token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorized checks the Authorization header against the configured
// token in constant time, so response timing reveals nothing about how
// much of a guess matched.
func authorized(r *http.Request, token string) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header[len(prefix):]), []byte(token)) == 1
}
