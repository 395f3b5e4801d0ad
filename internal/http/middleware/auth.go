package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalToken rejects requests to the listed paths unless they carry the
// shared secret in header. An empty token disables the check.
func InternalToken(header, requiredToken string, paths ...string) func(http.Handler) http.Handler {
	requiredToken = strings.TrimSpace(requiredToken)
	guarded := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		guarded[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := guarded[r.URL.Path]; !ok || requiredToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.Header.Get(header))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
