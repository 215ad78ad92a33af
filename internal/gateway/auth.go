package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/entropybridge/qrngd/infrastructure/httputil"
	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/infrastructure/security"
)

// credentialFromRequest extracts the bearer credential from the Authorization
// header or, failing that, an "api_key" query parameter.
func credentialFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.URL.Query().Get("api_key")
}

// principalMatches compares credential against the configured principal set
// in constant time, so no early-exit reveals which principal (if any) is
// closest to a match.
func principalMatches(principals map[string]struct{}, credential string) bool {
	if credential == "" {
		return false
	}
	matched := false
	for known := range principals {
		if len(known) == len(credential) && subtle.ConstantTimeCompare([]byte(known), []byte(credential)) == 1 {
			matched = true
		}
	}
	return matched
}

// AuthMiddleware rejects requests whose bearer credential does not match the
// configured principal set, before any rate-limit accounting happens. On
// success, the credential is attached to the request context so the
// downstream rate limiter can key its token bucket by principal.
func AuthMiddleware(principals map[string]struct{}, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := credentialFromRequest(r)
			if !principalMatches(principals, credential) {
				if logger != nil {
					logger.LogSecurityEvent(r.Context(), "auth_rejected", security.SanitizeMap(map[string]interface{}{
						"path":  r.URL.Path,
						"query": r.URL.RawQuery,
					}))
				}
				httputil.Unauthorized(w, "invalid or missing credential")
				return
			}
			ctx := logging.WithUserID(r.Context(), credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
