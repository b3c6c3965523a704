package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hashbrotherhood/hashmarket/internal/crypto"
)

// AdminAuth returns middleware guarding admin routes. The key is presented as
// a Bearer token or in the X-API-Key header and is checked against either the
// configured plaintext key or a PBKDF2 hash of it (exactly one is set).
// With neither configured, admin routes are disabled outright.
func AdminAuth(apiKey, apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && apiKeyHash == "" {
				writeUnauthorized(w, "admin api disabled")
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			var ok bool
			if apiKeyHash != "" {
				ok = crypto.VerifyAPIKey(token, apiKeyHash)
			} else {
				// Constant-time comparison to prevent timing attacks.
				ok = subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
			}
			if !ok {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
