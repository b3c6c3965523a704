package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/crypto"
)

// maxProxyBody bounds the telemetry callback payload.
const maxProxyBody = 64 << 10

// ProxyAuth returns middleware guarding the proxy telemetry routes. The
// mining proxy signs each request body together with a unix timestamp; the
// signature travels in X-Proxy-Signature, the timestamp in X-Proxy-Timestamp.
func ProxyAuth(auth *crypto.ProxyAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("X-Proxy-Timestamp")
			signature := r.Header.Get("X-Proxy-Signature")
			if timestamp == "" || signature == "" {
				writeUnauthorized(w, "missing proxy signature")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			r.Body.Close()

			if err := auth.Verify(timestamp, signature, body, time.Now()); err != nil {
				writeUnauthorized(w, "invalid proxy signature")
				return
			}

			// Hand the consumed body back to the handler.
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
