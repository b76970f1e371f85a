package middleware

import (
	"net/http"

	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/httputil"
)

// Companion drafts and bookmark requests are small JSON documents.
const DefaultMaxBodySize int64 = 64 << 10

// apiCSP applies to responses that are only consumed as JSON or event streams.
const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

// LimitBody caps request bodies at maxSize bytes, or DefaultMaxBodySize when
// maxSize is not positive. Declared lengths over the cap are rejected up front.
func LimitBody(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				if r.ContentLength > maxSize {
					httputil.WriteError(w, apperrors.PayloadTooLarge(maxSize))
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIHeaders sets the response hardening headers for /api. HSTS is only sent
// when the server runs behind TLS in production.
func APIHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiCSP)
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
