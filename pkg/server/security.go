package server

import (
	"net/http"
	"strings"
)

// securityHeadersMiddleware sets browser hardening headers on every
// response. The API only ever returns JSON, so /api/ responses also get a
// CSP that forbids embedding them as documents; the frontend (served by the
// dev proxy or a CDN in front of us) sets its own policy.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// 2 years, the minimum for HSTS preload
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		next.ServeHTTP(w, r)
	})
}
