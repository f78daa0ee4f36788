package middleware

import (
	"net/http"
	"strings"

	"github.com/routepulse/routepulse/internal/api/models"
)

// opsPrefix is exempt from RequireTLS: load balancer health checks arrive over
// plain HTTP.
const opsPrefix = "/v1/ops/"

// securityHeaders are set on every response. The API serves JSON only, so the
// content policy forbids everything.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// SecurityHeaders adds the standard security headers to every response, plus
// Cache-Control: no-store unless a handler chose its own caching. Insight
// results depend on the request body and must not be cached by shared proxies.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if h.Get("Cache-Control") == "" {
			h.Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}

// RequireTLS returns middleware that rejects plain-HTTP requests when enabled.
// The scheme comes from the first X-Forwarded-Proto value set by the load
// balancer; requests without the header (direct connections, local dev) and
// the ops checks pass.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if forwardedProto(r) == "http" && !strings.HasPrefix(r.URL.Path, opsPrefix) {
				problem := models.NewTLSRequired(GetRequestID(r.Context()), "This endpoint requires HTTPS")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// forwardedProto returns the client-facing scheme, lower-cased, or "" when
// no proxy reported one.
func forwardedProto(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.ToLower(strings.TrimSpace(proto))
}
