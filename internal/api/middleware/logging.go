package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// accessInfo collects fields set by inner middleware for the access log.
type accessInfo struct {
	subject string
}

type accessInfoKey struct{}

// noteSubject records the authenticated subject for the access log line.
func noteSubject(ctx context.Context, subject string) {
	if info, ok := ctx.Value(accessInfoKey{}).(*accessInfo); ok {
		info.subject = subject
	}
}

// Logger returns a middleware that writes one access log line per request.
// Server errors log at error, client errors at warn and successful ops checks
// at debug so health checks do not drown the request log.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := recordStatus(w)
			info := &accessInfo{}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), accessInfoKey{}, info)))

			// A body requestId replaces the header one after routing; the
			// response header carries the final value.
			requestID := wrapped.Header().Get("X-Request-Id")
			if requestID == "" {
				requestID = GetRequestID(r.Context())
			}

			var traceID, spanID string
			if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
				traceID = spanCtx.TraceID().String()
				spanID = spanCtx.SpanID().String()
			}

			var event *zerolog.Event
			switch {
			case wrapped.status >= http.StatusInternalServerError:
				event = log.Error()
			case wrapped.status >= http.StatusBadRequest:
				event = log.Warn()
			case strings.HasPrefix(r.URL.Path, opsPrefix):
				event = log.Debug()
			default:
				event = log.Info()
			}
			if info.subject != "" {
				event = event.Str("subject", info.subject)
			}
			if cityID := chiParam(r, "cityId"); cityID != "" {
				event = event.Str("city_id", cityID)
			}

			event.
				Str("request_id", requestID).
				Str("trace_id", traceID).
				Str("span_id", spanID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", wrapped.status).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
