package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/invitegen/edgegate/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			metrics.ActiveConnections.Inc()
			defer metrics.ActiveConnections.Dec()

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Method, normalizePath(r.URL.Path), rw.statusCode, time.Since(start))
		})
	}
}

// normalizePath maps a path to a bounded label set. API paths keep their
// first segment under /api/.
func normalizePath(path string) string {
	switch {
	case path == "/health" || path == "/ready" || path == "/metrics":
		return path
	case path == "/api/csrf-token" || path == "/api/site-access" || path == "/site-access":
		return path
	case IsStaticAsset(path):
		return "/static"
	case strings.HasPrefix(path, "/api/"):
		rest := strings.TrimPrefix(path, "/api/")
		segment, _, _ := strings.Cut(rest, "/")
		if !knownAPISegments[segment] {
			return "/api/other"
		}
		return "/api/" + segment
	default:
		return "/other"
	}
}

var knownAPISegments = map[string]bool{
	"auth":     true,
	"ai":       true,
	"rsvp":     true,
	"public":   true,
	"upload":   true,
	"webhooks": true,
	"health":   true,
}
