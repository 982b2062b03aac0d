package middleware

import (
	"net/http"
	"time"

	"github.com/invitegen/edgegate/pkg/logger"
)

// AccessLog logs one line per request. 4xx responses log at warn, 5xx at
// error.
func AccessLog(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			keyvals := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
				"client_ip", GetClientIP(r.Context()),
			}

			switch {
			case rw.statusCode >= 500:
				log.Error("request", keyvals...)
			case rw.statusCode >= 400:
				log.Warn("request", keyvals...)
			default:
				log.Info("request", keyvals...)
			}
		})
	}
}
