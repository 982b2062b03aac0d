package middleware

import "net/http"

// securityHeaders are set on every response that passes admission.
var securityHeaders = [][2]string{
	{"X-DNS-Prefetch-Control", "on"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

// SecurityHeaders sets the standard browser hardening headers and removes
// X-Powered-By, including when the downstream handler sets it.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			h.Del("X-Powered-By")
			next.ServeHTTP(&strippingWriter{ResponseWriter: w}, r)
		})
	}
}

// strippingWriter deletes X-Powered-By just before headers are sent.
type strippingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *strippingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.Header().Del("X-Powered-By")
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *strippingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *strippingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush supports streaming responses through the proxy.
func (w *strippingWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}
