package middleware

import (
	"context"
	"net"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/invitegen/edgegate/internal/ratelimit"
)

// HeaderXRequestID is the header name for request ID.
const HeaderXRequestID = "X-Request-ID"

const requestIDMaxLength = 128

var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// RequestID tags each request with an ID, reusing a well-formed inbound
// X-Request-ID or generating a UUID v4.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if !isValidRequestID(requestID) {
				requestID = uuid.New().String()
			}

			w.Header().Set(HeaderXRequestID, requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > requestIDMaxLength {
		return false
	}
	return validRequestIDRegex.MatchString(id)
}

// ClientIP stores the caller address in the request context.
//
// Without trustProxy the connection peer is used. With it, the forwarding
// headers win (first X-Forwarded-For entry, then X-Real-IP), falling back to
// the peer. A non-empty trustedProxies list limits which peers may supply
// those headers.
func ClientIP(trustProxy bool, trustedProxies []string) Middleware {
	trusted := make(map[string]bool, len(trustedProxies))
	for _, ip := range trustedProxies {
		trusted[ip] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r, trustProxy, trusted)
			ctx := context.WithValue(r.Context(), ClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractClientIP(r *http.Request, trustProxy bool, trusted map[string]bool) string {
	peer := peerIP(r.RemoteAddr)

	if !trustProxy || (len(trusted) > 0 && !trusted[peer]) {
		return peer
	}

	if ip := ratelimit.ClientIP(r); ip != ratelimit.UnknownClient {
		return ip
	}
	return peer
}

func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ClientKey is the rate limit identity: the address resolved by ClientIP,
// or the forwarding headers when that middleware did not run.
func ClientKey(r *http.Request) string {
	if ip := GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return ratelimit.ClientIP(r)
}
