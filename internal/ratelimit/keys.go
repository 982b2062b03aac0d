package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient is the key used when no client address can be found.
const UnknownClient = "unknown"

// KeyFunc derives the rate limit identity from a request.
type KeyFunc func(*http.Request) string

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP,
// then UnknownClient.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return UnknownClient
}

// IPKey keys requests by client IP.
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

// SaltedKey appends salt to the identity produced by base, giving a caller
// a separate budget per route prefix.
func SaltedKey(base KeyFunc, salt string) KeyFunc {
	if base == nil {
		base = IPKey
	}
	return func(r *http.Request) string {
		return base(r) + ":" + salt
	}
}

// ConstantKey pools every caller into one bucket, limiting an endpoint as
// a whole rather than per caller.
func ConstantKey(name string) KeyFunc {
	return func(*http.Request) string {
		return name
	}
}

// NamespacedKey prefixes the key so limiters sharing a store stay apart.
func NamespacedKey(namespace string, fn KeyFunc) KeyFunc {
	if fn == nil {
		fn = IPKey
	}
	return func(r *http.Request) string {
		return namespace + "|" + fn(r)
	}
}
