package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"first forwarded entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1, 10.0.0.2"}, "203.0.113.7"},
		{"single forwarded entry", map[string]string{"X-Forwarded-For": " 203.0.113.7 "}, "203.0.113.7"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.1"}, "203.0.113.7"},
		{"empty first entry falls back", map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "198.51.100.1"}, "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.1"}, "198.51.100.1"},
		{"no headers", nil, UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/ai/generate", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	t.Run("ip key", func(t *testing.T) {
		assert.Equal(t, "203.0.113.7", IPKey(req))
	})

	t.Run("salted key", func(t *testing.T) {
		assert.Equal(t, "203.0.113.7:/api/ai", SaltedKey(IPKey, "/api/ai")(req))
		assert.Equal(t, "203.0.113.7:/api/ai", SaltedKey(nil, "/api/ai")(req))
	})

	t.Run("constant key ignores the caller", func(t *testing.T) {
		other := httptest.NewRequest(http.MethodGet, "/", nil)
		fn := ConstantKey("generate")
		assert.Equal(t, fn(req), fn(other))
	})

	t.Run("namespaced key", func(t *testing.T) {
		assert.Equal(t, "auth|203.0.113.7", NamespacedKey("auth", nil)(req))
		assert.Equal(t, "ai|203.0.113.7:/api/ai", NamespacedKey("ai", SaltedKey(IPKey, "/api/ai"))(req))
	})
}
