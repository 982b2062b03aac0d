package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/config"
	"github.com/invitegen/edgegate/internal/sitegate"
)

func TestSiteGate(t *testing.T) {
	gate := sitegate.New(config.GateConfig{Password: "letmein"}, false)

	t.Run("redirects without cookie", func(t *testing.T) {
		recorder := &recordingRecorder{}
		called := 0
		handler := SiteGate(gate, nil, recorder)(okHandler(&called))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/42", nil))

		assert.Equal(t, 0, called)
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/site-access?next=%2Fevents%2F42", rec.Header().Get("Location"))
		require.Len(t, recorder.events, 1)
		assert.Equal(t, audit.KindGateRedirect, recorder.events[0].Kind)
	})

	t.Run("passes with cookie", func(t *testing.T) {
		called := 0
		handler := SiteGate(gate, nil, nil)(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/events/42", nil)
		req.AddCookie(gate.Cookie())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, 1, called)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("exempt paths pass", func(t *testing.T) {
		called := 0
		handler := SiteGate(gate, nil, nil)(okHandler(&called))

		for _, path := range []string{"/site-access", "/api/site-access", "/api/health", "/api/webhooks/stripe", "/api/auth/login"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
		assert.Equal(t, 5, called)
	})

	t.Run("disabled gate is transparent", func(t *testing.T) {
		called := 0
		handler := SiteGate(sitegate.New(config.GateConfig{}, false), nil, nil)(okHandler(&called))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
		assert.Equal(t, 1, called)
	})
}
