package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/csrf"
)

func withCSRF(req *http.Request, cookie, header string) *http.Request {
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: cookie})
	}
	if header != "" {
		req.Header.Set(csrf.HeaderName, header)
	}
	return req
}

func TestCSRF(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		cookie string
		header string
		want   int
	}{
		{"matching pair passes", http.MethodPost, "/api/events", "tok", "tok", http.StatusOK},
		{"missing header rejected", http.MethodPost, "/api/events", "tok", "", http.StatusForbidden},
		{"missing cookie rejected", http.MethodDelete, "/api/events/1", "", "tok", http.StatusForbidden},
		{"mismatch rejected", http.MethodPut, "/api/events/1", "tok", "other", http.StatusForbidden},
		{"safe method passes", http.MethodGet, "/api/events", "", "", http.StatusOK},
		{"non api path passes", http.MethodPost, "/dashboard/form", "", "", http.StatusOK},
		{"login exempt", http.MethodPost, "/api/auth/login", "", "", http.StatusOK},
		{"webhook exempt", http.MethodPost, "/api/webhooks/stripe", "", "", http.StatusOK},
		{"rsvp exempt", http.MethodPost, "/api/rsvp", "", "", http.StatusOK},
		{"logout not exempt", http.MethodPost, "/api/auth/logout", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := 0
			handler := CSRF(CSRFConfig{})(okHandler(&called))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withCSRF(httptest.NewRequest(tt.method, tt.path, nil), tt.cookie, tt.header))

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, 1, called)
			} else {
				assert.Equal(t, 0, called)
			}
		})
	}
}

func TestCSRF_RejectionBody(t *testing.T) {
	recorder := &recordingRecorder{}
	called := 0
	handler := CSRF(CSRFConfig{Recorder: recorder})(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withCSRF(httptest.NewRequest(http.MethodPost, "/api/events", nil), "tok", ""))

	var body apierror.StructuredBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apierror.CodeCSRFValidationFailed, body.Error.Code)
	assert.Equal(t, CSRFRejectedMessage, body.Error.Message)

	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.KindCSRFRejected, recorder.events[0].Kind)
	assert.Equal(t, string(csrf.ReasonMissingHeader), recorder.events[0].Policy)
}

func TestCSRFCookie(t *testing.T) {
	t.Run("issues cookie when absent", func(t *testing.T) {
		var seen string
		handler := CSRFCookie(CSRFConfig{SecureCookies: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = csrf.RequestToken(r)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, csrf.CookieName, cookies[0].Name)
		assert.Len(t, cookies[0].Value, csrf.TokenBytes*2)
		assert.True(t, cookies[0].Secure)
		assert.False(t, cookies[0].HttpOnly)
		assert.Equal(t, cookies[0].Value, seen)
	})

	t.Run("keeps existing cookie", func(t *testing.T) {
		handler := CSRFCookie(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withCSRF(httptest.NewRequest(http.MethodGet, "/", nil), "existing", ""))

		assert.Empty(t, rec.Result().Cookies())
	})
}
