package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/internal/ratelimit"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type recordingRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingRecorder) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration, time.Time) (ratelimit.Record, error) {
	return ratelimit.Record{}, errors.New("store unavailable")
}
func (brokenStore) Reset(context.Context, string) error { return nil }
func (brokenStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
func (brokenStore) Close() error { return nil }

func fixedLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.WithClock(func() time.Time { return testNow }))
}

func testPolicies(limit int) *policy.Store {
	set := policy.Defaults()
	set.Policies = []policy.Policy{
		{Name: "auth", PathPrefix: "/api/auth", Limit: limit, Window: 15 * time.Minute, KeyBy: policy.KeyByIP},
		{Name: "api", PathPrefix: "/api/", Limit: limit, Window: time.Minute, KeyBy: policy.KeyByIP},
	}
	return policy.NewStore(set)
}

func okHandler(called *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called++
		w.WriteHeader(http.StatusOK)
	})
}

func apiRequest(method, path, ip string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	return req
}

func TestRateLimit(t *testing.T) {
	t.Run("admits within budget and sets headers", func(t *testing.T) {
		called := 0
		handler := RateLimit(RateLimitConfig{Limiter: fixedLimiter(), Policies: testPolicies(3)})(okHandler(&called))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))

		assert.Equal(t, 1, called)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, strconv.FormatInt(testNow.Add(time.Minute).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("rejects past budget", func(t *testing.T) {
		called := 0
		recorder := &recordingRecorder{}
		handler := RateLimit(RateLimitConfig{
			Limiter:  fixedLimiter(),
			Policies: testPolicies(2),
			Recorder: recorder,
		})(okHandler(&called))

		var rec *httptest.ResponseRecorder
		for i := 0; i < 3; i++ {
			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/auth/session", "10.0.0.1"))
		}

		assert.Equal(t, 2, called)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "900", rec.Header().Get("Retry-After"))

		var body apierror.StructuredBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, apierror.CodeRateLimited, body.Error.Code)
		assert.Equal(t, DefaultRateLimitMessage, body.Error.Message)

		require.Len(t, recorder.events, 1)
		assert.Equal(t, audit.Event{Kind: audit.KindRateLimited, Policy: "auth", Path: "/api/auth/session"}, recorder.events[0])
	})

	t.Run("callers have separate budgets", func(t *testing.T) {
		called := 0
		handler := RateLimit(RateLimitConfig{Limiter: fixedLimiter(), Policies: testPolicies(1)})(okHandler(&called))

		handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))
		handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/events", "10.0.0.2"))

		assert.Equal(t, 2, called)
	})

	t.Run("policies do not share buckets", func(t *testing.T) {
		called := 0
		handler := RateLimit(RateLimitConfig{Limiter: fixedLimiter(), Policies: testPolicies(1)})(okHandler(&called))

		handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/auth/me", "10.0.0.1"))
		handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))

		assert.Equal(t, 2, called)
	})

	t.Run("non api and exempt paths are not counted", func(t *testing.T) {
		called := 0
		handler := RateLimit(RateLimitConfig{Limiter: fixedLimiter(), Policies: testPolicies(1)})(okHandler(&called))

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/dashboard", "10.0.0.1"))
			assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
			handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/health", "10.0.0.1"))
		}

		assert.Equal(t, 6, called)
	})

	t.Run("store errors fail open", func(t *testing.T) {
		called := 0
		limiter := ratelimit.NewLimiter(brokenStore{})
		handler := RateLimit(RateLimitConfig{Limiter: limiter, Policies: testPolicies(1)})(okHandler(&called))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))

		assert.Equal(t, 1, called)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("legacy error body", func(t *testing.T) {
		called := 0
		handler := RateLimit(RateLimitConfig{
			Limiter:  fixedLimiter(),
			Policies: testPolicies(1),
			Errors:   apierror.NewWriter(apierror.Legacy),
		})(okHandler(&called))

		handler.ServeHTTP(httptest.NewRecorder(), apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/events", "10.0.0.1"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
	})
}

func TestWriteRateLimited(t *testing.T) {
	result := &ratelimit.Result{
		Success:   false,
		Remaining: 0,
		ResetTime: testNow.Add(60 * time.Second),
		Limit:     10,
	}

	t.Run("retry after within window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteRateLimited(rec, result, "", nil, testNow.Add(500*time.Millisecond))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.Equal(t, 60, retry)
	})

	t.Run("custom message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteRateLimited(rec, result, "Slow down", nil, testNow)

		var body apierror.StructuredBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Slow down", body.Error.Message)
		assert.False(t, body.Success)
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	result := &ratelimit.Result{ResetTime: testNow.Add(10 * time.Second)}

	assert.Equal(t, 10, RetryAfterSeconds(result, testNow))
	assert.Equal(t, 10, RetryAfterSeconds(result, testNow.Add(100*time.Millisecond)))
	assert.Equal(t, 1, RetryAfterSeconds(result, testNow.Add(10*time.Second)))
	assert.Equal(t, 1, RetryAfterSeconds(result, testNow.Add(time.Hour)))
}
