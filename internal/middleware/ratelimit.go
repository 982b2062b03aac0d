package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/internal/ratelimit"
	"github.com/invitegen/edgegate/pkg/logger"
)

// DefaultRateLimitMessage is the 429 body message.
const DefaultRateLimitMessage = "Too many requests"

// Recorder receives admission rejections.
type Recorder interface {
	Record(audit.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(audit.Event) {}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Limiter  *ratelimit.Limiter
	Policies *policy.Store
	KeyFunc  ratelimit.KeyFunc // Base client identity; nil means ClientKey
	Errors   *apierror.Writer
	Message  string
	Recorder Recorder
	Log      *logger.Logger
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Policies == nil {
		c.Policies = policy.NewStore(policy.Defaults())
	}
	if c.KeyFunc == nil {
		c.KeyFunc = ClientKey
	}
	if c.Errors == nil {
		c.Errors = apierror.NewWriter(apierror.Structured)
	}
	if c.Message == "" {
		c.Message = DefaultRateLimitMessage
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Log == nil {
		c.Log = logger.Nop()
	}
	return c
}

// RateLimit applies the longest-prefix policy to /api/ paths. Paths
// exempted from ratelimit and paths without a policy pass through. Store
// errors are logged and the request is admitted.
func RateLimit(cfg RateLimitConfig) Middleware {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			set := cfg.Policies.Load()

			if !strings.HasPrefix(path, "/api/") || set.Bypasses(path, policy.BypassRateLimit) {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := set.Match(path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimitCheck(p.Name)
			result, err := cfg.Limiter.Check(r.Context(), r, p.Config(cfg.KeyFunc))
			if err != nil {
				metrics.RecordRateLimitStoreError()
				cfg.Log.Warn("rate limit check failed, admitting request",
					"policy", p.Name,
					"path", path,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Success {
				metrics.RecordRateLimited(p.Name)
				cfg.Recorder.Record(audit.Event{Kind: audit.KindRateLimited, Policy: p.Name, Path: path})
				WriteRateLimited(w, result, cfg.Message, cfg.Errors, cfg.Limiter.Now())
				return
			}

			SetRateLimitHeaders(w, result)
			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders sets X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (unix seconds).
func SetRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
}

// RetryAfterSeconds returns the whole seconds until the window closes,
// rounded up and never below 1.
func RetryAfterSeconds(result *ratelimit.Result, now time.Time) int {
	secs := int(math.Ceil(result.RetryAfter(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// WriteRateLimited writes the 429 response for a rejected result. An empty
// message means DefaultRateLimitMessage; a nil writer means the structured
// body.
func WriteRateLimited(w http.ResponseWriter, result *ratelimit.Result, message string, errs *apierror.Writer, now time.Time) {
	if message == "" {
		message = DefaultRateLimitMessage
	}
	if errs == nil {
		errs = apierror.NewWriter(apierror.Structured)
	}

	SetRateLimitHeaders(w, result)
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(result, now)))
	errs.Write(w, http.StatusTooManyRequests, apierror.CodeRateLimited, message)
}
