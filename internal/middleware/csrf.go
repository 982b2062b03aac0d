package middleware

import (
	"net/http"
	"strings"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/csrf"
	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/pkg/logger"
)

// CSRFRejectedMessage is the 403 body message.
const CSRFRejectedMessage = "Invalid CSRF token"

// CSRFConfig holds configuration for the CSRF middlewares.
type CSRFConfig struct {
	Policies      *policy.Store
	Errors        *apierror.Writer
	Recorder      Recorder
	SecureCookies bool
	Log           *logger.Logger
}

func (c CSRFConfig) withDefaults() CSRFConfig {
	if c.Policies == nil {
		c.Policies = policy.NewStore(policy.Defaults())
	}
	if c.Errors == nil {
		c.Errors = apierror.NewWriter(apierror.Structured)
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Log == nil {
		c.Log = logger.Nop()
	}
	return c
}

// CSRF rejects state-changing /api/ requests whose X-CSRF-Token header does
// not match the csrf-token cookie. Exempt paths pass through.
func CSRF(cfg CSRFConfig) Middleware {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if !strings.HasPrefix(path, "/api/") ||
				csrf.IsSafeMethod(r.Method) ||
				cfg.Policies.Load().Bypasses(path, policy.BypassCSRF) {
				next.ServeHTTP(w, r)
				return
			}

			result := csrf.Validate(r)
			if !result.Valid {
				metrics.RecordCSRFRejected(string(result.Reason))
				cfg.Recorder.Record(audit.Event{Kind: audit.KindCSRFRejected, Policy: string(result.Reason), Path: path})
				cfg.Log.Debug("csrf validation failed",
					"path", path,
					"method", r.Method,
					"reason", string(result.Reason),
				)
				cfg.Errors.Write(w, http.StatusForbidden, apierror.CodeCSRFValidationFailed, CSRFRejectedMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CSRFCookie issues a token cookie to requests that do not carry one. The
// new token is also placed in the request context for handlers.
func CSRFCookie(cfg CSRFConfig) Middleware {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if csrf.TokenFromRequest(r) != "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := csrf.GenerateToken()
			if err != nil {
				cfg.Log.Error("failed to issue csrf token", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			http.SetCookie(w, csrf.NewCookie(token, cfg.SecureCookies))
			metrics.RecordCSRFTokenIssued()
			next.ServeHTTP(w, r.WithContext(csrf.WithToken(r.Context(), token)))
		})
	}
}
