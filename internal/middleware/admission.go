package middleware

import (
	"net/http"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/internal/ratelimit"
	"github.com/invitegen/edgegate/internal/sitegate"
	"github.com/invitegen/edgegate/pkg/logger"
)

// AdmissionConfig wires the edge checks together.
type AdmissionConfig struct {
	Policies         *policy.Store
	Limiter          *ratelimit.Limiter // nil disables rate limiting
	Gate             *sitegate.Gate     // nil or passwordless disables the gate
	CSRF             bool
	SecureCookies    bool
	Errors           *apierror.Writer
	Recorder         Recorder
	KeyFunc          ratelimit.KeyFunc
	RateLimitMessage string
	Log              *logger.Logger
}

// Admission runs, in order: static asset skip (safe methods only), site gate, rate limit, CSRF
// validation, CSRF cookie issuance, security headers. The first rejection
// ends the request.
func Admission(cfg AdmissionConfig) Middleware {
	if cfg.Policies == nil {
		cfg.Policies = policy.NewStore(policy.Defaults())
	}

	var steps []Middleware
	if cfg.Gate.Enabled() {
		steps = append(steps, SiteGate(cfg.Gate, cfg.Policies, cfg.Recorder))
	}
	if cfg.Limiter != nil {
		steps = append(steps, RateLimit(RateLimitConfig{
			Limiter:  cfg.Limiter,
			Policies: cfg.Policies,
			KeyFunc:  cfg.KeyFunc,
			Errors:   cfg.Errors,
			Message:  cfg.RateLimitMessage,
			Recorder: cfg.Recorder,
			Log:      cfg.Log,
		}))
	}
	if cfg.CSRF {
		csrfCfg := CSRFConfig{
			Policies:      cfg.Policies,
			Errors:        cfg.Errors,
			Recorder:      cfg.Recorder,
			SecureCookies: cfg.SecureCookies,
			Log:           cfg.Log,
		}
		steps = append(steps, CSRF(csrfCfg), CSRFCookie(csrfCfg))
	}
	steps = append(steps, SecurityHeaders())

	chain := New(steps...)

	return func(next http.Handler) http.Handler {
		admitted := chain.Then(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipsAdmission(r) {
				next.ServeHTTP(w, r)
				return
			}
			admitted.ServeHTTP(w, r)
		})
	}
}
