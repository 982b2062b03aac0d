package middleware

import (
	"net/http"

	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/internal/sitegate"
)

// SiteGate redirects visitors without a valid site access cookie to the
// gate's login path. The login path itself and gate-exempt paths pass.
func SiteGate(gate *sitegate.Gate, policies *policy.Store, recorder Recorder) Middleware {
	if policies == nil {
		policies = policy.NewStore(policy.Defaults())
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return func(next http.Handler) http.Handler {
		if !gate.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == gate.LoginPath() ||
				policies.Load().Bypasses(path, policy.BypassGate) ||
				gate.Allowed(r) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordSiteGateRedirect()
			recorder.Record(audit.Event{Kind: audit.KindGateRedirect, Path: path})
			http.Redirect(w, r, gate.RedirectURL(r), http.StatusTemporaryRedirect)
		})
	}
}
