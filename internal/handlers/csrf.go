package handlers

import (
	"net/http"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/csrf"
	"github.com/invitegen/edgegate/internal/metrics"
)

// CSRFTokenResponse is the body of GET /api/csrf-token.
type CSRFTokenResponse struct {
	Token string `json:"token"`
}

// CSRFHandler hands the current double-submit token to page scripts.
type CSRFHandler struct {
	secure bool
	errors *apierror.Writer
}

// NewCSRFHandler creates a CSRFHandler. secure sets the cookie Secure flag
// when the handler has to mint a token itself.
func NewCSRFHandler(secure bool, errs *apierror.Writer) *CSRFHandler {
	if errs == nil {
		errs = apierror.NewWriter(apierror.Structured)
	}
	return &CSRFHandler{secure: secure, errors: errs}
}

// Token returns the token for this request. The admission chain normally
// issues one already; otherwise a fresh cookie is set here.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	token := csrf.RequestToken(r)
	if token == "" {
		var err error
		token, err = csrf.GenerateToken()
		if err != nil {
			h.errors.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "Failed to issue CSRF token")
			return
		}
		http.SetCookie(w, csrf.NewCookie(token, h.secure))
		metrics.RecordCSRFTokenIssued()
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, CSRFTokenResponse{Token: token})
}
