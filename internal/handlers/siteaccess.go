package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/middleware"
	"github.com/invitegen/edgegate/internal/sitegate"
	"github.com/invitegen/edgegate/pkg/logger"
)

// maxSiteAccessBody caps the login request body.
const maxSiteAccessBody = 4 << 10

// SiteAccessRequest is the body of POST /api/site-access.
type SiteAccessRequest struct {
	Password string `json:"password"`
}

// SiteAccessResponse is returned on a correct password.
type SiteAccessResponse struct {
	Success bool `json:"success"`
}

// SiteAccessHandler exchanges the site password for the access cookie.
type SiteAccessHandler struct {
	gate   *sitegate.Gate
	errors *apierror.Writer
	log    *logger.Logger
}

// NewSiteAccessHandler creates a SiteAccessHandler.
func NewSiteAccessHandler(gate *sitegate.Gate, errs *apierror.Writer, log *logger.Logger) *SiteAccessHandler {
	if errs == nil {
		errs = apierror.NewWriter(apierror.Structured)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SiteAccessHandler{gate: gate, errors: errs, log: log}
}

// Login validates the password and sets the access cookie.
func (h *SiteAccessHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.gate.Enabled() {
		h.errors.Write(w, http.StatusNotFound, apierror.CodeNotFound, "Site access is not enabled")
		return
	}

	var req SiteAccessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSiteAccessBody)).Decode(&req); err != nil {
		h.errors.Write(w, http.StatusBadRequest, apierror.CodeBadRequest, "Invalid request body")
		return
	}

	if !h.gate.CheckPassword(req.Password) {
		h.log.Info("site access denied", "client_ip", middleware.ClientKey(r))
		h.errors.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "Incorrect password")
		return
	}

	http.SetCookie(w, h.gate.Cookie())
	writeJSON(w, http.StatusOK, SiteAccessResponse{Success: true})
}
