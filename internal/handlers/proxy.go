package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/pkg/logger"
)

// NewProxy returns a handler forwarding admitted requests to upstream. An
// empty upstream yields a JSON 404 for every request.
func NewProxy(upstream string, errs *apierror.Writer, log *logger.Logger) (http.Handler, error) {
	if errs == nil {
		errs = apierror.NewWriter(apierror.Structured)
	}
	if log == nil {
		log = logger.Nop()
	}

	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			errs.Write(w, http.StatusNotFound, apierror.CodeNotFound, "Not found")
		}), nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", upstream)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("upstream request failed",
				"path", r.URL.Path,
				"error", err,
			)
			errs.Write(w, http.StatusBadGateway, apierror.CodeBadGateway, "Upstream unavailable")
		},
	}
	return proxy, nil
}
