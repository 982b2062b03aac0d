// Package sitegate implements the site-wide password gate. A visitor who
// knows the shared password receives a signed cookie; requests without it
// are sent to the login page.
package sitegate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/invitegen/edgegate/internal/config"
)

// Defaults applied when config leaves a field empty.
const (
	DefaultCookieName = "site-access"
	DefaultLoginPath  = "/site-access"
	DefaultCookieTTL  = 30 * 24 * time.Hour
)

// signedMessage is the HMAC message; the password is the key.
const signedMessage = "site-access"

// Gate checks and mints site access cookies. The zero value is disabled.
type Gate struct {
	password   string
	cookieName string
	loginPath  string
	ttl        time.Duration
	secure     bool
	token      string
}

// New creates a Gate. It is disabled when cfg has no password.
func New(cfg config.GateConfig, secure bool) *Gate {
	g := &Gate{
		password:   cfg.Password,
		cookieName: cfg.CookieName,
		loginPath:  cfg.LoginPath,
		ttl:        cfg.CookieTTL,
		secure:     secure,
	}
	if g.cookieName == "" {
		g.cookieName = DefaultCookieName
	}
	if g.loginPath == "" {
		g.loginPath = DefaultLoginPath
	}
	if g.ttl <= 0 {
		g.ttl = DefaultCookieTTL
	}
	if g.password != "" {
		g.token = Sign(g.password)
	}
	return g
}

// Sign returns hex(HMAC-SHA256(password, "site-access")).
func Sign(password string) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte(signedMessage))
	return hex.EncodeToString(mac.Sum(nil))
}

// Enabled reports whether a password is configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.password != ""
}

// CookieName returns the access cookie name.
func (g *Gate) CookieName() string {
	return g.cookieName
}

// LoginPath returns the page unauthenticated visitors are sent to.
func (g *Gate) LoginPath() string {
	return g.loginPath
}

// Allowed reports whether r carries a valid access cookie. A disabled gate
// allows everything.
func (g *Gate) Allowed(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	c, err := r.Cookie(g.cookieName)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(c.Value), []byte(g.token))
}

// CheckPassword compares pw with the configured password in constant time.
func (g *Gate) CheckPassword(pw string) bool {
	if !g.Enabled() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pw), []byte(g.password)) == 1
}

// Cookie mints the access cookie.
func (g *Gate) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     g.cookieName,
		Value:    g.token,
		Path:     "/",
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// RedirectURL returns the login path with the original request path as next.
func (g *Gate) RedirectURL(r *http.Request) string {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	return g.loginPath + "?next=" + url.QueryEscape(next)
}
