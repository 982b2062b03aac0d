// Package csrf implements double-submit cookie protection.
//
// A random token is stored in a cookie that page scripts can read. State
// changing requests must echo it in the X-CSRF-Token header; a page on
// another origin cannot read the cookie, so it cannot forge the header.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// CookieName is the cookie holding the token.
	CookieName = "csrf-token"
	// HeaderName is the header that must echo the token.
	HeaderName = "X-CSRF-Token"
	// TokenBytes is the number of random bytes in a token.
	TokenBytes = 32
	// TokenTTL is the cookie lifetime.
	TokenTTL = 24 * time.Hour
)

// Validation errors.
var (
	ErrMissingCookie = errors.New("CSRF cookie missing")
	ErrMissingHeader = errors.New("CSRF header missing")
	ErrTokenMismatch = errors.New("CSRF token mismatch")
)

// Reason identifies why validation failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMissingCookie Reason = "missing_cookie"
	ReasonMissingHeader Reason = "missing_header"
	ReasonMismatch      Reason = "mismatch"
)

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Reason Reason
}

// Err returns the sentinel error matching the reason, or nil when valid.
func (r Result) Err() error {
	switch r.Reason {
	case ReasonMissingCookie:
		return ErrMissingCookie
	case ReasonMissingHeader:
		return ErrMissingHeader
	case ReasonMismatch:
		return ErrTokenMismatch
	default:
		return nil
	}
}

// GenerateToken returns a hex-encoded random token.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewCookie builds the token cookie. It is not HttpOnly because client
// script must read it to set the header.
func NewCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TokenTTL.Seconds()),
		Expires:  time.Now().Add(TokenTTL),
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// TokenFromRequest returns the cookie token, or "" if absent.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

type contextKey struct{}

// WithToken records a token issued during this request, before the client
// has echoed it back as a cookie.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// RequestToken returns the token issued during this request, falling back
// to the cookie token.
func RequestToken(r *http.Request) string {
	if token, ok := r.Context().Value(contextKey{}).(string); ok && token != "" {
		return token
	}
	return TokenFromRequest(r)
}

// IsSafeMethod reports whether method never changes state.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Validate checks the double-submit pair on r.
// Safe methods always pass.
func Validate(r *http.Request) Result {
	if IsSafeMethod(r.Method) {
		return Result{Valid: true}
	}

	cookieToken := TokenFromRequest(r)
	if cookieToken == "" {
		return Result{Reason: ReasonMissingCookie}
	}

	headerToken := r.Header.Get(HeaderName)
	if headerToken == "" {
		return Result{Reason: ReasonMissingHeader}
	}

	if !Equal(cookieToken, headerToken) {
		return Result{Reason: ReasonMismatch}
	}

	return Result{Valid: true}
}

// Equal compares tokens in constant time for equal lengths. Token length
// is not secret, so a length mismatch returns early.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
