// Package policy holds the admission rule tables: named rate limit policies
// matched by path prefix, and one exemption table saying which checks each
// path prefix bypasses.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/invitegen/edgegate/internal/ratelimit"
)

// KeyBy selects how a policy derives the caller identity.
type KeyBy string

const (
	// KeyByIP gives each client IP its own budget.
	KeyByIP KeyBy = "ip"
	// KeyByIPRoute salts the client IP with the policy prefix.
	KeyByIPRoute KeyBy = "ip_route"
	// KeyByRoute pools all callers of the prefix into one budget.
	KeyByRoute KeyBy = "route"
)

// Bypass names an admission check a path may skip.
type Bypass string

const (
	BypassGate      Bypass = "gate"
	BypassCSRF      Bypass = "csrf"
	BypassRateLimit Bypass = "ratelimit"
)

// Validation errors.
var (
	ErrEmptyName       = errors.New("policy name is required")
	ErrDuplicatePolicy = errors.New("duplicate policy")
	ErrInvalidPrefix   = errors.New("path prefix must start with /")
	ErrInvalidBudget   = errors.New("policy limit must be positive and window at least 1ms")
	ErrInvalidKeyBy    = errors.New("invalid key_by")
	ErrInvalidBypass   = errors.New("invalid bypass")
)

// Policy is a named budget applied to a path prefix.
type Policy struct {
	Name       string
	PathPrefix string
	Limit      int
	Window     time.Duration
	KeyBy      KeyBy
}

// Config turns the policy into a limiter config. base derives the client
// identity; nil means ratelimit.IPKey. Keys are namespaced by policy name so
// policies sharing a store never share a bucket.
func (p Policy) Config(base ratelimit.KeyFunc) ratelimit.Config {
	if base == nil {
		base = ratelimit.IPKey
	}

	var fn ratelimit.KeyFunc
	switch p.KeyBy {
	case KeyByIPRoute:
		fn = ratelimit.SaltedKey(base, p.PathPrefix)
	case KeyByRoute:
		fn = ratelimit.ConstantKey(p.PathPrefix)
	default:
		fn = base
	}

	return ratelimit.Config{
		Limit:   p.Limit,
		Window:  p.Window,
		KeyFunc: ratelimit.NamespacedKey(p.Name, fn),
	}
}

// Exemption lists the checks skipped for a path prefix.
type Exemption struct {
	PathPrefix string
	Bypass     []Bypass
}

// Skips reports whether the exemption includes b.
func (e Exemption) Skips(b Bypass) bool {
	for _, x := range e.Bypass {
		if x == b {
			return true
		}
	}
	return false
}

// Set is a complete rule table.
type Set struct {
	Policies   []Policy
	Exemptions []Exemption
}

// Defaults returns the built-in table.
func Defaults() *Set {
	preset := func(name, prefix string, keyBy KeyBy) Policy {
		cfg := ratelimit.Presets[name]
		return Policy{
			Name:       name,
			PathPrefix: prefix,
			Limit:      cfg.Limit,
			Window:     cfg.Window,
			KeyBy:      keyBy,
		}
	}

	return &Set{
		Policies: []Policy{
			preset(ratelimit.PresetAuth, "/api/auth", KeyByIP),
			preset(ratelimit.PresetAI, "/api/ai", KeyByIPRoute),
			preset(ratelimit.PresetRSVP, "/api/rsvp", KeyByIP),
			preset(ratelimit.PresetPublicView, "/api/public", KeyByIP),
			preset(ratelimit.PresetUpload, "/api/upload", KeyByIP),
			preset(ratelimit.PresetAPI, "/api/", KeyByIP),
		},
		Exemptions: []Exemption{
			// No session exists yet to forge.
			{PathPrefix: "/api/auth/login", Bypass: []Bypass{BypassCSRF, BypassGate}},
			{PathPrefix: "/api/auth/signup", Bypass: []Bypass{BypassCSRF, BypassGate}},
			{PathPrefix: "/api/auth/callback", Bypass: []Bypass{BypassCSRF, BypassGate}},
			// Third parties authenticate with signatures, not cookies.
			{PathPrefix: "/api/webhooks/", Bypass: []Bypass{BypassCSRF, BypassGate}},
			// Public unauthenticated submissions.
			{PathPrefix: "/api/rsvp", Bypass: []Bypass{BypassCSRF, BypassGate}},
			{PathPrefix: "/api/site-access", Bypass: []Bypass{BypassCSRF, BypassGate}},
			{PathPrefix: "/site-access", Bypass: []Bypass{BypassGate}},
			{PathPrefix: "/api/health", Bypass: []Bypass{BypassGate, BypassRateLimit}},
		},
	}
}

// Validate checks names, prefixes, budgets and enum values.
func (s *Set) Validate() error {
	seen := make(map[string]bool)
	for _, p := range s.Policies {
		if p.Name == "" {
			return ErrEmptyName
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicatePolicy, p.Name)
		}
		seen[p.Name] = true

		if !strings.HasPrefix(p.PathPrefix, "/") {
			return fmt.Errorf("policy %s: %w: %q", p.Name, ErrInvalidPrefix, p.PathPrefix)
		}
		if p.Limit <= 0 || p.Window < ratelimit.MinWindow {
			return fmt.Errorf("policy %s: %w", p.Name, ErrInvalidBudget)
		}
		switch p.KeyBy {
		case "", KeyByIP, KeyByIPRoute, KeyByRoute:
		default:
			return fmt.Errorf("policy %s: %w: %q", p.Name, ErrInvalidKeyBy, p.KeyBy)
		}
	}

	for _, e := range s.Exemptions {
		if !strings.HasPrefix(e.PathPrefix, "/") {
			return fmt.Errorf("exemption: %w: %q", ErrInvalidPrefix, e.PathPrefix)
		}
		for _, b := range e.Bypass {
			switch b {
			case BypassGate, BypassCSRF, BypassRateLimit:
			default:
				return fmt.Errorf("exemption %s: %w: %q", e.PathPrefix, ErrInvalidBypass, b)
			}
		}
	}

	return nil
}

// Match returns the policy with the longest prefix matching path.
func (s *Set) Match(path string) (Policy, bool) {
	var best Policy
	found := false
	for _, p := range s.Policies {
		if matchesPrefix(path, p.PathPrefix) && (!found || len(p.PathPrefix) > len(best.PathPrefix)) {
			best = p
			found = true
		}
	}
	return best, found
}

// matchesPrefix reports whether path lies under prefix on a segment
// boundary: /api/rsvp covers /api/rsvp and /api/rsvp/x but not
// /api/rsvp-admin. A prefix ending in "/" covers everything beneath it.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// Bypasses reports whether any exemption matching path skips b.
func (s *Set) Bypasses(path string, b Bypass) bool {
	for _, e := range s.Exemptions {
		if matchesPrefix(path, e.PathPrefix) && e.Skips(b) {
			return true
		}
	}
	return false
}

// LongestWindow returns the largest policy window, or fallback.
func (s *Set) LongestWindow(fallback time.Duration) time.Duration {
	cfgs := make([]ratelimit.Config, 0, len(s.Policies))
	for _, p := range s.Policies {
		cfgs = append(cfgs, ratelimit.Config{Limit: p.Limit, Window: p.Window})
	}
	return ratelimit.LongestWindow(fallback, cfgs...)
}

// Store holds the active Set and allows swapping it while requests run.
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore creates a Store holding set.
func NewStore(set *Set) *Store {
	s := &Store{}
	s.current.Store(set)
	return s
}

// Load returns the active set.
func (s *Store) Load() *Set {
	return s.current.Load()
}

// Swap replaces the active set and returns the previous one.
func (s *Store) Swap(set *Set) *Set {
	return s.current.Swap(set)
}
