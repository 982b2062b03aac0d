// Package ratelimit provides fixed-window rate limiting.
//
// Each key owns a counter tied to the moment its window opened. Requests
// inside the window increment the counter; the first request after the
// window has elapsed replaces the record with a fresh one. Counting does
// not stop at the limit, so a flood keeps the record hot while the
// reported remaining budget stays at zero.
//
// The default MemoryStore is scoped to a single process: running N replicas
// gives each caller up to N times the configured budget.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// MinWindow is the shortest window a store can express.
const MinWindow = time.Millisecond

// ErrInvalidConfig is returned when the limit is not positive or the window
// is shorter than MinWindow.
var ErrInvalidConfig = errors.New("rate limit config requires positive limit and window of at least 1ms")

// Record is the counter state for one key.
type Record struct {
	Key         string
	Count       int
	WindowStart time.Time
	Window      time.Duration
}

// ResetTime returns the instant the record's window closes.
func (r Record) ResetTime() time.Time {
	return r.WindowStart.Add(r.Window)
}

// Expired reports whether the window has elapsed at now.
func (r Record) Expired(now time.Time) bool {
	return now.Sub(r.WindowStart) > r.Window
}

// Store holds fixed-window records.
type Store interface {
	// Increment counts one request for key and returns the updated record.
	// A missing or expired record is replaced by {Count: 1, WindowStart: now}.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)

	// Reset clears the record for key.
	Reset(ctx context.Context, key string) error

	// Sweep removes expired records and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Config is a {limit, window} pair plus the key derivation.
type Config struct {
	Limit   int           // Maximum requests per window
	Window  time.Duration // Window length
	KeyFunc KeyFunc       // Nil means IPKey
}

// Validate checks that the limit and window are usable.
func (c Config) Validate() error {
	if c.Limit <= 0 || c.Window < MinWindow {
		return ErrInvalidConfig
	}
	return nil
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Success   bool      // Whether the request is admitted
	Remaining int       // Requests left in the window, floored at 0
	ResetTime time.Time // When the current window closes
	Limit     int       // The configured limit
}

// RetryAfter returns the time until the window closes, never negative.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter applies Configs against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Limiter) Store() Store {
	return l.store
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Check derives the key from r with cfg.KeyFunc and counts the request.
func (l *Limiter) Check(ctx context.Context, r *http.Request, cfg Config) (*Result, error) {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = IPKey
	}
	return l.CheckKey(ctx, keyFunc(r), cfg)
}

// CheckKey counts one request against key.
func (l *Limiter) CheckKey(ctx context.Context, key string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rec, err := l.store.Increment(ctx, key, cfg.Window, l.now())
	if err != nil {
		return nil, err
	}

	return resultFor(rec, cfg.Limit), nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

func resultFor(rec Record, limit int) *Result {
	res := &Result{
		Success:   rec.Count <= limit,
		ResetTime: rec.ResetTime(),
		Limit:     limit,
	}
	if res.Success {
		res.Remaining = limit - rec.Count
	}
	return res
}
