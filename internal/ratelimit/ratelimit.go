// Package ratelimit provides fixed-window rate limiting using the cache
// subsystem. It protects the public verification endpoint from token
// enumeration; the window is approximate and per cache backend (the memory
// driver limits per process, the valkey driver limits globally).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openledger/invitegate/internal/api"
	"github.com/openledger/invitegate/internal/cache"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Config defines rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the maximum requests allowed per window.
	RequestsPerWindow int64

	// Window is the time window for rate limiting.
	Window time.Duration

	// KeyPrefix is prepended to all rate limit keys.
	KeyPrefix string
}

// DefaultConfig returns the verification-endpoint policy: 5 requests per
// source address per minute.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerWindow: 5,
		Window:            time.Minute,
		KeyPrefix:         "ratelimit:",
	}
}

// Limiter provides rate limiting using a cache backend.
type Limiter struct {
	cache  cache.Counter
	config *Config
}

// New creates a new rate limiter.
func New(c cache.Counter, cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{
		cache:  c,
		config: cfg,
	}
}

// Limit returns the configured requests-per-window.
func (l *Limiter) Limit() int64 {
	return l.config.RequestsPerWindow
}

// Result contains the rate limit check result.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Allow checks if a request is allowed for the given key.
// Returns the result with remaining quota and reset time.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	fullKey := l.config.KeyPrefix + key

	count, resetAt, err := l.cache.Increment(ctx, fullKey, 1, l.config.Window)
	if err != nil {
		return nil, err
	}

	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= l.config.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the rate limit for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	fullKey := l.config.KeyPrefix + key
	return l.cache.Reset(ctx, fullKey)
}

// KeyFunc derives the rate limit key for a request. The server injects a
// trusted-proxy-aware extractor here; forwarding headers must never be
// honored unconditionally, or any direct caller can mint fresh windows by
// rotating X-Forwarded-For.
type KeyFunc func(*http.Request) string

// KeyFromRequest is the fallback key extractor: the connection peer's
// address with the port stripped. It ignores forwarding headers.
func KeyFromRequest(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// Middleware returns an HTTP middleware that applies rate limiting keyed by
// keyFn (nil falls back to KeyFromRequest). Rate limit headers are set on
// every response; an exhausted window yields 429 with Retry-After and the
// wrapped handler never runs, so no datastore lookup happens for
// rate-limited callers.
func (l *Limiter) Middleware(keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = KeyFromRequest
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := l.Allow(r.Context(), keyFn(r))
			if err != nil {
				// Cache backend failure: let the request through rather
				// than turning an infrastructure error into a lockout. The
				// headers are still owed on every response, so set
				// best-effort values from config.
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.RequestsPerWindow))
				w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", l.config.RequestsPerWindow))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(l.config.Window).Unix()))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				api.WriteError(w, http.StatusTooManyRequests, api.ReasonRateLimited, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
