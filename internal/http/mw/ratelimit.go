package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// IdentityRequestsPerMinute limits each resolved identity (0 = unlimited).
	IdentityRequestsPerMinute int
	// IPRequestsPerMinute limits callers without an identity by IP.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns the production limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		IdentityRequestsPerMinute: 60,
		IPRequestsPerMinute:       30,
	}
}

// identityKey keys verified callers by identity. The shared anonymous identity
// and unresolved callers are keyed by IP.
func identityKey(r *http.Request) (string, error) {
	claims := GetUserClaims(r.Context())
	if claims == nil || claims.Anonymous || claims.UserID == "" {
		return httprate.KeyByIP(r)
	}
	return "user:" + claims.UserID, nil
}

// RateLimitByIdentity returns a middleware that rate limits by resolved
// identity. Must run after Identity. Falls back to IP-based limiting for
// callers without a verified identity.
func RateLimitByIdentity(cfg RateLimitConfig) func(http.Handler) http.Handler {
	var userLimiter *httprate.RateLimiter
	if cfg.IdentityRequestsPerMinute > 0 {
		userLimiter = httprate.NewRateLimiter(
			cfg.IdentityRequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(identityKey),
		)
	}
	ipLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		verified := http.Handler(next)
		if userLimiter != nil {
			verified = userLimiter.Handler(next)
		}
		anonymous := ipLimiter.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserClaims(r.Context())
			if claims != nil && !claims.Anonymous {
				verified.ServeHTTP(w, r)
				return
			}
			anonymous.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
