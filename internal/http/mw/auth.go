// Package mw contains HTTP middleware for the genstudio-api.
package mw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmylchreest/genstudio-api/internal/auth"
	"github.com/jmylchreest/genstudio-api/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
	// authErrorKey holds the verification error of a rejected token.
	authErrorKey ContextKey = "auth_error"
)

// UserClaims is the resolved caller.
type UserClaims struct {
	UserID    string // Token subject, or the configured anonymous identity
	Email     string
	Name      string
	Anonymous bool // Resolved from configuration, not from a token
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Claims, error)
}

// IdentityConfig configures identity resolution.
type IdentityConfig struct {
	Verifier          TokenVerifier // nil disables token verification
	AnonymousIdentity string        // Used when no token resolves ("" = none)
	Logger            *slog.Logger
}

// Identity resolves the caller from the Authorization header and stores the
// claims in the request context. A rejected token never falls back to the
// anonymous identity. It never rejects a request: operations decide whether an
// unresolved identity is acceptable (see HumaAuth).
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token := bearerToken(r.Header.Get("Authorization")); token != "" {
				claims, err := verify(ctx, cfg.Verifier, token)
				if err != nil {
					logger.DebugContext(ctx, "token rejected", "error", err)
					ctx = context.WithValue(ctx, authErrorKey, err)
				} else {
					ctx = WithUserClaims(ctx, claims)
				}
			}

			if GetUserClaims(ctx) == nil && TokenError(ctx) == nil && cfg.AnonymousIdentity != "" {
				ctx = WithUserClaims(ctx, &UserClaims{UserID: cfg.AnonymousIdentity, Anonymous: true})
			}

			if claims := GetUserClaims(ctx); claims != nil {
				ctx = logging.WithUserID(ctx, claims.UserID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verify(ctx context.Context, verifier TokenVerifier, token string) (*UserClaims, error) {
	if verifier == nil {
		return nil, auth.ErrNotConfigured
	}
	claims, err := verifier.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &UserClaims{
		UserID: claims.Identity(),
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(header)
}

// WithUserClaims returns ctx carrying claims.
func WithUserClaims(ctx context.Context, claims *UserClaims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetUserID returns the resolved identity, or "" when none was resolved.
func GetUserID(ctx context.Context) string {
	if claims := GetUserClaims(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// TokenError returns the verification error of a presented but rejected token.
func TokenError(ctx context.Context) error {
	err, _ := ctx.Value(authErrorKey).(error)
	return err
}
