package mw

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HumaAuthConfig holds dependencies for the Huma auth middleware.
type HumaAuthConfig struct {
	IsSuperadmin func(identity string) bool
	Logger       *slog.Logger
}

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// OperationMetadataKey is the key for storing additional operation requirements.
type OperationMetadataKey string

const (
	// MetaKeyOptionalAuth marks operations that run with or without an identity.
	MetaKeyOptionalAuth OperationMetadataKey = "optionalAuth"
	// MetaKeyRequireSuperadmin is metadata key for superadmin requirement.
	MetaKeyRequireSuperadmin OperationMetadataKey = "requireSuperadmin"
)

// HumaAuth returns a Huma middleware that enforces each operation's identity
// requirements against the claims resolved by Identity.
//
// Operations without bearerAuth security are public. Optional-auth operations
// always proceed and receive whatever identity was resolved. All others need
// an identity; superadmin operations additionally need a verified token whose
// subject is a configured superadmin.
func HumaAuth(api huma.API, cfg HumaAuthConfig) func(ctx huma.Context, next func(huma.Context)) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !operationRequiresAuth(op) || metaFlag(op, MetaKeyOptionalAuth) {
			next(ctx)
			return
		}

		stdCtx := ctx.Context()
		claims := GetUserClaims(stdCtx)
		if claims == nil {
			msg := "authentication required"
			if TokenError(stdCtx) != nil {
				msg = "invalid token"
			}
			huma.WriteErr(api, ctx, http.StatusUnauthorized, msg)
			return
		}

		if metaFlag(op, MetaKeyRequireSuperadmin) {
			if claims.Anonymous || cfg.IsSuperadmin == nil || !cfg.IsSuperadmin(claims.UserID) {
				logger.DebugContext(stdCtx, "superadmin check failed",
					"user_id", claims.UserID,
					"operation", op.OperationID,
				)
				huma.WriteErr(api, ctx, http.StatusForbidden, "superadmin access required")
				return
			}
		}

		next(ctx)
	}
}

// operationRequiresAuth checks if the operation has bearerAuth in its security requirements.
func operationRequiresAuth(op *huma.Operation) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[SecurityScheme]; ok {
			return true
		}
	}
	return false
}

func metaFlag(op *huma.Operation, key OperationMetadataKey) bool {
	if op.Metadata == nil {
		return false
	}
	b, _ := op.Metadata[string(key)].(bool)
	return b
}
