package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/genstudio-api/internal/http/handlers"
	"github.com/jmylchreest/genstudio-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// Pass real handler implementations for the main server, or stub implementations
// for OpenAPI generation. Raw routes (assets, webhooks) are mounted on the chi
// router by the caller; only the asset route is documented here.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	mw.PublicGet(api, "/api/v1/models", h.Models.ListModels,
		mw.WithTags("Models"),
		mw.WithSummary("List models"),
		mw.WithDescription("Returns enabled models with their credit cost, capability, required inputs and parameter schema."),
		mw.WithOperationID("listModels"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)

	handlers.DocumentAssetEndpoint(api)

	// =========================================================================
	// Generation (identity optional: anonymous and degraded callers are
	// resolved by the orchestrator)
	// =========================================================================

	mw.ProtectedPost(api, "/api/v1/generate", h.Generate.Generate,
		mw.WithOptionalAuth(),
		mw.WithTags("Generation"),
		mw.WithSummary("Run a model"),
		mw.WithDescription("Checks and debits the credit cost, invokes the provider once per requested output and returns stable asset references."),
		mw.WithOperationID("generate"),
		mw.WithErrors(http.StatusBadRequest, http.StatusUnauthorized, http.StatusPaymentRequired,
			http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout))

	// =========================================================================
	// Protected Routes (require an identity)
	// =========================================================================

	mw.ProtectedGet(api, "/api/v1/generations", h.Generations.ListGenerations,
		mw.WithTags("Generations"),
		mw.WithSummary("List generations"),
		mw.WithOperationID("listGenerations"))
	mw.ProtectedGet(api, "/api/v1/generations/{id}", h.Generations.GetGeneration,
		mw.WithTags("Generations"),
		mw.WithSummary("Get generation"),
		mw.WithOperationID("getGeneration"),
		mw.WithErrors(http.StatusNotFound))

	mw.ProtectedGet(api, "/api/v1/balance", h.Balance.GetBalance,
		mw.WithTags("Balance"),
		mw.WithSummary("Get credit balance"),
		mw.WithOperationID("getBalance"))
	mw.ProtectedGet(api, "/api/v1/balance/transactions", h.Balance.ListTransactions,
		mw.WithTags("Balance"),
		mw.WithSummary("List ledger transactions"),
		mw.WithOperationID("listTransactions"))

	// --- Admin Routes (require superadmin, hidden from OpenAPI) ---
	mw.ProtectedPost(api, "/api/v1/admin/refunds", h.Admin.Refund,
		mw.WithTags("Admin"),
		mw.WithSummary("Refund a generation"),
		mw.WithOperationID("adminRefund"),
		mw.WithSuperadmin(),
		mw.WithHidden())
	mw.ProtectedPost(api, "/api/v1/admin/adjustments", h.Admin.Adjust,
		mw.WithTags("Admin"),
		mw.WithSummary("Adjust a balance"),
		mw.WithOperationID("adminAdjust"),
		mw.WithSuperadmin(),
		mw.WithHidden())
}
