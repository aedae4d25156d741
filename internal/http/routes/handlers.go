package routes

import (
	"context"

	"github.com/jmylchreest/genstudio-api/internal/http/handlers"
)

// GenerateHandlers defines the interface for generation.
type GenerateHandlers interface {
	Generate(ctx context.Context, input *handlers.GenerateInput) (*handlers.GenerateOutput, error)
}

// GenerationHandlers defines the interface for generation record lookups.
type GenerationHandlers interface {
	GetGeneration(ctx context.Context, input *handlers.GetGenerationInput) (*handlers.GetGenerationOutput, error)
	ListGenerations(ctx context.Context, input *handlers.ListGenerationsInput) (*handlers.ListGenerationsOutput, error)
}

// BalanceHandlers defines the interface for balance operations.
type BalanceHandlers interface {
	GetBalance(ctx context.Context, input *struct{}) (*handlers.GetBalanceOutput, error)
	ListTransactions(ctx context.Context, input *handlers.ListTransactionsInput) (*handlers.ListTransactionsOutput, error)
}

// ModelHandlers defines the interface for the model catalog.
type ModelHandlers interface {
	ListModels(ctx context.Context, input *struct{}) (*handlers.ListModelsOutput, error)
}

// AdminHandlers defines the interface for admin operations.
// These endpoints are hidden from public OpenAPI documentation.
type AdminHandlers interface {
	Refund(ctx context.Context, input *handlers.RefundInput) (*handlers.LedgerTransactionOutput, error)
	Adjust(ctx context.Context, input *handlers.AdjustInput) (*handlers.LedgerTransactionOutput, error)
}

// Handlers aggregates all handler interfaces for route registration.
// For the main server, pass real handler implementations.
// For OpenAPI generation, pass stub implementations.
type Handlers struct {
	// Public endpoints
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)

	// Kubernetes probes (hidden from docs)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.LivezOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	Generate    GenerateHandlers
	Generations GenerationHandlers
	Balance     BalanceHandlers
	Models      ModelHandlers
	Admin       AdminHandlers
}
