package routes

import (
	"context"

	"github.com/jmylchreest/genstudio-api/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// All handlers return nil responses - these are only used for OpenAPI generation
// where Huma extracts type information from function signatures.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck: stubHealthCheck,
		Livez:       handlers.Livez,
		Readyz:      stubReadyz,
		Generate:    stubGenerate{},
		Generations: stubGenerations{},
		Balance:     stubBalance{},
		Models:      stubModels{},
		Admin:       stubAdmin{},
	}
}

func stubHealthCheck(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error) {
	return nil, nil
}

func stubReadyz(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error) {
	return nil, nil
}

type stubGenerate struct{}

func (stubGenerate) Generate(ctx context.Context, input *handlers.GenerateInput) (*handlers.GenerateOutput, error) {
	return nil, nil
}

type stubGenerations struct{}

func (stubGenerations) GetGeneration(ctx context.Context, input *handlers.GetGenerationInput) (*handlers.GetGenerationOutput, error) {
	return nil, nil
}

func (stubGenerations) ListGenerations(ctx context.Context, input *handlers.ListGenerationsInput) (*handlers.ListGenerationsOutput, error) {
	return nil, nil
}

type stubBalance struct{}

func (stubBalance) GetBalance(ctx context.Context, input *struct{}) (*handlers.GetBalanceOutput, error) {
	return nil, nil
}

func (stubBalance) ListTransactions(ctx context.Context, input *handlers.ListTransactionsInput) (*handlers.ListTransactionsOutput, error) {
	return nil, nil
}

type stubModels struct{}

func (stubModels) ListModels(ctx context.Context, input *struct{}) (*handlers.ListModelsOutput, error) {
	return nil, nil
}

type stubAdmin struct{}

func (stubAdmin) Refund(ctx context.Context, input *handlers.RefundInput) (*handlers.LedgerTransactionOutput, error) {
	return nil, nil
}

func (stubAdmin) Adjust(ctx context.Context, input *handlers.AdjustInput) (*handlers.LedgerTransactionOutput, error) {
	return nil, nil
}
