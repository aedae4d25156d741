package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
)

// GenerationReader is the read side of the generation record store.
type GenerationReader interface {
	GetOwned(ctx context.Context, identity, id string) (*models.Generation, error)
	List(ctx context.Context, identity string, limit, offset int) ([]*models.Generation, error)
}

// GenerationHandler serves the caller's generation records.
type GenerationHandler struct {
	records GenerationReader
	logger  *slog.Logger
}

// NewGenerationHandler creates a generation handler.
func NewGenerationHandler(records GenerationReader, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{records: records, logger: logger.With("handler", "generations")}
}

// GetGenerationInput selects one record.
type GetGenerationInput struct {
	ID string `path:"id" doc:"Generation id"`
}

// GetGenerationOutput is one record.
type GetGenerationOutput struct {
	Body struct {
		Success    bool               `json:"success"`
		Generation *models.Generation `json:"generation"`
	}
}

// GetGeneration returns a record owned by the caller.
func (h *GenerationHandler) GetGeneration(ctx context.Context, input *GetGenerationInput) (*GetGenerationOutput, error) {
	gen, err := h.records.GetOwned(ctx, callerID(ctx), input.ID)
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Records, err))
	}

	out := &GetGenerationOutput{}
	out.Body.Success = true
	out.Body.Generation = gen
	return out, nil
}

// ListGenerationsInput pages through records.
type ListGenerationsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Rows to skip"`
}

// ListGenerationsOutput is a page of records, newest first.
type ListGenerationsOutput struct {
	Body struct {
		Success     bool                 `json:"success"`
		Generations []*models.Generation `json:"generations"`
	}
}

// ListGenerations returns the caller's records.
func (h *GenerationHandler) ListGenerations(ctx context.Context, input *ListGenerationsInput) (*ListGenerationsOutput, error) {
	limit, offset := pagination(input.Limit, input.Offset)
	gens, err := h.records.List(ctx, callerID(ctx), limit, offset)
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Records, err))
	}
	if gens == nil {
		gens = []*models.Generation{}
	}

	out := &ListGenerationsOutput{}
	out.Body.Success = true
	out.Body.Generations = gens
	return out, nil
}
