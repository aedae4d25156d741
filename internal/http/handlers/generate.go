package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/http/mw"
	"github.com/jmylchreest/genstudio-api/internal/orchestrator"
)

// Generator runs generation requests.
type Generator interface {
	Generate(ctx context.Context, identity string, req orchestrator.Request) (*orchestrator.Response, error)
}

// GenerateHandler handles generation requests.
type GenerateHandler struct {
	gen    Generator
	logger *slog.Logger
}

// NewGenerateHandler creates a generate handler.
func NewGenerateHandler(gen Generator, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{gen: gen, logger: logger.With("handler", "generate")}
}

// GenerateInputs are the user-supplied inputs of a generation.
type GenerateInputs struct {
	Prompt   string `json:"prompt" doc:"Text prompt"`
	ImageURL string `json:"imageUrl,omitempty" format:"uri" doc:"Source image for edit and image-to-video models"`
}

// GenerateInput is the request body of a generation.
type GenerateInput struct {
	Body struct {
		ModelID      string         `json:"modelId" minLength:"1" doc:"Catalog model id" example:"flux-dev"`
		Inputs       GenerateInputs `json:"inputs"`
		Params       map[string]any `json:"params,omitempty" doc:"Model-specific parameters, see GET /api/v1/models"`
		OutputsCount int            `json:"outputsCount,omitempty" minimum:"0" doc:"Number of variants (default 1)"`
	}
}

// GenerateResponse is a successful generation.
type GenerateResponse struct {
	Success bool `json:"success"`
	orchestrator.Response
}

// GenerateOutput wraps GenerateResponse.
type GenerateOutput struct {
	Body GenerateResponse
}

// Generate runs one generation for the resolved caller. Anonymous callers are
// accepted, but a presented token that failed verification is not.
func (h *GenerateHandler) Generate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
	if err := mw.TokenError(ctx); err != nil {
		h.logger.DebugContext(ctx, "rejecting generation with invalid token", "error", err)
		return nil, toHTTPError(ctx, h.logger, apperr.Unauthenticated("invalid token"))
	}

	resp, err := h.gen.Generate(ctx, callerID(ctx), orchestrator.Request{
		ModelID:      input.Body.ModelID,
		Prompt:       input.Body.Inputs.Prompt,
		ImageURL:     input.Body.Inputs.ImageURL,
		Params:       input.Body.Params,
		OutputsCount: input.Body.OutputsCount,
	})
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, err)
	}

	return &GenerateOutput{Body: GenerateResponse{Success: true, Response: *resp}}, nil
}
