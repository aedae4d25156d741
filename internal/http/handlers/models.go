package handlers

import (
	"context"

	"github.com/jmylchreest/genstudio-api/internal/catalog"
)

// ModelLister lists enabled catalog models.
type ModelLister interface {
	List() []catalog.Model
}

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	catalog ModelLister
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(c ModelLister) *ModelsHandler {
	return &ModelsHandler{catalog: c}
}

// ListModelsOutput is the enabled catalog.
type ListModelsOutput struct {
	Body struct {
		Success bool            `json:"success"`
		Models  []catalog.Model `json:"models"`
	}
}

// ListModels returns enabled models with their cost, capability and parameters.
func (h *ModelsHandler) ListModels(ctx context.Context, input *struct{}) (*ListModelsOutput, error) {
	out := &ListModelsOutput{}
	out.Body.Success = true
	out.Body.Models = h.catalog.List()
	if out.Body.Models == nil {
		out.Body.Models = []catalog.Model{}
	}
	return out, nil
}
