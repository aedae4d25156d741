package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/repository"
)

// GenerationService is the generation record store.
type GenerationService struct {
	repo   repository.GenerationRepository
	logger *slog.Logger
}

// NewGenerationService creates a generation service. A nil repos yields a
// service whose every call fails with guard.ErrNotConfigured.
func NewGenerationService(repos *repository.Repositories, logger *slog.Logger) *GenerationService {
	s := &GenerationService{logger: logger.With("component", "generations")}
	if repos != nil {
		s.repo = repos.Generation
	}
	return s
}

// Create opens a record in status processing.
func (s *GenerationService) Create(ctx context.Context, g models.NewGeneration) (*models.Generation, error) {
	if s.repo == nil {
		return nil, guard.ErrNotConfigured
	}
	gen, err := s.repo.Create(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	return gen, nil
}

// MarkSuccess moves a processing record to success.
func (s *GenerationService) MarkSuccess(ctx context.Context, id string, urls []string, metadata map[string]any) error {
	if s.repo == nil {
		return guard.ErrNotConfigured
	}
	if err := s.repo.MarkSuccess(ctx, id, urls, metadata); err != nil {
		return fmt.Errorf("failed to mark generation %s success: %w", id, err)
	}
	return nil
}

// MarkFailed moves a processing record to failed.
func (s *GenerationService) MarkFailed(ctx context.Context, id, errorMessage string) error {
	if s.repo == nil {
		return guard.ErrNotConfigured
	}
	if err := s.repo.MarkFailed(ctx, id, errorMessage); err != nil {
		return fmt.Errorf("failed to mark generation %s failed: %w", id, err)
	}
	return nil
}

// GetOwned returns a record owned by identity. Records of other identities are
// reported as not found.
func (s *GenerationService) GetOwned(ctx context.Context, identity, id string) (*models.Generation, error) {
	if s.repo == nil {
		return nil, guard.ErrNotConfigured
	}
	gen, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	if gen == nil || gen.Identity != identity {
		return nil, apperr.NotFound("generation %s not found", id)
	}
	return gen, nil
}

// List returns the identity's records, newest first.
func (s *GenerationService) List(ctx context.Context, identity string, limit, offset int) ([]*models.Generation, error) {
	if s.repo == nil {
		return nil, guard.ErrNotConfigured
	}
	gens, err := s.repo.ListByIdentity(ctx, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return gens, nil
}

// FailStale fails records left processing for longer than maxAge.
func (s *GenerationService) FailStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, guard.ErrNotConfigured
	}
	n, err := s.repo.FailStale(ctx, time.Now().Add(-maxAge), "generation abandoned")
	if err != nil {
		return n, fmt.Errorf("failed to fail stale generations: %w", err)
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "stale generations failed", "count", n, "max_age", maxAge.String())
	}
	return n, nil
}
