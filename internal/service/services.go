// Package service contains the business logic layer: the ledger client, the
// generation record store and the durable asset store.
// Identities are opaque strings resolved by the auth layer (e.g. "user_xxx").
package service

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/config"
	"github.com/jmylchreest/genstudio-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Ledger      *LedgerService
	Generations *GenerationService
	Assets      *AssetService
}

// NewServices creates all service instances. repos may be nil when the
// database could not be opened and degraded mode is enabled.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	assetSvc, err := NewAssetService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset service: %w", err)
	}

	if repos == nil {
		logger.Warn("no database - ledger and generation records unavailable")
	}

	return &Services{
		Ledger:      NewLedgerService(repos, logger),
		Generations: NewGenerationService(repos, logger),
		Assets:      assetSvc,
	}, nil
}
