package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/repository"
)

// LedgerService is the ledger client used by the orchestrator, the billing
// webhooks and the admin endpoints.
type LedgerService struct {
	ledger      repository.LedgerRepository
	generations repository.GenerationRepository
	logger      *slog.Logger
}

// NewLedgerService creates a ledger service. A nil repos yields a service whose
// every call fails with guard.ErrNotConfigured.
func NewLedgerService(repos *repository.Repositories, logger *slog.Logger) *LedgerService {
	s := &LedgerService{logger: logger.With("component", "ledger")}
	if repos != nil {
		s.ledger = repos.Ledger
		s.generations = repos.Generation
	}
	return s
}

// Balance returns the identity's balance. Unknown identities have 0.
func (s *LedgerService) Balance(ctx context.Context, identity string) (int64, error) {
	if s.ledger == nil {
		return 0, guard.ErrNotConfigured
	}
	balance, err := s.ledger.GetBalance(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Debit charges amount credits for a generation and returns the new balance.
func (s *LedgerService) Debit(ctx context.Context, identity string, amount int64, generationID, description string) (int64, error) {
	if amount <= 0 {
		return s.Balance(ctx, identity)
	}
	tx, err := s.adjust(ctx, models.Adjustment{
		Identity:     identity,
		Amount:       -amount,
		Type:         models.TxTypeUsage,
		Description:  description,
		GenerationID: &generationID,
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "credits debited",
		"user_id", identity,
		"generation_id", generationID,
		"amount", amount,
		"balance_after", tx.BalanceAfter,
	)
	return tx.BalanceAfter, nil
}

// Transactions returns the identity's ledger history, newest first.
func (s *LedgerService) Transactions(ctx context.Context, identity string, limit, offset int) ([]*models.LedgerTransaction, error) {
	if s.ledger == nil {
		return nil, guard.ErrNotConfigured
	}
	txs, err := s.ledger.ListTransactions(ctx, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// RefundInput is a manual refund request for one generation.
type RefundInput struct {
	GenerationID string
	Amount       int64 // 0 refunds the full debited amount
	Reason       string
	Actor        string
}

// Refund credits back a generation's debit. A generation is refunded at most
// once and never for more than was debited. The debit itself identifies the
// account, so a generation whose record was never written can still be refunded.
func (s *LedgerService) Refund(ctx context.Context, in RefundInput) (*models.LedgerTransaction, error) {
	if s.ledger == nil {
		return nil, guard.ErrNotConfigured
	}
	if in.Amount < 0 {
		return nil, apperr.Validation("refund amount must not be negative")
	}

	txs, err := s.ledger.ListByGeneration(ctx, in.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation transactions: %w", err)
	}
	var debited int64
	var identity string
	for _, tx := range txs {
		if tx.Type == models.TxTypeUsage {
			debited -= tx.Amount
			identity = tx.Identity
		}
	}
	if identity == "" {
		known, err := s.generationExists(ctx, in.GenerationID)
		if err != nil {
			return nil, err
		}
		if !known && len(txs) == 0 {
			return nil, apperr.NotFound("generation %s not found", in.GenerationID)
		}
	}
	if debited <= 0 {
		return nil, apperr.Validation("generation %s has no debit to refund", in.GenerationID)
	}

	amount := in.Amount
	if amount == 0 {
		amount = debited
	}
	if amount > debited {
		return nil, apperr.Validation("refund of %d exceeds the %d credits debited", amount, debited)
	}

	description := "Refund for generation " + in.GenerationID
	if in.Reason != "" {
		description += ": " + in.Reason
	}
	tx, err := s.adjust(ctx, models.Adjustment{
		Identity:     identity,
		Amount:       amount,
		Type:         models.TxTypeRefund,
		Description:  description,
		GenerationID: &in.GenerationID,
		Metadata:     map[string]any{"actor": in.Actor, "reason": in.Reason},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "generation refunded",
		"user_id", identity,
		"generation_id", in.GenerationID,
		"amount", amount,
		"balance_after", tx.BalanceAfter,
		"actor", in.Actor,
	)
	return tx, nil
}

func (s *LedgerService) generationExists(ctx context.Context, id string) (bool, error) {
	if s.generations == nil {
		return false, nil
	}
	gen, err := s.generations.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to get generation: %w", err)
	}
	return gen != nil, nil
}

// Adjust applies an admin adjustment of either sign.
func (s *LedgerService) Adjust(ctx context.Context, identity string, amount int64, description, actor string) (*models.LedgerTransaction, error) {
	if description == "" {
		description = "Manual adjustment"
	}
	tx, err := s.adjust(ctx, models.Adjustment{
		Identity:    identity,
		Amount:      amount,
		Type:        models.TxTypeAdjustment,
		Description: description,
		Metadata:    map[string]any{"actor": actor},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "balance adjusted",
		"user_id", identity,
		"amount", amount,
		"balance_after", tx.BalanceAfter,
		"actor", actor,
	)
	return tx, nil
}

// Credit adds purchased or granted credits. externalRef makes the credit
// idempotent: a repeated ref returns applied=false and no error.
func (s *LedgerService) Credit(ctx context.Context, identity string, amount int64, txType models.LedgerTransactionType, externalRef, description string) (applied bool, err error) {
	if amount <= 0 {
		return false, apperr.Validation("credit amount must be positive")
	}
	tx, err := s.adjust(ctx, models.Adjustment{
		Identity:    identity,
		Amount:      amount,
		Type:        txType,
		Description: description,
		ExternalRef: &externalRef,
	})
	if errors.Is(err, repository.ErrDuplicateExternalRef) {
		s.logger.InfoContext(ctx, "credit already applied", "user_id", identity, "external_ref", externalRef)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "credits added",
		"user_id", identity,
		"type", txType,
		"amount", amount,
		"balance_after", tx.BalanceAfter,
		"external_ref", externalRef,
	)
	return true, nil
}

// adjust runs a repository adjustment and translates its sentinels into the
// error taxonomy. ErrDuplicateExternalRef is left wrapped for Credit.
func (s *LedgerService) adjust(ctx context.Context, adj models.Adjustment) (*models.LedgerTransaction, error) {
	if s.ledger == nil {
		return nil, guard.ErrNotConfigured
	}

	tx, err := s.ledger.Adjust(ctx, adj)
	if err == nil {
		return tx, nil
	}

	var insufficient *repository.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		return nil, apperr.InsufficientFunds(insufficient.Balance, insufficient.Required)
	case errors.Is(err, repository.ErrInvalidAdjustment):
		return nil, apperr.Validation("%v", err)
	case errors.Is(err, repository.ErrDuplicateRefund):
		return nil, apperr.Validation("generation %s has already been refunded", derefString(adj.GenerationID))
	case errors.Is(err, repository.ErrDuplicateExternalRef):
		return nil, err
	}
	return nil, fmt.Errorf("failed to adjust balance: %w", err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
