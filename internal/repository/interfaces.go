// Package repository provides data access implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/genstudio-api/internal/models"
)

var (
	// ErrInsufficientBalance is matched by *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateExternalRef means a transaction with the same external reference exists.
	ErrDuplicateExternalRef = errors.New("duplicate external reference")
	// ErrDuplicateRefund means the generation has already been refunded.
	ErrDuplicateRefund = errors.New("generation already refunded")
	// ErrInvalidAdjustment means the adjustment is malformed (no identity, zero amount).
	ErrInvalidAdjustment = errors.New("invalid adjustment")

	// ErrGenerationNotFound means no record exists with the given id.
	ErrGenerationNotFound = errors.New("generation not found")
	// ErrInvalidTransition means the record is already in a terminal state.
	ErrInvalidTransition = errors.New("invalid generation status transition")
)

// InsufficientBalanceError carries the balance a debit was refused against.
type InsufficientBalanceError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return ErrInsufficientBalance.Error()
}

// Is lets errors.Is(err, ErrInsufficientBalance) match.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// LedgerRepository persists balances and their transaction log.
type LedgerRepository interface {
	// GetBalance returns 0 for identities that have never been adjusted.
	GetBalance(ctx context.Context, identity string) (int64, error)
	// Adjust applies a signed amount and appends the transaction atomically.
	// A debit that would make the balance negative changes nothing.
	Adjust(ctx context.Context, adj models.Adjustment) (*models.LedgerTransaction, error)
	ListTransactions(ctx context.Context, identity string, limit, offset int) ([]*models.LedgerTransaction, error)
	ListByGeneration(ctx context.Context, generationID string) ([]*models.LedgerTransaction, error)
}

// GenerationRepository persists generation records and enforces their state machine.
type GenerationRepository interface {
	Create(ctx context.Context, g models.NewGeneration) (*models.Generation, error)
	MarkSuccess(ctx context.Context, id string, resultURLs []string, metadata map[string]any) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
	// Get returns nil, nil if the record does not exist.
	Get(ctx context.Context, id string) (*models.Generation, error)
	ListByIdentity(ctx context.Context, identity string, limit, offset int) ([]*models.Generation, error)
	// FailStale moves records still processing since before cutoff to failed.
	FailStale(ctx context.Context, cutoff time.Time, errorMessage string) (int64, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Ledger     LedgerRepository
	Generation GenerationRepository
}

// NewRepositories creates all repositories over one database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Ledger:     NewSQLiteLedgerRepository(db),
		Generation: NewSQLiteGenerationRepository(db),
	}
}
