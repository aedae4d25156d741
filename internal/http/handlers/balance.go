package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
)

// BalanceReader is the read side of the ledger.
type BalanceReader interface {
	Balance(ctx context.Context, identity string) (int64, error)
	Transactions(ctx context.Context, identity string, limit, offset int) ([]*models.LedgerTransaction, error)
}

// BalanceHandler serves the caller's balance and ledger history.
type BalanceHandler struct {
	ledger BalanceReader
	logger *slog.Logger
}

// NewBalanceHandler creates a balance handler.
func NewBalanceHandler(ledger BalanceReader, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{ledger: ledger, logger: logger.With("handler", "balance")}
}

// GetBalanceOutput is the caller's balance.
type GetBalanceOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Balance int64  `json:"balance"`
		UserID  string `json:"userId"`
	}
}

// GetBalance returns the caller's balance.
func (h *BalanceHandler) GetBalance(ctx context.Context, input *struct{}) (*GetBalanceOutput, error) {
	identity := callerID(ctx)
	balance, err := h.ledger.Balance(ctx, identity)
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Ledger, err))
	}

	out := &GetBalanceOutput{}
	out.Body.Success = true
	out.Body.Balance = balance
	out.Body.UserID = identity
	return out, nil
}

// ListTransactionsInput pages through ledger history.
type ListTransactionsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Rows to skip"`
}

// ListTransactionsOutput is a page of ledger history, newest first.
type ListTransactionsOutput struct {
	Body struct {
		Success      bool                        `json:"success"`
		Transactions []*models.LedgerTransaction `json:"transactions"`
	}
}

// ListTransactions returns the caller's ledger history.
func (h *BalanceHandler) ListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	limit, offset := pagination(input.Limit, input.Offset)
	txs, err := h.ledger.Transactions(ctx, callerID(ctx), limit, offset)
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Ledger, err))
	}
	if txs == nil {
		txs = []*models.LedgerTransaction{}
	}

	out := &ListTransactionsOutput{}
	out.Body.Success = true
	out.Body.Transactions = txs
	return out, nil
}
