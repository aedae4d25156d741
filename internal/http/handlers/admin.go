package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/service"
)

// AdminLedger is the write side of the ledger available to superadmins.
type AdminLedger interface {
	Refund(ctx context.Context, in service.RefundInput) (*models.LedgerTransaction, error)
	Adjust(ctx context.Context, identity string, amount int64, description, actor string) (*models.LedgerTransaction, error)
}

// AdminHandler handles admin-only ledger operations. Superadmin access is
// enforced by the route metadata.
type AdminHandler struct {
	ledger AdminLedger
	logger *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(ledger AdminLedger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, logger: logger.With("handler", "admin")}
}

// LedgerTransactionOutput is the transaction an admin operation applied.
type LedgerTransactionOutput struct {
	Body struct {
		Success     bool                      `json:"success"`
		Transaction *models.LedgerTransaction `json:"transaction"`
	}
}

// RefundInput requests a manual refund of one generation's debit.
type RefundInput struct {
	Body struct {
		GenerationID string `json:"generationId" minLength:"1" doc:"Generation whose debit is credited back"`
		Amount       int64  `json:"amount,omitempty" minimum:"0" doc:"Credits to refund (default: the full debited amount)"`
		Reason       string `json:"reason" minLength:"1" doc:"Why the refund was granted"`
	}
}

// Refund credits back a generation's debit. This is the only refund path.
func (h *AdminHandler) Refund(ctx context.Context, input *RefundInput) (*LedgerTransactionOutput, error) {
	actor := callerID(ctx)
	tx, err := h.ledger.Refund(ctx, service.RefundInput{
		GenerationID: input.Body.GenerationID,
		Amount:       input.Body.Amount,
		Reason:       input.Body.Reason,
		Actor:        actor,
	})
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Ledger, err))
	}

	h.logger.InfoContext(ctx, "manual refund applied",
		"actor", actor,
		"generation_id", input.Body.GenerationID,
		"amount", tx.Amount,
	)

	out := &LedgerTransactionOutput{}
	out.Body.Success = true
	out.Body.Transaction = tx
	return out, nil
}

// AdjustInput requests a signed balance adjustment.
type AdjustInput struct {
	Body struct {
		Identity    string `json:"identity" minLength:"1" doc:"Identity whose balance changes"`
		Amount      int64  `json:"amount" doc:"Signed credit amount; a debit may not take the balance below zero"`
		Description string `json:"description,omitempty" doc:"Ledger description"`
	}
}

// Adjust applies an admin adjustment.
func (h *AdminHandler) Adjust(ctx context.Context, input *AdjustInput) (*LedgerTransactionOutput, error) {
	tx, err := h.ledger.Adjust(ctx, input.Body.Identity, input.Body.Amount, input.Body.Description, callerID(ctx))
	if err != nil {
		return nil, toHTTPError(ctx, h.logger, collaboratorError(guard.Ledger, err))
	}

	out := &LedgerTransactionOutput{}
	out.Body.Success = true
	out.Body.Transaction = tx
	return out, nil
}
