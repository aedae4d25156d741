package models

import "time"

// ========================================
// Ledger
// ========================================

// Balance is the credit balance held for one identity.
// Balances are integers and never negative.
type Balance struct {
	Identity  string    `json:"identity"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerTransactionType tags why a balance moved.
type LedgerTransactionType string

const (
	TxTypeUsage      LedgerTransactionType = "usage"      // Debit for a generation
	TxTypeRefund     LedgerTransactionType = "refund"     // Manual credit-back of a generation debit
	TxTypeAdjustment LedgerTransactionType = "adjustment" // Admin adjustment (either sign)
	TxTypePurchase   LedgerTransactionType = "purchase"   // Credit pack bought via Stripe
	TxTypeGrant      LedgerTransactionType = "grant"      // Signup or promotional grant
)

// LedgerTransaction is an immutable, append-only ledger row.
// The sum of an identity's transactions always equals its balance.
type LedgerTransaction struct {
	ID           string                `json:"id"`
	Identity     string                `json:"identity"`
	Type         LedgerTransactionType `json:"type"`
	Amount       int64                 `json:"amount"`        // Positive=credit, Negative=debit
	BalanceAfter int64                 `json:"balance_after"` // Balance once this row applied
	Description  string                `json:"description"`

	GenerationID *string `json:"generation_id,omitempty"` // Generation this movement belongs to
	ExternalRef  *string `json:"external_ref,omitempty"`  // UNIQUE - payment intent, webhook user id

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Adjustment describes a requested signed balance change.
type Adjustment struct {
	Identity     string
	Amount       int64
	Type         LedgerTransactionType
	Description  string
	GenerationID *string
	ExternalRef  *string
	Metadata     map[string]any
}
