package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmylchreest/genstudio-api/internal/models"
)

func strPtr(s string) *string { return &s }

// ========================================
// Ledger Repository Tests
// ========================================

func TestLedgerRepository_GetBalanceUnknownIdentity(t *testing.T) {
	repos, _ := setupTestRepos(t)

	balance, err := repos.Ledger.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestLedgerRepository_CreditThenDebit(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	txn, err := repos.Ledger.Adjust(ctx, models.Adjustment{
		Identity: "user-1", Amount: 10, Type: models.TxTypeGrant, Description: "signup",
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if txn.BalanceAfter != 10 {
		t.Errorf("balance after credit = %d, want 10", txn.BalanceAfter)
	}

	txn, err = repos.Ledger.Adjust(ctx, models.Adjustment{
		Identity: "user-1", Amount: -4, Type: models.TxTypeUsage, GenerationID: strPtr("gen-1"),
		Metadata: map[string]any{"model": "flux-schnell"},
	})
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if txn.BalanceAfter != 6 {
		t.Errorf("balance after debit = %d, want 6", txn.BalanceAfter)
	}

	balance, _ := repos.Ledger.GetBalance(ctx, "user-1")
	if balance != 6 {
		t.Errorf("balance = %d, want 6", balance)
	}
	if sum := sumTransactions(t, db, "user-1"); sum != balance {
		t.Errorf("sum of transactions = %d, want %d", sum, balance)
	}

	txns, err := repos.Ledger.ListTransactions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("len(txns) = %d, want 2", len(txns))
	}
	if txns[0].Type != models.TxTypeUsage {
		t.Errorf("newest type = %q, want %q", txns[0].Type, models.TxTypeUsage)
	}
	if txns[0].Metadata["model"] != "flux-schnell" {
		t.Errorf("metadata model = %v, want flux-schnell", txns[0].Metadata["model"])
	}
	if txns[0].GenerationID == nil || *txns[0].GenerationID != "gen-1" {
		t.Errorf("generation id = %v, want gen-1", txns[0].GenerationID)
	}
}

func TestLedgerRepository_InsufficientDebitChangesNothing(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: 3, Type: models.TxTypeGrant}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	_, err := repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: -5, Type: models.TxTypeUsage})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	var ibe *InsufficientBalanceError
	if !errors.As(err, &ibe) {
		t.Fatalf("expected *InsufficientBalanceError, got %T", err)
	}
	if ibe.Balance != 3 || ibe.Required != 5 {
		t.Errorf("error = {%d, %d}, want {3, 5}", ibe.Balance, ibe.Required)
	}

	balance, _ := repos.Ledger.GetBalance(ctx, "user-1")
	if balance != 3 {
		t.Errorf("balance = %d, want 3", balance)
	}
	txns, _ := repos.Ledger.ListTransactions(ctx, "user-1", 10, 0)
	if len(txns) != 1 {
		t.Errorf("len(txns) = %d, want 1", len(txns))
	}
	if sum := sumTransactions(t, db, "user-1"); sum != 3 {
		t.Errorf("sum = %d, want 3", sum)
	}
}

func TestLedgerRepository_DebitUnknownIdentity(t *testing.T) {
	repos, _ := setupTestRepos(t)

	_, err := repos.Ledger.Adjust(context.Background(), models.Adjustment{Identity: "fresh", Amount: -1, Type: models.TxTypeUsage})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestLedgerRepository_InvalidAdjustment(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	tests := []struct {
		name string
		adj  models.Adjustment
	}{
		{"zero amount", models.Adjustment{Identity: "user-1", Amount: 0}},
		{"missing identity", models.Adjustment{Amount: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repos.Ledger.Adjust(ctx, tt.adj); !errors.Is(err, ErrInvalidAdjustment) {
				t.Errorf("err = %v, want ErrInvalidAdjustment", err)
			}
		})
	}
}

func TestLedgerRepository_DuplicateExternalRef(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	adj := models.Adjustment{Identity: "user-1", Amount: 100, Type: models.TxTypePurchase, ExternalRef: strPtr("cs_test_123")}
	if _, err := repos.Ledger.Adjust(ctx, adj); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	if _, err := repos.Ledger.Adjust(ctx, adj); !errors.Is(err, ErrDuplicateExternalRef) {
		t.Fatalf("err = %v, want ErrDuplicateExternalRef", err)
	}

	balance, _ := repos.Ledger.GetBalance(ctx, "user-1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestLedgerRepository_RefundOnce(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	_, _ = repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: 10, Type: models.TxTypeGrant})
	_, _ = repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: -4, Type: models.TxTypeUsage, GenerationID: strPtr("gen-1")})

	refund := models.Adjustment{Identity: "user-1", Amount: 4, Type: models.TxTypeRefund, GenerationID: strPtr("gen-1")}
	if _, err := repos.Ledger.Adjust(ctx, refund); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if _, err := repos.Ledger.Adjust(ctx, refund); !errors.Is(err, ErrDuplicateRefund) {
		t.Fatalf("err = %v, want ErrDuplicateRefund", err)
	}

	txns, err := repos.Ledger.ListByGeneration(ctx, "gen-1")
	if err != nil {
		t.Fatalf("list by generation failed: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("len(txns) = %d, want 2", len(txns))
	}
}

func TestLedgerRepository_ConcurrentDebits(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: 10, Type: models.TxTypeGrant}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	// 20 debits of 1 against a balance of 10: exactly 10 succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, refused := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Ledger.Adjust(ctx, models.Adjustment{Identity: "user-1", Amount: -1, Type: models.TxTypeUsage})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || refused != 10 {
		t.Errorf("succeeded = %d, refused = %d, want 10 and 10", succeeded, refused)
	}
	balance, _ := repos.Ledger.GetBalance(ctx, "user-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	if sum := sumTransactions(t, db, "user-1"); sum != 0 {
		t.Errorf("sum = %d, want 0", sum)
	}
}
