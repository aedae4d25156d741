package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/genstudio-api/internal/models"
)

// ========================================
// Ledger Repository
// ========================================

// SQLiteLedgerRepository implements LedgerRepository for SQLite/libsql.
//
// Every balance change and its transaction row are written in a single
// database transaction. SQLite allows one writer at a time, so concurrent
// debits against the same identity cannot both pass the balance check.
type SQLiteLedgerRepository struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository creates a new SQLite ledger repository.
func NewSQLiteLedgerRepository(db *sql.DB) *SQLiteLedgerRepository {
	return &SQLiteLedgerRepository{db: db}
}

func (r *SQLiteLedgerRepository) GetBalance(ctx context.Context, identity string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE identity = ?`, identity).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *SQLiteLedgerRepository) Adjust(ctx context.Context, adj models.Adjustment) (*models.LedgerTransaction, error) {
	if adj.Identity == "" || adj.Amount == 0 {
		return nil, ErrInvalidAdjustment
	}

	now := time.Now().UTC()
	nowStr := now.Format(timeLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// First adjustment for an identity starts from zero.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO balances (identity, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT(identity) DO NOTHING`,
		adj.Identity, nowStr,
	); err != nil {
		return nil, fmt.Errorf("failed to materialize balance: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE balances SET balance = balance + ?, updated_at = ? WHERE identity = ? AND balance + ? >= 0`,
		adj.Amount, nowStr, adj.Identity, adj.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	var balanceAfter int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE identity = ?`, adj.Identity).Scan(&balanceAfter); err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if affected == 0 {
		return nil, &InsufficientBalanceError{Balance: balanceAfter, Required: -adj.Amount}
	}

	// Checked after the write so the lock is already held.
	if adj.ExternalRef != nil {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM ledger_transactions WHERE external_ref = ?`, *adj.ExternalRef).Scan(&exists)
		if err == nil {
			return nil, ErrDuplicateExternalRef
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if adj.Type == models.TxTypeRefund && adj.GenerationID != nil {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM ledger_transactions WHERE generation_id = ? AND type = 'refund'`, *adj.GenerationID,
		).Scan(&exists)
		if err == nil {
			return nil, ErrDuplicateRefund
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	metadataJSON, err := encodeMetadata(adj.Metadata)
	if err != nil {
		return nil, err
	}

	txn := &models.LedgerTransaction{
		ID:           ulid.Make().String(),
		Identity:     adj.Identity,
		Type:         adj.Type,
		Amount:       adj.Amount,
		BalanceAfter: balanceAfter,
		Description:  adj.Description,
		GenerationID: adj.GenerationID,
		ExternalRef:  adj.ExternalRef,
		Metadata:     adj.Metadata,
		CreatedAt:    now,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (id, identity, type, amount, balance_after, description, generation_id, external_ref, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.Identity, string(txn.Type), txn.Amount, txn.BalanceAfter, txn.Description,
		txn.GenerationID, txn.ExternalRef, metadataJSON, nowStr,
	); err != nil {
		return nil, fmt.Errorf("failed to record ledger transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return txn, nil
}

func (r *SQLiteLedgerRepository) ListTransactions(ctx context.Context, identity string, limit, offset int) ([]*models.LedgerTransaction, error) {
	query := `SELECT id, identity, type, amount, balance_after, description, generation_id, external_ref, metadata_json, created_at
		FROM ledger_transactions WHERE identity = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLedgerTransactions(rows)
}

func (r *SQLiteLedgerRepository) ListByGeneration(ctx context.Context, generationID string) ([]*models.LedgerTransaction, error) {
	query := `SELECT id, identity, type, amount, balance_after, description, generation_id, external_ref, metadata_json, created_at
		FROM ledger_transactions WHERE generation_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, generationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLedgerTransactions(rows)
}

func scanLedgerTransactions(rows *sql.Rows) ([]*models.LedgerTransaction, error) {
	var out []*models.LedgerTransaction
	for rows.Next() {
		var t models.LedgerTransaction
		var txType, createdAt string
		var generationID, externalRef, metadataJSON sql.NullString
		if err := rows.Scan(&t.ID, &t.Identity, &txType, &t.Amount, &t.BalanceAfter, &t.Description,
			&generationID, &externalRef, &metadataJSON, &createdAt); err != nil {
			return nil, err
		}
		t.Type = models.LedgerTransactionType(txType)
		if generationID.Valid {
			t.GenerationID = &generationID.String
		}
		if externalRef.Valid {
			t.ExternalRef = &externalRef.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &t.Metadata)
		}
		t.CreatedAt = parseTime(createdAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}
