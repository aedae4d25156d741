package repository

import (
	"database/sql"
	"testing"

	"github.com/jmylchreest/genstudio-api/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) (*Repositories, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db), db
}

// sumTransactions returns the sum of an identity's ledger rows.
func sumTransactions(t *testing.T, db *sql.DB, identity string) int64 {
	t.Helper()
	var sum int64
	if err := db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE identity = ?`, identity).Scan(&sum); err != nil {
		t.Fatalf("failed to sum transactions: %v", err)
	}
	return sum
}

// backdateGeneration rewrites created_at for reaper tests.
func backdateGeneration(t *testing.T, db *sql.DB, id, createdAt string) {
	t.Helper()
	if _, err := db.Exec(`UPDATE generations SET created_at = ? WHERE id = ?`, createdAt, id); err != nil {
		t.Fatalf("failed to backdate generation: %v", err)
	}
}
