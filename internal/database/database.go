// Package database handles database connections and migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/genstudio-api/internal/database/migrations"
)

// Options selects how the ledger/record database is reached.
type Options struct {
	// DSN is a libsql DSN: "file:genstudio.db", "http://127.0.0.1:8080", or ":memory:".
	DSN string

	// TursoURL and TursoToken enable an embedded replica synced with Turso.
	TursoURL   string
	TursoToken string

	// BusyTimeout bounds how long a writer waits for the database lock.
	BusyTimeout time.Duration
}

// New opens the database and verifies the connection.
//
// The ledger relies on SQLite's single-writer lock: a balance update and its
// transaction row are written inside one transaction, so concurrent debits for
// the same identity are serialized by the database itself.
func New(ctx context.Context, opts Options) (*sql.DB, error) {
	var db *sql.DB

	if opts.TursoURL != "" && opts.TursoToken != "" {
		dbPath := strings.TrimPrefix(opts.DSN, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, opts.TursoURL,
			libsql.WithAuthToken(opts.TursoToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		var err error
		db, err = sql.Open("libsql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if opts.BusyTimeout > 0 {
		// Remote libsql servers reject PRAGMA busy_timeout; it only matters locally.
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate runs pending schema migrations.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return migrations.RunContext(ctx, db, logger)
}

// SchemaVersion returns the latest applied migration and the number applied.
func SchemaVersion(db *sql.DB) (string, int, error) {
	version, err := migrations.LatestVersion(db)
	if err != nil {
		return "", 0, err
	}
	count, err := migrations.Count(db)
	if err != nil {
		return version, 0, err
	}
	return version, count, nil
}
