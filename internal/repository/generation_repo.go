package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/genstudio-api/internal/models"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ========================================
// Generation Repository
// ========================================

// SQLiteGenerationRepository implements GenerationRepository for SQLite/libsql.
type SQLiteGenerationRepository struct {
	db *sql.DB
}

// NewSQLiteGenerationRepository creates a new SQLite generation repository.
func NewSQLiteGenerationRepository(db *sql.DB) *SQLiteGenerationRepository {
	return &SQLiteGenerationRepository{db: db}
}

const generationColumns = `id, identity, kind, model_id, prompt, status, result_urls_json, credits_used,
	error_message, metadata_json, created_at, updated_at, completed_at`

func (r *SQLiteGenerationRepository) Create(ctx context.Context, g models.NewGeneration) (*models.Generation, error) {
	now := time.Now().UTC()
	nowStr := now.Format(timeLayout)

	metadataJSON, err := encodeMetadata(g.Metadata)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO generations (id, identity, kind, model_id, prompt, status, result_urls_json, credits_used, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'processing', '[]', ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.Identity, string(g.Kind), g.ModelID, g.Prompt,
		g.CreditsUsed, metadataJSON, nowStr, nowStr); err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}

	return &models.Generation{
		ID:          g.ID,
		Identity:    g.Identity,
		Kind:        g.Kind,
		ModelID:     g.ModelID,
		Prompt:      g.Prompt,
		Status:      models.GenerationStatusProcessing,
		ResultURLs:  []string{},
		CreditsUsed: g.CreditsUsed,
		Metadata:    g.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkSuccess moves a processing record to success, storing result references
// and merging metadata over what the record already holds.
func (r *SQLiteGenerationRepository) MarkSuccess(ctx context.Context, id string, resultURLs []string, metadata map[string]any) error {
	if resultURLs == nil {
		resultURLs = []string{}
	}
	urlsJSON, err := json.Marshal(resultURLs)
	if err != nil {
		return fmt.Errorf("failed to encode result urls: %w", err)
	}
	return r.transition(ctx, id, metadata, func(tx *sql.Tx, merged *string, nowStr string) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE generations SET status = 'success', result_urls_json = ?, metadata_json = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = 'processing'`,
			string(urlsJSON), merged, nowStr, nowStr, id)
	})
}

// MarkFailed moves a processing record to failed with an error message.
func (r *SQLiteGenerationRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	return r.transition(ctx, id, map[string]any{"error": errorMessage}, func(tx *sql.Tx, merged *string, nowStr string) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE generations SET status = 'failed', error_message = ?, metadata_json = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = 'processing'`,
			errorMessage, merged, nowStr, nowStr, id)
	})
}

// transition applies a terminal update guarded by status = 'processing'.
func (r *SQLiteGenerationRepository) transition(
	ctx context.Context,
	id string,
	patch map[string]any,
	update func(tx *sql.Tx, mergedMetadata *string, nowStr string) (sql.Result, error),
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, metadata_json FROM generations WHERE id = ?`, id).Scan(&status, &existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGenerationNotFound
	}
	if err != nil {
		return err
	}
	if models.GenerationStatus(status).IsTerminal() {
		return ErrInvalidTransition
	}

	merged := map[string]any{}
	if existing.Valid && existing.String != "" {
		_ = json.Unmarshal([]byte(existing.String), &merged)
	}
	for k, v := range patch {
		merged[k] = v
	}
	mergedJSON, err := encodeMetadata(merged)
	if err != nil {
		return err
	}

	result, err := update(tx, mergedJSON, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to update generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrInvalidTransition
	}
	return tx.Commit()
}

func (r *SQLiteGenerationRepository) Get(ctx context.Context, id string) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *SQLiteGenerationRepository) ListByIdentity(ctx context.Context, identity string, limit, offset int) ([]*models.Generation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE identity = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *SQLiteGenerationRepository) FailStale(ctx context.Context, cutoff time.Time, errorMessage string) (int64, error) {
	nowStr := time.Now().UTC().Format(timeLayout)
	result, err := r.db.ExecContext(ctx,
		`UPDATE generations SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
		WHERE status = 'processing' AND created_at < ?`,
		errorMessage, nowStr, nowStr, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var g models.Generation
	var kind, status, urlsJSON, createdAt, updatedAt string
	var errorMessage, metadataJSON, completedAt sql.NullString
	if err := row.Scan(&g.ID, &g.Identity, &kind, &g.ModelID, &g.Prompt, &status, &urlsJSON, &g.CreditsUsed,
		&errorMessage, &metadataJSON, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	g.Kind = models.GenerationKind(kind)
	g.Status = models.GenerationStatus(status)
	g.ErrorMessage = errorMessage.String
	if err := json.Unmarshal([]byte(urlsJSON), &g.ResultURLs); err != nil || g.ResultURLs == nil {
		g.ResultURLs = []string{}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &g.Metadata)
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		g.CompletedAt = &t
	}
	return &g, nil
}

func encodeMetadata(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	s := string(b)
	return &s, nil
}
