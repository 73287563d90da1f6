package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// DocumentCatalog tracks every indexed document: its owner, the
// embedding space its chunks live in, and indexing status.
type DocumentCatalog struct {
	db *sql.DB
}

func NewDocumentCatalog(db *sql.DB) *DocumentCatalog {
	return &DocumentCatalog{db: db}
}

func (r *DocumentCatalog) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082802)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	chunks INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentCatalog) Upsert(ctx context.Context, ref *domain.DocumentRef) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (id, owner_id, provider, model, status, error_message, chunks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	provider = EXCLUDED.provider,
	model = EXCLUDED.model,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	chunks = EXCLUDED.chunks,
	updated_at = EXCLUDED.updated_at
`,
		ref.ID, ref.OwnerID, ref.Embedding.Provider, ref.Embedding.Model,
		string(ref.Status), ref.Error, ref.Chunks, now,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *DocumentCatalog) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, chunks int, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, chunks = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(status), chunks, errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.WrapError(domain.ErrNotFound, "update document status", fmt.Errorf("document %s", id))
	}
	return nil
}

// EmbeddingKeys lists the distinct embedding spaces the filtered
// documents were indexed under. Retrieval fans out one dense branch per
// returned key.
func (r *DocumentCatalog) EmbeddingKeys(ctx context.Context, filter domain.SearchFilter) ([]domain.EmbeddingKey, error) {
	query := `SELECT DISTINCT provider, model FROM documents WHERE status = $1`
	args := []any{string(domain.StatusIndexed)}

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if len(filter.DocumentIDs) > 0 {
		placeholders := make([]string, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND id IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY provider, model"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embedding keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.EmbeddingKey
	for rows.Next() {
		var key domain.EmbeddingKey
		if err := rows.Scan(&key.Provider, &key.Model); err != nil {
			return nil, fmt.Errorf("scan embedding key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding keys: %w", err)
	}
	return keys, nil
}

func (r *DocumentCatalog) GetByID(ctx context.Context, id string) (*domain.DocumentRef, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, provider, model, status, error_message, chunks, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var (
		ref    domain.DocumentRef
		status string
	)
	err := row.Scan(
		&ref.ID, &ref.OwnerID, &ref.Embedding.Provider, &ref.Embedding.Model,
		&status, &ref.Error, &ref.Chunks, &ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	ref.Status = domain.DocumentStatus(status)
	return &ref, nil
}
