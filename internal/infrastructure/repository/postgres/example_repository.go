package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// ExampleRepository persists the (utterance, answer) pairs the template
// index is rebuilt from. One row per pair; the answer tree is stored as
// JSONB.
type ExampleRepository struct {
	db *sql.DB
}

func NewExampleRepository(db *sql.DB) *ExampleRepository {
	return &ExampleRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ExampleRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS instruction_examples (
	id TEXT PRIMARY KEY,
	utterance TEXT NOT NULL,
	answer JSONB NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_examples_utterance_scope ON instruction_examples(utterance, scope);
CREATE INDEX IF NOT EXISTS idx_examples_scope ON instruction_examples(scope);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ExampleRepository) Append(ctx context.Context, example domain.Example) error {
	answerJSON, err := domain.ToJSON(example.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	id := example.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO instruction_examples (id, utterance, answer, scope, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (utterance, scope) DO UPDATE SET answer = EXCLUDED.answer, source = EXCLUDED.source
`,
		id, example.Utterance, answerJSON, string(example.Scope), string(example.Source), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert example: %w", err)
	}
	return nil
}

func (r *ExampleRepository) ListAll(ctx context.Context) ([]domain.Example, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, utterance, answer, scope, source
FROM instruction_examples
ORDER BY created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	var examples []domain.Example
	for rows.Next() {
		var (
			ex        domain.Example
			answerRaw []byte
			scope     string
			source    string
		)
		if err := rows.Scan(&ex.ID, &ex.Utterance, &answerRaw, &scope, &source); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		answer, err := domain.FromJSON(answerRaw)
		if err != nil {
			return nil, fmt.Errorf("decode answer for example %s: %w", ex.ID, err)
		}
		ex.Answer = answer
		ex.Scope = domain.ScopeID(scope)
		ex.Source = domain.ExampleSource(source)
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate examples: %w", err)
	}
	return examples, nil
}

// SeedDefaults inserts the built-in examples, skipping any (utterance,
// scope) pair that already exists. Returns the number actually inserted.
func (r *ExampleRepository) SeedDefaults(ctx context.Context, examples []domain.Example) (int, error) {
	inserted := 0
	for _, ex := range examples {
		answerJSON, err := domain.ToJSON(ex.Answer)
		if err != nil {
			return inserted, fmt.Errorf("marshal seed answer: %w", err)
		}
		id := ex.ID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := r.db.ExecContext(ctx, `
INSERT INTO instruction_examples (id, utterance, answer, scope, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (utterance, scope) DO NOTHING
`,
			id, ex.Utterance, answerJSON, string(ex.Scope), string(domain.ExampleSourceSystem), time.Now().UTC(),
		)
		if err != nil {
			return inserted, fmt.Errorf("seed example %q: %w", ex.Utterance, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}
