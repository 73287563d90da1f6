package ports

import (
	"context"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// Embedder produces vectors in one embedding space.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderRegistry resolves an Embedder for a (provider, model) pair.
// The core stays agnostic of provider identity beyond the key.
type EmbedderRegistry interface {
	Embedder(key domain.EmbeddingKey) (Embedder, error)
}

// InstructionGenerator is the terminal LLM fallback of the cascade.
type InstructionGenerator interface {
	GenerateInstruction(ctx context.Context, utterance string, vocabulary []string) (domain.Value, error)
}

// ExampleStore durably persists (utterance, answer, scope) pairs the
// template index is rebuilt from.
type ExampleStore interface {
	Append(ctx context.Context, example domain.Example) error
	ListAll(ctx context.Context) ([]domain.Example, error)
	SeedDefaults(ctx context.Context, examples []domain.Example) (int, error)
}

// InstructionCache is the exact-match tier: a durable key-value cache
// with set-if-absent semantics.
type InstructionCache interface {
	Get(ctx context.Context, key string) (domain.Value, bool, error)
	PutIfAbsent(ctx context.Context, key string, answer domain.Value) error
	Delete(ctx context.Context, key string) error
	IncrementHits(ctx context.Context, key string) (int64, error)
}

// ChunkStore indexes chunks and serves dense, lexical and substring
// search over them.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, documentID string) error
	SearchVector(ctx context.Context, key domain.EmbeddingKey, vector []float32, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error)
	SearchLexical(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error)
	SearchSubstring(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error)
}

// Chunker splits text into bounded, overlapping chunks.
type Chunker interface {
	Split(text string) []string
}

// ChunkerFactory picks chunking parameters for an embedding space;
// short-context embedding families get smaller chunks.
type ChunkerFactory interface {
	ForModel(key domain.EmbeddingKey) Chunker
}

// DocumentCatalog tracks indexed documents and their embedding spaces.
type DocumentCatalog interface {
	Upsert(ctx context.Context, ref *domain.DocumentRef) error
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, chunks int, errMessage string) error
	EmbeddingKeys(ctx context.Context, filter domain.SearchFilter) ([]domain.EmbeddingKey, error)
	GetByID(ctx context.Context, id string) (*domain.DocumentRef, error)
}

// ReloadBus broadcasts template-reload signals across processes. Every
// write to the example store publishes one.
type ReloadBus interface {
	PublishTemplatesChanged(ctx context.Context) error
	SubscribeTemplatesChanged(ctx context.Context, handler func(context.Context)) error
}

// IndexQueue hands indexing work to the background worker.
type IndexQueue interface {
	PublishIndexRequested(ctx context.Context, job domain.IndexJob) error
	SubscribeIndexRequested(ctx context.Context, handler func(context.Context, domain.IndexJob) error) error
}
