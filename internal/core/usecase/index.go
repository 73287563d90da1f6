package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
	"github.com/mkraev/instruction-engine/internal/observability/metrics"
)

// embedBatchSize bounds one embedding call and one chunk-store write.
// A batch commits only after its embeddings succeed; a failed batch
// aborts the rest of the document but leaves committed batches intact.
const embedBatchSize = 10

// IndexUseCase (re)indexes one document into the chunk store.
type IndexUseCase struct {
	registry ports.EmbedderRegistry
	chunkers ports.ChunkerFactory
	chunks   ports.ChunkStore
	catalog  ports.DocumentCatalog
	metrics  *metrics.WorkerMetrics
	log      *slog.Logger
}

func NewIndexUseCase(
	registry ports.EmbedderRegistry,
	chunkers ports.ChunkerFactory,
	chunks ports.ChunkStore,
	catalog ports.DocumentCatalog,
	m *metrics.WorkerMetrics,
	log *slog.Logger,
) *IndexUseCase {
	return &IndexUseCase{
		registry: registry,
		chunkers: chunkers,
		chunks:   chunks,
		catalog:  catalog,
		metrics:  m,
		log:      log,
	}
}

func (uc *IndexUseCase) IndexDocument(ctx context.Context, documentID, ownerID, text string, key domain.EmbeddingKey) error {
	start := time.Now()
	written, err := uc.indexDocument(ctx, documentID, ownerID, text, key)
	status := domain.StatusIndexed
	errMessage := ""
	if err != nil {
		status = domain.StatusFailed
		errMessage = err.Error()
	}
	if statusErr := uc.catalog.UpdateStatus(ctx, documentID, status, written, errMessage); statusErr != nil {
		uc.log.Error("catalog status update failed", "document_id", documentID, "error", statusErr)
	}
	uc.metrics.ObserveIndex(string(status), time.Since(start))
	return err
}

func (uc *IndexUseCase) indexDocument(ctx context.Context, documentID, ownerID, text string, key domain.EmbeddingKey) (int, error) {
	now := time.Now().UTC()
	ref := &domain.DocumentRef{
		ID:        documentID,
		OwnerID:   ownerID,
		Embedding: key,
		Status:    domain.StatusIndexing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.catalog.Upsert(ctx, ref); err != nil {
		return 0, domain.WrapError(domain.ErrStoreWrite, "register document", err)
	}

	// Re-indexing replaces a document wholesale.
	if err := uc.chunks.DeleteDocument(ctx, documentID); err != nil {
		return 0, domain.WrapError(domain.ErrStoreWrite, "delete stale chunks", err)
	}

	embedder, err := uc.registry.Embedder(key)
	if err != nil {
		return 0, fmt.Errorf("resolve embedder %s: %w", key.String(), err)
	}

	pieces := uc.chunkers.ForModel(key).Split(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	written := 0
	for batchStart := 0; batchStart < len(pieces); batchStart += embedBatchSize {
		batchEnd := min(batchStart+embedBatchSize, len(pieces))
		batch := pieces[batchStart:batchEnd]

		vectors, err := embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return written, domain.WrapError(domain.ErrUpstream,
				fmt.Sprintf("embed batch %d..%d", batchStart, batchEnd-1), err)
		}
		if len(vectors) != len(batch) {
			return written, domain.WrapError(domain.ErrUpstream,
				"embed batch", fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch)))
		}

		chunks := make([]domain.Chunk, len(batch))
		for i := range batch {
			chunks[i] = domain.Chunk{
				ID:         uuid.NewString(),
				DocumentID: documentID,
				OwnerID:    ownerID,
				Ordinal:    batchStart + i,
				Text:       batch[i],
				Vector:     vectors[i],
				Embedding:  key,
			}
		}
		if err := uc.chunks.UpsertChunks(ctx, chunks); err != nil {
			return written, domain.WrapError(domain.ErrStoreWrite,
				fmt.Sprintf("persist batch %d..%d", batchStart, batchEnd-1), err)
		}
		written += len(chunks)
		uc.metrics.ObserveIndexBatch(len(chunks))
	}

	uc.log.Info("document indexed",
		"document_id", documentID,
		"embedding", key.String(),
		"chunks", written,
	)
	return written, nil
}
