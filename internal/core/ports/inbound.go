package ports

import (
	"context"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// InstructionResolver is the inbound contract for the resolution cascade.
type InstructionResolver interface {
	Resolve(ctx context.Context, utterance string, scope domain.ScopeID) (*domain.Resolution, error)
	Learn(ctx context.Context, utterance string, answer domain.Value, scope domain.ScopeID) error
	Unlearn(ctx context.Context, utterance string, scope domain.ScopeID) error
}

// DocumentSearcher is the inbound contract for hybrid retrieval.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, query string, filter domain.SearchFilter, k int) ([]domain.RankedHit, error)
}

// DocumentIndexer is the inbound contract for (re)indexing a document.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, documentID, ownerID, text string, key domain.EmbeddingKey) error
}
