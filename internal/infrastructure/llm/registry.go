package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
)

// Registry maps (provider, model) pairs to embedder implementations.
// The core resolves embedders only through this registry, so provider
// identity never leaks past the key.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.EmbeddingKey]ports.Embedder
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.EmbeddingKey]ports.Embedder)}
}

// Register binds an embedder to its space. A non-zero qps wraps the
// embedder with a provider-level rate limiter.
func (r *Registry) Register(key domain.EmbeddingKey, embedder ports.Embedder, qps float64) {
	if qps > 0 {
		embedder = &rateLimitedEmbedder{
			inner:   embedder,
			limiter: rate.NewLimiter(rate.Limit(qps), 1),
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = embedder
}

func (r *Registry) Embedder(key domain.EmbeddingKey) (ports.Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	embedder, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("no embedder registered for %s", key.String())
	}
	return embedder, nil
}

// Keys returns the registered embedding spaces.
func (r *Registry) Keys() []domain.EmbeddingKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EmbeddingKey, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, key)
	}
	return out
}

type rateLimitedEmbedder struct {
	inner   ports.Embedder
	limiter *rate.Limiter
}

func (e *rateLimitedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.EmbedQuery(ctx, text)
}

func (e *rateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.EmbedBatch(ctx, texts)
}
