package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExampleStore struct {
	mu       sync.Mutex
	examples []domain.Example
	appendErr error
	listErr   error
}

func (s *fakeExampleStore) Append(_ context.Context, example domain.Example) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examples = append(s.examples, example)
	return nil
}

func (s *fakeExampleStore) ListAll(_ context.Context) ([]domain.Example, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Example, len(s.examples))
	copy(out, s.examples)
	return out, nil
}

func (s *fakeExampleStore) SeedDefaults(_ context.Context, examples []domain.Example) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examples = append(s.examples, examples...)
	return len(examples), nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.Value
	hits    map[string]int64
	getErr  error
	putErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]domain.Value),
		hits:    make(map[string]int64),
	}
}

func (c *fakeCache) Get(_ context.Context, key string) (domain.Value, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok, nil
}

func (c *fakeCache) PutIfAbsent(_ context.Context, key string, answer domain.Value) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = answer
	}
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.hits, key)
	return nil
}

func (c *fakeCache) IncrementHits(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[key]++
	return c.hits[key], nil
}

type fakeGenerator struct {
	answer     domain.Value
	err        error
	calls      int
	vocabulary []string
}

func (g *fakeGenerator) GenerateInstruction(_ context.Context, _ string, vocabulary []string) (domain.Value, error) {
	g.calls++
	g.vocabulary = vocabulary
	if g.err != nil {
		return nil, g.err
	}
	return g.answer, nil
}

type fakeReloadBus struct {
	mu        sync.Mutex
	published int
}

func (b *fakeReloadBus) PublishTemplatesChanged(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published++
	return nil
}

func (b *fakeReloadBus) SubscribeTemplatesChanged(ctx context.Context, _ func(context.Context)) error {
	<-ctx.Done()
	return nil
}

type fakeEmbedder struct {
	vector   []float32
	err      error
	batchErr map[int]error // call index -> error
	calls    int
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	call := e.calls
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if err, ok := e.batchErr[call]; ok {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

type fakeRegistry struct {
	embedders map[domain.EmbeddingKey]ports.Embedder
}

func (r *fakeRegistry) Embedder(key domain.EmbeddingKey) (ports.Embedder, error) {
	embedder, ok := r.embedders[key]
	if !ok {
		return nil, fmt.Errorf("no embedder for %s", key.String())
	}
	return embedder, nil
}

type fakeChunkStore struct {
	mu              sync.Mutex
	upserted        [][]domain.Chunk
	deletedDocs     []string
	upsertErr       error
	vectorHits      map[domain.EmbeddingKey][]domain.RankedHit
	vectorErr       map[domain.EmbeddingKey]error
	lexicalHits     []domain.RankedHit
	lexicalCalls    int
	substringHits   []domain.RankedHit
	substringCalls  int
}

func (s *fakeChunkStore) UpsertChunks(_ context.Context, chunks []domain.Chunk) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, chunks)
	return nil
}

func (s *fakeChunkStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedDocs = append(s.deletedDocs, documentID)
	return nil
}

func (s *fakeChunkStore) SearchVector(_ context.Context, key domain.EmbeddingKey, _ []float32, _ int, _ domain.SearchFilter) ([]domain.RankedHit, error) {
	if err, ok := s.vectorErr[key]; ok {
		return nil, err
	}
	return s.vectorHits[key], nil
}

func (s *fakeChunkStore) SearchLexical(_ context.Context, _ string, _ int, _ domain.SearchFilter) ([]domain.RankedHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lexicalCalls++
	return s.lexicalHits, nil
}

func (s *fakeChunkStore) SearchSubstring(_ context.Context, _ string, _ int, _ domain.SearchFilter) ([]domain.RankedHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.substringCalls++
	return s.substringHits, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	keys     []domain.EmbeddingKey
	keysErr  error
	upserted []*domain.DocumentRef
	statuses []string
	chunksAt []int
}

func (c *fakeCatalog) Upsert(_ context.Context, ref *domain.DocumentRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted = append(c.upserted, ref)
	return nil
}

func (c *fakeCatalog) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, chunks int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, string(status))
	c.chunksAt = append(c.chunksAt, chunks)
	return nil
}

func (c *fakeCatalog) EmbeddingKeys(_ context.Context, _ domain.SearchFilter) ([]domain.EmbeddingKey, error) {
	if c.keysErr != nil {
		return nil, c.keysErr
	}
	return c.keys, nil
}

func (c *fakeCatalog) GetByID(_ context.Context, id string) (*domain.DocumentRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ref := range c.upserted {
		if ref.ID == id {
			return ref, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeChunkerFactory struct {
	pieces []string
}

func (f *fakeChunkerFactory) ForModel(_ domain.EmbeddingKey) ports.Chunker {
	return fixedChunker{pieces: f.pieces}
}

type fixedChunker struct {
	pieces []string
}

func (c fixedChunker) Split(_ string) []string { return c.pieces }
