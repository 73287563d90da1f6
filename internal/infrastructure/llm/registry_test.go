package llm

import (
	"context"
	"testing"
	"time"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return []float32{1}, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestRegistryResolvesByKey(t *testing.T) {
	registry := NewRegistry()
	stub := &stubEmbedder{}
	key := domain.EmbeddingKey{Provider: "ollama", Model: "nomic-embed-text"}
	registry.Register(key, stub, 0)

	embedder, err := registry.Embedder(key)
	if err != nil {
		t.Fatalf("Embedder() error = %v", err)
	}
	if _, err := embedder.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d", stub.calls)
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Embedder(domain.EmbeddingKey{Provider: "x", Model: "y"}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestRegistryRateLimitWrapsEmbedder(t *testing.T) {
	registry := NewRegistry()
	stub := &stubEmbedder{}
	key := domain.EmbeddingKey{Provider: "ollama", Model: "nomic-embed-text"}
	registry.Register(key, stub, 1000)

	embedder, err := registry.Embedder(key)
	if err != nil {
		t.Fatalf("Embedder() error = %v", err)
	}
	if _, ok := embedder.(*rateLimitedEmbedder); !ok {
		t.Fatalf("embedder not rate limited: %T", embedder)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := embedder.EmbedBatch(ctx, []string{"a"}); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("inner calls = %d", stub.calls)
	}
}

func TestRegistryRateLimitHonorsCancellation(t *testing.T) {
	registry := NewRegistry()
	key := domain.EmbeddingKey{Provider: "ollama", Model: "nomic-embed-text"}
	// One permit; the burst is spent by the first call.
	registry.Register(key, &stubEmbedder{}, 0.001)

	embedder, _ := registry.Embedder(key)
	if _, err := embedder.EmbedQuery(context.Background(), "first"); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := embedder.EmbedQuery(ctx, "second"); err == nil {
		t.Fatal("expected a context error while waiting for a permit")
	}
}

func TestRegistryKeys(t *testing.T) {
	registry := NewRegistry()
	registry.Register(domain.EmbeddingKey{Provider: "a", Model: "1"}, &stubEmbedder{}, 0)
	registry.Register(domain.EmbeddingKey{Provider: "b", Model: "2"}, &stubEmbedder{}, 0)
	if got := registry.Keys(); len(got) != 2 {
		t.Fatalf("Keys() = %v", got)
	}
}
