package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

var (
	testDefaultKey = domain.EmbeddingKey{Provider: "ollama", Model: "nomic-embed-text"}
	testOtherKey   = domain.EmbeddingKey{Provider: "openai", Model: "text-embedding-3-small"}
)

func testSpaces() map[domain.EmbeddingKey]int {
	return map[domain.EmbeddingKey]int{
		testDefaultKey: 4,
		testOtherKey:   8,
	}
}

type capturedRequest struct {
	method string
	path   string
	body   map[string]any
}

// newTestClient spins an httptest backend that accepts collection
// creation and records every other request for inspection.
func newTestClient(t *testing.T, respond func(path string) any) (*Client, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		captured = append(captured, capturedRequest{method: r.Method, path: r.URL.Path, body: body})

		w.Header().Set("Content-Type", "application/json")
		if respond != nil {
			if out := respond(r.URL.Path); out != nil {
				_ = json.NewEncoder(w).Encode(out)
				return
			}
		}
		_, _ = w.Write([]byte(`{"result":{},"status":"ok"}`))
	}))
	t.Cleanup(server.Close)
	return New(server.URL, "documents", testDefaultKey, testSpaces()), &captured
}

func TestVectorNameSanitization(t *testing.T) {
	name := vectorName(domain.EmbeddingKey{Provider: "Ollama", Model: "nomic-embed-text:v1.5"})
	if name != "ollama__nomic_embed_text_v1_5" {
		t.Fatalf("vectorName = %q", name)
	}
}

func TestUpsertChunksWritesNamedAndSparseVectors(t *testing.T) {
	client, captured := newTestClient(t, nil)

	chunks := []domain.Chunk{{
		ID:         "11111111-1111-1111-1111-111111111111",
		DocumentID: "doc-1",
		OwnerID:    "alice",
		Ordinal:    3,
		Text:       "quarterly report",
		Vector:     []float32{1, 2, 3, 4},
		Embedding:  testDefaultKey,
	}}
	if err := client.UpsertChunks(context.Background(), chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	// First call creates the collection, second upserts.
	if len(*captured) != 2 {
		t.Fatalf("requests = %d, want 2", len(*captured))
	}
	create := (*captured)[0]
	if create.method != http.MethodPut || create.path != "/collections/documents" {
		t.Fatalf("create request = %s %s", create.method, create.path)
	}
	vectors := create.body["vectors"].(map[string]any)
	if _, ok := vectors["ollama__nomic_embed_text"]; !ok {
		t.Fatalf("collection schema missing default space: %v", vectors)
	}
	if _, ok := vectors["openai__text_embedding_3_small"]; !ok {
		t.Fatalf("collection schema missing second space: %v", vectors)
	}
	if _, ok := create.body["sparse_vectors"].(map[string]any)["lexical"]; !ok {
		t.Fatal("collection schema missing sparse lexical vector")
	}

	upsert := (*captured)[1]
	points := upsert.body["points"].([]any)
	point := points[0].(map[string]any)
	vector := point["vector"].(map[string]any)
	if _, ok := vector["ollama__nomic_embed_text"]; !ok {
		t.Fatalf("point missing named dense vector: %v", vector)
	}
	if _, ok := vector["lexical"]; !ok {
		t.Fatal("point missing sparse lexical vector")
	}
	payload := point["payload"].(map[string]any)
	if payload["doc_id"] != "doc-1" || payload["owner_id"] != "alice" {
		t.Fatalf("payload identity = %v", payload)
	}
	if payload["provider"] != "ollama" || payload["model"] != "nomic-embed-text" {
		t.Fatalf("payload space = %v", payload)
	}
	if payload["ordinal"] != float64(3) {
		t.Fatalf("ordinal = %v", payload["ordinal"])
	}
}

func TestUpsertChunksRejectsUnknownSpace(t *testing.T) {
	client, _ := newTestClient(t, nil)
	chunks := []domain.Chunk{{
		ID:        "id",
		Vector:    []float32{1},
		Embedding: domain.EmbeddingKey{Provider: "ollama", Model: "unregistered"},
	}}
	if err := client.UpsertChunks(context.Background(), chunks); err == nil {
		t.Fatal("expected unknown space error")
	}
}

func TestSearchVectorDefaultSpaceAcceptsLegacyChunks(t *testing.T) {
	client, captured := newTestClient(t, func(path string) any {
		if strings.HasSuffix(path, "/points/search") {
			return map[string]any{"result": []map[string]any{{
				"id":      "p1",
				"score":   0.9,
				"payload": map[string]any{"doc_id": "doc-1", "ordinal": 0, "text": "hit"},
			}}}
		}
		return nil
	})

	hits, err := client.SearchVector(context.Background(), testDefaultKey, []float32{1, 2, 3, 4}, 5,
		domain.SearchFilter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "p1" || hits[0].Score != 0.9 {
		t.Fatalf("hits = %v", hits)
	}

	search := (*captured)[len(*captured)-1]
	vector := search.body["vector"].(map[string]any)
	if vector["name"] != "ollama__nomic_embed_text" {
		t.Fatalf("searched vector = %v", vector["name"])
	}
	filter := search.body["filter"].(map[string]any)
	// Default space filters via should: space match OR missing metadata.
	should, ok := filter["should"].([]any)
	if !ok || len(should) != 2 {
		t.Fatalf("default-space filter missing should clause: %v", filter)
	}
	must := filter["must"].([]any)
	owner := must[0].(map[string]any)
	if owner["key"] != "owner_id" {
		t.Fatalf("owner clause = %v", owner)
	}
}

func TestSearchVectorNonDefaultSpaceFiltersStrictly(t *testing.T) {
	client, captured := newTestClient(t, nil)

	_, err := client.SearchVector(context.Background(), testOtherKey, []float32{1}, 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}

	search := (*captured)[len(*captured)-1]
	filter := search.body["filter"].(map[string]any)
	if _, ok := filter["should"]; ok {
		t.Fatal("non-default space must not carry the legacy should clause")
	}
	must := filter["must"].([]any)
	keys := make([]string, 0, len(must))
	for _, clause := range must {
		keys = append(keys, clause.(map[string]any)["key"].(string))
	}
	joined := strings.Join(keys, ",")
	if !strings.Contains(joined, "provider") || !strings.Contains(joined, "model") {
		t.Fatalf("must clauses = %v", keys)
	}
}

func TestSearchVectorUnknownSpace(t *testing.T) {
	client, _ := newTestClient(t, nil)
	_, err := client.SearchVector(context.Background(),
		domain.EmbeddingKey{Provider: "x", Model: "y"}, []float32{1}, 5, domain.SearchFilter{})
	if err == nil {
		t.Fatal("expected unknown space error")
	}
}

func TestSearchLexicalShortCircuitsEmptyQuery(t *testing.T) {
	client, captured := newTestClient(t, nil)
	hits, err := client.SearchLexical(context.Background(), "!!!", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("hits = %v", hits)
	}
	if len(*captured) != 0 {
		t.Fatal("request sent for an empty sparse query")
	}
}

func TestSearchSubstringUsesScrollWithTextMatch(t *testing.T) {
	client, captured := newTestClient(t, func(path string) any {
		if strings.HasSuffix(path, "/points/scroll") {
			return map[string]any{"result": map[string]any{"points": []map[string]any{{
				"id":      7,
				"payload": map[string]any{"doc_id": "doc-1", "ordinal": 2, "text": "四半期報告"},
			}}}}
		}
		return nil
	})

	hits, err := client.SearchSubstring(context.Background(), "報告", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchSubstring() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "7" || hits[0].Ordinal != 2 {
		t.Fatalf("hits = %v", hits)
	}

	scroll := (*captured)[len(*captured)-1]
	if !strings.HasSuffix(scroll.path, "/points/scroll") {
		t.Fatalf("path = %s", scroll.path)
	}
	must := scroll.body["filter"].(map[string]any)["must"].([]any)
	last := must[len(must)-1].(map[string]any)
	if last["key"] != "text" {
		t.Fatalf("text clause = %v", last)
	}
}

func TestDeleteDocumentFiltersByDocID(t *testing.T) {
	client, captured := newTestClient(t, nil)
	if err := client.DeleteDocument(context.Background(), "doc-9"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	del := (*captured)[len(*captured)-1]
	if !strings.HasSuffix(del.path, "/points/delete") {
		t.Fatalf("path = %s", del.path)
	}
	must := del.body["filter"].(map[string]any)["must"].([]any)
	clause := must[0].(map[string]any)
	if clause["key"] != "doc_id" {
		t.Fatalf("clause = %v", clause)
	}
	if clause["match"].(map[string]any)["value"] != "doc-9" {
		t.Fatalf("clause = %v", clause)
	}
}

func TestCallSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "wrong vector size", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "documents", testDefaultKey, testSpaces())
	err := client.DeleteDocument(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "400") && !strings.Contains(err.Error(), "wrong vector size") {
		t.Fatalf("error lacks status context: %v", err)
	}
}
