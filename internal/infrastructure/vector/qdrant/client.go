package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

const lexicalVectorName = "lexical"

// Client stores chunks in one qdrant collection with a named dense
// vector per embedding space plus a shared sparse lexical vector.
// Space names and dimensions are fixed at construction; the embedding
// registry is the source of truth for both.
type Client struct {
	baseURL    string
	collection string
	defaultKey domain.EmbeddingKey
	spaces     map[string]int // vector name -> dimension
	httpClient *http.Client

	ensureMu sync.Mutex
	ensured  bool
}

func New(baseURL, collection string, defaultKey domain.EmbeddingKey, spaces map[domain.EmbeddingKey]int) *Client {
	named := make(map[string]int, len(spaces))
	for key, dim := range spaces {
		named[vectorName(key)] = dim
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		defaultKey: defaultKey,
		spaces:     named,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func vectorName(key domain.EmbeddingKey) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				return r
			case r >= 'A' && r <= 'Z':
				return r + ('a' - 'A')
			default:
				return '_'
			}
		}, s)
	}
	return sanitize(key.Provider) + "__" + sanitize(key.Model)
}

func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		name := vectorName(chunk.Embedding.OrDefault(c.defaultKey))
		if _, known := c.spaces[name]; !known {
			return fmt.Errorf("unknown embedding space %s", chunk.Embedding.String())
		}
		points = append(points, point{
			ID: chunk.ID,
			Vector: map[string]any{
				name:              chunk.Vector,
				lexicalVectorName: encodeSparseDocument(chunk.Text),
			},
			Payload: map[string]any{
				"doc_id":   chunk.DocumentID,
				"owner_id": chunk.OwnerID,
				"ordinal":  chunk.Ordinal,
				"text":     chunk.Text,
				"provider": chunk.Embedding.Provider,
				"model":    chunk.Embedding.Model,
			},
		})
	}

	var response any
	err := c.call(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", c.collection),
		map[string]any{"points": points}, &response, "upsert")
	if err != nil {
		return err
	}
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	var response any
	return c.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection),
		body, &response, "delete")
}

func (c *Client) SearchVector(ctx context.Context, key domain.EmbeddingKey, vector []float32, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error) {
	key = key.OrDefault(c.defaultKey)
	name := vectorName(key)
	if _, known := c.spaces[name]; !known {
		return nil, fmt.Errorf("unknown embedding space %s", key.String())
	}

	body := map[string]any{
		"vector": map[string]any{
			"name":   name,
			"vector": vector,
		},
		"limit":        limit,
		"with_payload": true,
		"filter":       c.searchFilter(key, filter),
	}

	var response struct {
		Result []searchPoint `json:"result"`
	}
	err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", c.collection),
		body, &response, "search")
	if err != nil {
		return nil, err
	}
	return pointsToHits(response.Result), nil
}

func (c *Client) SearchLexical(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error) {
	sparse := encodeSparseQuery(query)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector": map[string]any{
			"name":   lexicalVectorName,
			"vector": sparse,
		},
		"limit":        limit,
		"with_payload": true,
		"filter":       c.searchFilter(domain.EmbeddingKey{}, filter),
	}

	var response struct {
		Result []searchPoint `json:"result"`
	}
	err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", c.collection),
		body, &response, "lexical search")
	if err != nil {
		return nil, err
	}
	return pointsToHits(response.Result), nil
}

// SearchSubstring serves CJK queries with a full-text containment
// filter instead of the sparse index; results keep scroll order.
func (c *Client) SearchSubstring(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error) {
	base := c.searchFilter(domain.EmbeddingKey{}, filter)
	must := base["must"].([]map[string]any)
	must = append(must, map[string]any{
		"key":   "text",
		"match": map[string]any{"text": query},
	})
	base["must"] = must

	body := map[string]any{
		"filter":       base,
		"limit":        limit,
		"with_payload": true,
	}

	var response struct {
		Result struct {
			Points []searchPoint `json:"points"`
		} `json:"result"`
	}
	err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/scroll", c.collection),
		body, &response, "substring search")
	if err != nil {
		return nil, err
	}
	return pointsToHits(response.Result.Points), nil
}

// searchFilter builds the must-clauses shared by every search: owner,
// optional document set, and (for dense searches) the embedding space.
// Chunks written before space metadata existed carry empty provider
// and model payloads; they count as the default pair, so the default
// space accepts them through a should-clause.
func (c *Client) searchFilter(key domain.EmbeddingKey, filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, 4)
	if filter.OwnerID != "" {
		must = append(must, map[string]any{
			"key": "owner_id", "match": map[string]any{"value": filter.OwnerID},
		})
	}
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key": "doc_id", "match": map[string]any{"any": filter.DocumentIDs},
		})
	}

	out := map[string]any{"must": must}
	if key.IsZero() {
		return out
	}

	spaceMatch := []map[string]any{
		{"key": "provider", "match": map[string]any{"value": key.Provider}},
		{"key": "model", "match": map[string]any{"value": key.Model}},
	}
	if key == c.defaultKey {
		out["should"] = []map[string]any{
			{"must": spaceMatch},
			{"is_empty": map[string]any{"key": "provider"}},
		}
		return out
	}
	out["must"] = append(must, spaceMatch...)
	return out
}

type searchPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func pointsToHits(points []searchPoint) []domain.RankedHit {
	out := make([]domain.RankedHit, 0, len(points))
	for _, p := range points {
		out = append(out, domain.RankedHit{
			ChunkID:    fmt.Sprintf("%v", p.ID),
			DocumentID: payloadString(p.Payload, "doc_id"),
			Ordinal:    payloadInt(p.Payload, "ordinal"),
			Content:    payloadString(p.Payload, "text"),
			Score:      p.Score,
		})
	}
	return out
}

func (c *Client) ensureCollection(ctx context.Context) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensured {
		return nil
	}

	vectors := make(map[string]any, len(c.spaces))
	for name, dim := range c.spaces {
		vectors[name] = map[string]any{"size": dim, "distance": "Cosine"}
	}
	body := map[string]any{
		"vectors": vectors,
		"sparse_vectors": map[string]any{
			lexicalVectorName: map[string]any{},
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the collection already exists.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.ensured = true
	return nil
}

// EnsureTextIndex creates the full-text payload index substring search
// relies on. Safe to call repeatedly.
func (c *Client) EnsureTextIndex(ctx context.Context) error {
	if err := c.ensureCollection(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"field_name": "text",
		"field_schema": map[string]any{
			"type":      "text",
			"tokenizer": "multilingual",
			"lowercase": true,
		},
	}
	var response any
	err := c.call(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/index?wait=true", c.collection),
		body, &response, "create text index")
	if err != nil && strings.Contains(err.Error(), "409") {
		return nil
	}
	return err
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any, operation string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, trimmed)
		}
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
