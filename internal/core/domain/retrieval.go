package domain

import "time"

// EmbeddingKey identifies one embedding space. Chunks are only ever
// searched with a query vector produced by the same key.
type EmbeddingKey struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (k EmbeddingKey) IsZero() bool { return k.Provider == "" && k.Model == "" }

func (k EmbeddingKey) String() string { return k.Provider + "/" + k.Model }

// OrDefault substitutes the process-wide default pair for unset or
// legacy metadata.
func (k EmbeddingKey) OrDefault(def EmbeddingKey) EmbeddingKey {
	if k.IsZero() {
		return def
	}
	return k
}

// Chunk is a bounded slice of document text stored with its embedding.
// Ordinal is contiguous per document starting at 0.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	Ordinal    int
	Text       string
	Vector     []float32
	Embedding  EmbeddingKey
}

// RankedHit is one fused retrieval result. Ephemeral, never persisted.
type RankedHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// SearchFilter restricts retrieval to an owner and optionally to an
// explicit document set.
type SearchFilter struct {
	OwnerID     string
	DocumentIDs []string
}

type DocumentStatus string

const (
	StatusIndexing DocumentStatus = "indexing"
	StatusIndexed  DocumentStatus = "indexed"
	StatusFailed   DocumentStatus = "failed"
)

// DocumentRef is the catalog row for an indexed document: who owns it
// and which embedding space its chunks live in.
type DocumentRef struct {
	ID        string
	OwnerID   string
	Embedding EmbeddingKey
	Status    DocumentStatus
	Error     string
	Chunks    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexJob is one queued background indexing request.
type IndexJob struct {
	JobID      string       `json:"job_id"`
	DocumentID string       `json:"document_id"`
	OwnerID    string       `json:"owner_id"`
	Text       string       `json:"text"`
	Embedding  EmbeddingKey `json:"embedding"`
}
