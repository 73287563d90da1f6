package chunking

import (
	"strings"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
)

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// Factory hands out splitters sized for the embedding space: models
// from short-context families get smaller chunks so a chunk plus its
// overlap still fits the model's window.
type Factory struct {
	defaultSize    int
	defaultOverlap int
	shortSize      int
	shortOverlap   int
	shortFamilies  []string
}

func NewFactory(defaultSize, defaultOverlap, shortSize, shortOverlap int, shortFamilies []string) *Factory {
	if shortSize <= 0 {
		shortSize = 480
	}
	if shortOverlap <= 0 {
		shortOverlap = 80
	}
	families := make([]string, 0, len(shortFamilies))
	for _, family := range shortFamilies {
		family = strings.ToLower(strings.TrimSpace(family))
		if family != "" {
			families = append(families, family)
		}
	}
	return &Factory{
		defaultSize:    defaultSize,
		defaultOverlap: defaultOverlap,
		shortSize:      shortSize,
		shortOverlap:   shortOverlap,
		shortFamilies:  families,
	}
}

func (f *Factory) ForModel(key domain.EmbeddingKey) ports.Chunker {
	model := strings.ToLower(key.Model)
	for _, family := range f.shortFamilies {
		if strings.HasPrefix(model, family) {
			return NewSplitter(f.shortSize, f.shortOverlap)
		}
	}
	return NewSplitter(f.defaultSize, f.defaultOverlap)
}
