package usecase

import (
	"sort"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

const rrfRankConstant = 60

// placeholderScore marks results that bypassed fusion entirely.
const placeholderScore = 1.0

// fuseRRF merges ranked lists with Reciprocal Rank Fusion:
// score(item) = sum over lists of 1/(rank + 60), rank 1-based. Items
// absent from a list contribute nothing for it. Equal scores break
// ties by first-seen order across the merge sequence, so the result
// is deterministic for a given list order.
func fuseRRF(lists ...[]domain.RankedHit) []domain.RankedHit {
	type candidate struct {
		hit       domain.RankedHit
		score     float64
		firstSeen int
	}

	acc := make(map[string]*candidate)
	order := 0
	for _, list := range lists {
		for rank, hit := range list {
			key := hitKey(hit)
			entry, ok := acc[key]
			if !ok {
				entry = &candidate{hit: hit, firstSeen: order}
				acc[key] = entry
				order++
			}
			entry.score += 1.0 / float64(rank+1+rrfRankConstant)
		}
	}

	out := make([]*candidate, 0, len(acc))
	for _, entry := range acc {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].firstSeen < out[j].firstSeen
	})

	fused := make([]domain.RankedHit, 0, len(out))
	for _, entry := range out {
		hit := entry.hit
		hit.Score = entry.score
		fused = append(fused, hit)
	}
	return fused
}

// concatDedup is the fusion-disabled fallback: order-preserving dedup
// concatenation with a constant placeholder score.
func concatDedup(lists ...[]domain.RankedHit) []domain.RankedHit {
	seen := make(map[string]struct{})
	var out []domain.RankedHit
	for _, list := range lists {
		for _, hit := range list {
			key := hitKey(hit)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			hit.Score = placeholderScore
			out = append(out, hit)
		}
	}
	return out
}

func trimHits(hits []domain.RankedHit, limit int) []domain.RankedHit {
	if limit <= 0 || len(hits) <= limit {
		return hits
	}
	return hits[:limit]
}

func hitKey(hit domain.RankedHit) string {
	if hit.ChunkID != "" {
		return hit.ChunkID
	}
	return hit.DocumentID + "|" + hit.Content
}
