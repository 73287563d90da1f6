package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
	"github.com/mkraev/instruction-engine/internal/observability/metrics"
)

// SearchUseCase fans a query out across every embedding space present
// in the eligible corpus plus one keyword branch, then fuses the
// rankings. Branches share no mutable state and are joined before
// fusion.
type SearchUseCase struct {
	registry ports.EmbedderRegistry
	chunks   ports.ChunkStore
	catalog  ports.DocumentCatalog
	metrics  *metrics.RetrievalMetrics
	log      *slog.Logger

	defaultKey    domain.EmbeddingKey
	fusionEnabled bool
}

func NewSearchUseCase(
	registry ports.EmbedderRegistry,
	chunks ports.ChunkStore,
	catalog ports.DocumentCatalog,
	defaultKey domain.EmbeddingKey,
	fusionEnabled bool,
	m *metrics.RetrievalMetrics,
	log *slog.Logger,
) *SearchUseCase {
	return &SearchUseCase{
		registry:      registry,
		chunks:        chunks,
		catalog:       catalog,
		defaultKey:    defaultKey,
		fusionEnabled: fusionEnabled,
		metrics:       m,
		log:           log,
	}
}

func (uc *SearchUseCase) SearchDocuments(ctx context.Context, query string, filter domain.SearchFilter, k int) ([]domain.RankedHit, error) {
	if k <= 0 {
		k = 5
	}
	candidateLimit := 2 * k

	keys, err := uc.embeddingKeys(ctx, filter)
	if err != nil {
		return nil, err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	denseLists := make([][]domain.RankedHit, len(keys))
	denseErrs := make([]error, len(keys))
	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			hits, err := uc.denseBranch(groupCtx, key, query, candidateLimit, filter)
			if err != nil {
				// One failed space must not sink the others;
				// record and exclude it from fusion.
				denseErrs[i] = err
				uc.metrics.ObserveBranchFailure(key.String())
				uc.log.Warn("embedding branch failed", "embedding", key.String(), "error", err)
				return nil
			}
			denseLists[i] = hits
			return nil
		})
	}

	var keywordHits []domain.RankedHit
	group.Go(func() error {
		hits, err := uc.keywordBranch(groupCtx, query, candidateLimit, filter)
		if err != nil {
			uc.metrics.ObserveBranchFailure("keyword")
			uc.log.Warn("keyword branch failed", "error", err)
			return nil
		}
		keywordHits = hits
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	survived := make([][]domain.RankedHit, 0, len(keys))
	for i := range keys {
		if denseErrs[i] != nil {
			failed++
			continue
		}
		survived = append(survived, denseLists[i])
	}
	if failed == len(keys) {
		return nil, domain.WrapError(domain.ErrAllBranchesFailed, "search documents",
			fmt.Errorf("%d of %d embedding branches failed, first: %w", failed, len(keys), firstError(denseErrs)))
	}

	var out []domain.RankedHit
	if uc.fusionEnabled {
		// Stage 1 merges the per-model dense lists; stage 2 merges
		// that ranking with the keyword list.
		vectorRanked := fuseRRF(survived...)
		out = fuseRRF(vectorRanked, keywordHits)
	} else {
		lists := append(survived, keywordHits)
		out = concatDedup(lists...)
	}

	out = trimHits(out, k)
	uc.metrics.ObserveSearch(len(keys), len(out))
	return out, nil
}

// embeddingKeys resolves the distinct embedding spaces of the eligible
// documents, defaulting unset/legacy rows to the process-wide pair.
// The slice is sorted so the fusion merge sequence is deterministic.
func (uc *SearchUseCase) embeddingKeys(ctx context.Context, filter domain.SearchFilter) ([]domain.EmbeddingKey, error) {
	raw, err := uc.catalog.EmbeddingKeys(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list embedding keys: %w", err)
	}

	distinct := make(map[domain.EmbeddingKey]struct{}, len(raw))
	for _, key := range raw {
		distinct[key.OrDefault(uc.defaultKey)] = struct{}{}
	}
	if len(distinct) == 0 {
		distinct[uc.defaultKey] = struct{}{}
	}

	keys := make([]domain.EmbeddingKey, 0, len(distinct))
	for key := range distinct {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (uc *SearchUseCase) denseBranch(ctx context.Context, key domain.EmbeddingKey, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error) {
	embedder, err := uc.registry.Embedder(key)
	if err != nil {
		return nil, fmt.Errorf("resolve embedder %s: %w", key.String(), err)
	}
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUpstream, "embed query "+key.String(), err)
	}
	hits, err := uc.chunks.SearchVector(ctx, key, vector, limit, filter)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUpstream, "vector search "+key.String(), err)
	}
	return hits, nil
}

// keywordBranch picks the search primitive by script: substring
// containment for predominantly CJK queries, tokenized lexical ranking
// otherwise.
func (uc *SearchUseCase) keywordBranch(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RankedHit, error) {
	if isCJKQuery(query) {
		return uc.chunks.SearchSubstring(ctx, query, limit, filter)
	}
	return uc.chunks.SearchLexical(ctx, query, limit, filter)
}

// cjkQueryThreshold is the fraction of letter-class runes that must be
// CJK before substring search takes over from tokenized ranking.
const cjkQueryThreshold = 0.25

func isCJKQuery(query string) bool {
	letters, cjk := 0, 0
	for _, r := range query {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		}
	}
	if letters == 0 {
		return false
	}
	return float64(cjk)/float64(letters) >= cjkQueryThreshold
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
