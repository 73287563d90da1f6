package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
	"github.com/mkraev/instruction-engine/internal/observability/metrics"
)

// ResolveUseCase is the three-tier resolution cascade:
// exact cache -> template matcher -> LLM fallback. Learn is the only
// write path into the cache and the template index.
type ResolveUseCase struct {
	cache     ports.InstructionCache
	templates *TemplateIndex
	generator ports.InstructionGenerator
	examples  ports.ExampleStore
	reload    ports.ReloadBus
	metrics   *metrics.ResolutionMetrics
	log       *slog.Logger
}

func NewResolveUseCase(
	cache ports.InstructionCache,
	templates *TemplateIndex,
	generator ports.InstructionGenerator,
	examples ports.ExampleStore,
	reload ports.ReloadBus,
	m *metrics.ResolutionMetrics,
	log *slog.Logger,
) *ResolveUseCase {
	return &ResolveUseCase{
		cache:     cache,
		templates: templates,
		generator: generator,
		examples:  examples,
		reload:    reload,
		metrics:   m,
		log:       log,
	}
}

func (uc *ResolveUseCase) Resolve(ctx context.Context, utterance string, scope domain.ScopeID) (*domain.Resolution, error) {
	key := cacheKey(utterance, scope)

	// Tier 1: exact cache. Read errors degrade to a miss.
	answer, hit, err := uc.cache.Get(ctx, key)
	if err != nil {
		uc.log.Warn("cache read failed, treating as miss", "error", err)
	} else if hit {
		uc.metrics.ObserveResolution(string(domain.SourceCache))
		if _, err := uc.cache.IncrementHits(ctx, key); err != nil {
			uc.log.Warn("cache hit counter failed", "error", err)
		}
		return &domain.Resolution{
			Answer: answer,
			Source: domain.SourceCache,
			Scope:  scope,
		}, nil
	}

	// Tier 2: template matcher.
	if resolution, ok := uc.templates.Match(utterance, scope); ok {
		uc.metrics.ObserveResolution(string(domain.SourceTemplate))
		hitKey := cacheKey(resolution.MatchedUtterance, resolution.Scope)
		if _, err := uc.cache.IncrementHits(ctx, hitKey); err != nil {
			uc.log.Warn("template hit counter failed", "error", err)
		}
		resolution.Scope = scope
		return resolution, nil
	}

	// Tier 3: LLM fallback. A failure here is the only remaining
	// option, so it surfaces instead of degrading.
	generated, err := uc.generator.GenerateInstruction(ctx, utterance, uc.templates.Vocabulary(scope))
	if err != nil {
		uc.metrics.ObserveResolution("error")
		return nil, domain.WrapError(domain.ErrUpstream, "llm fallback", err)
	}

	uc.metrics.ObserveResolution(string(domain.SourceLLM))
	return &domain.Resolution{
		Answer: generated,
		Source: domain.SourceLLM,
		Scope:  scope,
	}, nil
}

// Learn promotes a positively confirmed (utterance, answer) pair:
// persist the example, compile it into the live snapshot, write-once
// the exact cache, and signal sibling processes to rebuild.
func (uc *ResolveUseCase) Learn(ctx context.Context, utterance string, answer domain.Value, scope domain.ScopeID) error {
	example := domain.Example{
		Utterance: utterance,
		Answer:    answer,
		Scope:     scope,
		Source:    domain.ExampleSourceManual,
	}
	if err := uc.examples.Append(ctx, example); err != nil {
		return domain.WrapError(domain.ErrStoreWrite, "persist example", err)
	}

	template, err := CompileExample(utterance, answer, scope)
	if err != nil {
		return fmt.Errorf("compile learned example: %w", err)
	}
	uc.templates.Insert(template)

	if err := uc.cache.PutIfAbsent(ctx, cacheKey(utterance, scope), answer); err != nil {
		uc.log.Warn("cache write failed for learned example", "error", err)
	}

	if err := uc.reload.PublishTemplatesChanged(ctx); err != nil {
		uc.log.Warn("reload signal publish failed", "error", err)
	}

	uc.metrics.ObserveLearned()
	return nil
}

// Unlearn drops the cache entry for a pair after negative feedback.
// The persisted example and its template are administrative concerns
// and stay untouched.
func (uc *ResolveUseCase) Unlearn(ctx context.Context, utterance string, scope domain.ScopeID) error {
	if err := uc.cache.Delete(ctx, cacheKey(utterance, scope)); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// normalizeUtterance lowers, trims and collapses inner whitespace so
// trivially re-punctuated repeats of an utterance share a cache key.
func normalizeUtterance(utterance string) string {
	return strings.Join(strings.Fields(strings.ToLower(utterance)), " ")
}

func cacheKey(utterance string, scope domain.ScopeID) string {
	sum := sha256.Sum256([]byte(normalizeUtterance(utterance)))
	digest := hex.EncodeToString(sum[:])
	if scope.IsGlobal() {
		return "instruction_cache:" + digest
	}
	return fmt.Sprintf("instruction_cache:%s:%s", scope, digest)
}
