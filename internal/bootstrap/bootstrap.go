package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkraev/instruction-engine/internal/config"
	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
	"github.com/mkraev/instruction-engine/internal/core/usecase"
	"github.com/mkraev/instruction-engine/internal/infrastructure/cache/redis"
	"github.com/mkraev/instruction-engine/internal/infrastructure/chunking"
	"github.com/mkraev/instruction-engine/internal/infrastructure/llm"
	"github.com/mkraev/instruction-engine/internal/infrastructure/llm/ollama"
	"github.com/mkraev/instruction-engine/internal/infrastructure/llm/openai"
	"github.com/mkraev/instruction-engine/internal/infrastructure/queue/nats"
	"github.com/mkraev/instruction-engine/internal/infrastructure/repository/postgres"
	"github.com/mkraev/instruction-engine/internal/infrastructure/resilience"
	"github.com/mkraev/instruction-engine/internal/infrastructure/vector/qdrant"
	"github.com/mkraev/instruction-engine/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Bus       *nats.Bus
	Templates *usecase.TemplateIndex

	ResolveUC ports.InstructionResolver
	SearchUC  ports.DocumentSearcher
	IndexUC   ports.DocumentIndexer

	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	examples := postgres.NewExampleRepository(db)
	if err := examples.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure examples schema: %w", err)
	}
	catalog := postgres.NewDocumentCatalog(db)
	if err := catalog.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure catalog schema: %w", err)
	}

	cache, err := redis.New(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      time.Duration(cfg.CacheTTLHours) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("init instruction cache: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReloadSubject, cfg.NATSIndexSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init nats bus: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		ResilienceExecutor: executor,
	})
	defaultKey := domain.EmbeddingKey{Provider: cfg.DefaultEmbedProvider, Model: cfg.DefaultEmbedModel}

	registry := llm.NewRegistry()
	spaces := map[domain.EmbeddingKey]int{
		{Provider: "ollama", Model: cfg.OllamaEmbedModel}: cfg.OllamaEmbedDim,
	}
	registry.Register(domain.EmbeddingKey{Provider: "ollama", Model: cfg.OllamaEmbedModel},
		ollama.NewEmbedder(ollamaClient), cfg.EmbedRateQPS)

	var openaiClient *openai.Client
	if cfg.OpenAIAPIKey != "" {
		openaiClient = openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			ChatModel:  cfg.OpenAIChatModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		})
		key := domain.EmbeddingKey{Provider: "openai", Model: cfg.OpenAIEmbedModel}
		spaces[key] = cfg.OpenAIEmbedDim
		registry.Register(key, openai.NewEmbedder(openaiClient), cfg.EmbedRateQPS)
	}

	if _, err := registry.Embedder(defaultKey); err != nil {
		return nil, fmt.Errorf("default embedding space %s is not configured", defaultKey.String())
	}

	generator, err := pickGenerator(cfg, ollamaClient, openaiClient)
	if err != nil {
		return nil, err
	}

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, defaultKey, spaces)
	if err := vectorDB.EnsureTextIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure qdrant indexes: %w", err)
	}

	chunkers := chunking.NewFactory(cfg.ChunkSize, cfg.ChunkOverlap, 0, 0, shortContextFamilies)

	templates := usecase.NewTemplateIndex(examples, log)
	if n, err := examples.SeedDefaults(ctx, defaultExamples()); err != nil {
		return nil, fmt.Errorf("seed default examples: %w", err)
	} else if n > 0 {
		log.Info("seeded default examples", "inserted", n)
	}
	if err := templates.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("build template index: %w", err)
	}

	resolutionMetrics := metrics.NewResolutionMetrics("engine")
	retrievalMetrics := metrics.NewRetrievalMetrics("engine")
	workerMetrics := metrics.NewWorkerMetrics("engine")

	resolveUC := usecase.NewResolveUseCase(cache, templates, generator, examples, bus, resolutionMetrics, log)
	searchUC := usecase.NewSearchUseCase(registry, vectorDB, catalog, defaultKey, cfg.FusionEnabled, retrievalMetrics, log)
	indexUC := usecase.NewIndexUseCase(registry, chunkers, vectorDB, catalog, workerMetrics, log)

	return &App{
		Config: cfg,
		Log:    log,

		Bus:       bus,
		Templates: templates,

		ResolveUC: resolveUC,
		SearchUC:  searchUC,
		IndexUC:   indexUC,

		WorkerMetrics: workerMetrics,

		closeFn: func() {
			bus.Close()
			_ = cache.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Embedding model families with small context windows; their chunks are
// sized down so chunk plus overlap stays inside the window.
var shortContextFamilies = []string{"nomic-embed-text", "all-minilm"}

func pickGenerator(cfg config.Config, ol *ollama.Client, oa *openai.Client) (ports.InstructionGenerator, error) {
	switch strings.ToLower(cfg.GeneratorProvider) {
	case "", "ollama":
		return ollama.NewGenerator(ol), nil
	case "openai":
		if oa == nil {
			return nil, fmt.Errorf("generator provider openai requires OPENAI_API_KEY")
		}
		return openai.NewGenerator(oa), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.GeneratorProvider)
	}
}

// defaultExamples is the built-in instruction set present in every
// fresh deployment. Seeding skips pairs an operator already overrode.
func defaultExamples() []domain.Example {
	return []domain.Example{
		{
			Utterance: "turn the volume to 5",
			Answer: domain.Object{
				"action": domain.Leaf{V: "set_volume"},
				"level":  domain.Leaf{V: int64(5)},
			},
		},
		{
			Utterance: "set brightness to 80 percent",
			Answer: domain.Object{
				"action": domain.Leaf{V: "set_brightness"},
				"level":  domain.Leaf{V: int64(80)},
			},
		},
		{
			Utterance: "remind me to stretch in 20 minutes",
			Answer: domain.Object{
				"action": domain.Leaf{V: "create_reminder"},
				"task":   domain.Leaf{V: "stretch"},
				"delay_minutes": domain.Leaf{
					V: int64(20),
				},
			},
		},
		{
			Utterance: "search my documents for quarterly report",
			Answer: domain.Object{
				"action": domain.Leaf{V: "search_documents"},
				"query":  domain.Leaf{V: "quarterly report"},
			},
		},
	}
}
