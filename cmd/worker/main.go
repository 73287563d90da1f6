package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mkraev/instruction-engine/internal/bootstrap"
	"github.com/mkraev/instruction-engine/internal/config"
	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("engine-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		log.Fatalf("worker pool error: %v", err)
	}
	defer pool.Release()

	group, groupCtx := errgroup.WithContext(ctx)

	// Index jobs are consumed off the queue and run on the bounded
	// pool; Submit blocks when every worker is busy, which throttles
	// consumption instead of piling up goroutines.
	group.Go(func() error {
		logger.Info("consuming index jobs", "subject", cfg.NATSIndexSubject)
		return app.Bus.SubscribeIndexRequested(groupCtx, func(handlerCtx context.Context, job domain.IndexJob) error {
			return pool.Submit(func() {
				app.WorkerMetrics.StartJob()
				defer app.WorkerMetrics.FinishJob()

				jobCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
				defer cancel()
				key := job.Embedding.OrDefault(domain.EmbeddingKey{
					Provider: cfg.DefaultEmbedProvider,
					Model:    cfg.DefaultEmbedModel,
				})
				if err := app.IndexUC.IndexDocument(jobCtx, job.DocumentID, job.OwnerID, job.Text, key); err != nil {
					logger.Error("index job failed",
						"job_id", job.JobID, "document_id", job.DocumentID, "error", err)
				}
			})
		})
	})

	// Reload signals from sibling processes rebuild the local template
	// snapshot from the shared example store.
	group.Go(func() error {
		logger.Info("listening for template reloads", "subject", cfg.NATSReloadSubject)
		return app.Bus.SubscribeTemplatesChanged(groupCtx, func(reloadCtx context.Context) {
			rebuildCtx, cancel := context.WithTimeout(reloadCtx, 30*time.Second)
			defer cancel()
			if err := app.Templates.Rebuild(rebuildCtx); err != nil {
				logger.Error("template rebuild failed", "error", err)
			}
		})
	})

	group.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.WorkerMetrics.Handler())
		server := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux}

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logger.Info("metrics endpoint up", "port", cfg.WorkerMetricsPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker error: %v", err)
	}
}
