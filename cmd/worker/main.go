// Package main provides the entry point for the molecule discovery research worker.
//
// The worker polls the database for queued research runs, claims them one at
// a time, and executes the full pipeline: PubMed search, LLM extraction,
// source verification, deduplicated persistence, and vector indexing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruminex/molecule-discovery-service/internal/config"
	"github.com/ruminex/molecule-discovery-service/internal/database"
	"github.com/ruminex/molecule-discovery-service/internal/embedding"
	"github.com/ruminex/molecule-discovery-service/internal/events"
	"github.com/ruminex/molecule-discovery-service/internal/llm"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
	"github.com/ruminex/molecule-discovery-service/internal/pubmed"
	"github.com/ruminex/molecule-discovery-service/internal/qdrant"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
	"github.com/ruminex/molecule-discovery-service/internal/research"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()

	logger.Info().
		Str("llm_provider", cfg.LLM.Provider).
		Dur("poll_interval", cfg.Research.WorkerPollInterval).
		Msg("starting research worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	metrics := observability.NewMetrics("moldisc_worker")

	runRepo := repository.NewPgRunRepository(db)
	molRepo := repository.NewPgMoleculeRepository(db)
	summaryRepo := repository.NewPgSummaryRepository(db)

	llmClient, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	limited := llm.NewLimiter(llmClient,
		llm.WithMaxInFlight(cfg.LLM.MaxInFlight),
		llm.WithRetryAttempts(uint(cfg.LLM.MaxRetries)),
		llm.WithRetryBaseWait(cfg.LLM.RetryDelay),
	)

	searcher := pubmed.New(pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		RateLimit:  cfg.PubMed.RateLimit,
		MaxResults: cfg.PubMed.MaxResults,
	}, logger, metrics)
	extractor := research.NewExtractor(limited, logger, metrics)

	embedder := embedding.New(embedding.Config{
		EndpointURL: cfg.Embedding.EndpointURL,
		AuthToken:   cfg.Embedding.AuthToken,
		Timeout:     cfg.Embedding.Timeout,
	}, logger)

	store, err := qdrant.NewClient(qdrant.Config{
		Address:    cfg.Qdrant.Address,
		VectorSize: cfg.Qdrant.VectorSize,
	})
	if err != nil {
		return fmt.Errorf("connect to qdrant: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("qdrant close error")
		}
	}()
	if err := store.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collections: %w", err)
	}

	var eventsCfg events.Config
	if cfg.Kafka.Enabled {
		eventsCfg = events.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}
	}
	publisher := events.NewPublisher(eventsCfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("event publisher close error")
		}
	}()

	svc := research.NewService(
		research.Config{
			MaxResults:         cfg.Research.MaxResults,
			ArticleConcurrency: cfg.Research.ArticleConcurrency,
		},
		runRepo, molRepo, summaryRepo,
		searcher, extractor, embedder, store, publisher,
		logger, metrics,
	)

	worker := research.NewWorker(runRepo, svc, cfg.Research.WorkerPollInterval, cfg.Research.WorkerStaleRunTimeout, logger)

	// Prometheus metrics on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	logger.Info().Msg("research worker is ready")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("research worker shutdown complete")
	return nil
}
