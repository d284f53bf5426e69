// Package main provides the entry point for the molecule discovery API server.
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
	"github.com/ruminex/molecule-discovery-service/internal/rag"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
	"github.com/ruminex/molecule-discovery-service/internal/research"
	httpserver "github.com/ruminex/molecule-discovery-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()

	logger.Info().
		Str("log_level", cfg.Logging.Level).
		Str("llm_provider", cfg.LLM.Provider).
		Msg("starting molecule-discovery-service")

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the database.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		err = migrator.Up()
		closeErr := migrator.Close()
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		if closeErr != nil {
			logger.Warn().Err(closeErr).Msg("migrator close error")
		}
	}

	metrics := observability.NewMetrics("moldisc")

	// Repositories.
	runRepo := repository.NewPgRunRepository(db)
	molRepo := repository.NewPgMoleculeRepository(db)
	summaryRepo := repository.NewPgSummaryRepository(db)

	// LLM client, wrapped in the shared concurrency limiter.
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

	// Paper search and extraction.
	searcher := pubmed.New(pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		RateLimit:  cfg.PubMed.RateLimit,
		MaxResults: cfg.PubMed.MaxResults,
	}, logger, metrics)
	extractor := research.NewExtractor(limited, logger, metrics)

	// Embedding and vector storage.
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

	// Lifecycle event publishing.
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

	// Research run service.
	researchSvc := research.NewService(
		research.Config{
			MaxResults:         cfg.Research.MaxResults,
			ArticleConcurrency: cfg.Research.ArticleConcurrency,
		},
		runRepo, molRepo, summaryRepo,
		searcher, extractor, embedder, store, publisher,
		logger, metrics,
	)

	// Retrieval-augmented chat, optional.
	var chatSvc httpserver.ChatService
	if cfg.Chat.Enabled {
		chatSvc = rag.NewService(
			rag.Config{
				PaperLimit:    cfg.Chat.PaperLimit,
				MoleculeLimit: cfg.Chat.MoleculeLimit,
				MaxHistory:    cfg.Chat.MaxHistory,
			},
			embedder, store, limited, summaryRepo, molRepo, logger,
		)
	}

	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, researchSvc, chatSvc, runRepo, molRepo, summaryRepo, db, logger)

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
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().
			Str("address", cfg.Server.HTTPAddress()).
			Msg("HTTP server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().
		Str("http_address", cfg.Server.HTTPAddress()).
		Bool("chat_enabled", cfg.Chat.Enabled).
		Bool("kafka_enabled", cfg.Kafka.Enabled).
		Msg("molecule-discovery-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down molecule-discovery-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("molecule-discovery-service shutdown complete")
	return nil
}
