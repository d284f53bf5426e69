// Package main provides the batch pipeline CLI for the molecule discovery
// service. It operates on an on-disk corpus of PubMed article XML files:
// processing them into analysis records, verifying and validating stored
// records, and rebuilding the aggregate index.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/config"
	"github.com/ruminex/molecule-discovery-service/internal/llm"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
	"github.com/ruminex/molecule-discovery-service/internal/pipeline"
	"github.com/ruminex/molecule-discovery-service/internal/pubchem"
	"github.com/ruminex/molecule-discovery-service/internal/verify"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the wiring shared by all subcommands.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	store   *articles.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Batch processing over an on-disk PubMed article corpus",
		Long: `pipeline processes downloaded PubMed article XML into analysis records,
verifies stored records against their source text, validates molecule names
against the PubChem registry, and rebuilds the aggregate index.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.AddCommand(
		newProcessCmd(a),
		newVerifyCmd(a),
		newValidateCmd(a),
		newAggregateCmd(a),
	)
	return root
}

// setup loads configuration and opens the article store. Console logging
// suits an interactive batch tool better than the services' JSON output.
func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	a.logger = observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "pipeline").Logger()

	a.metrics = observability.NewMetrics("moldisc_pipeline")

	store, err := articles.NewStore(cfg.Pipeline.ArticlesDir, cfg.Pipeline.OutputDir, a.logger)
	if err != nil {
		return fmt.Errorf("open article store: %w", err)
	}
	a.store = store
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newProcessCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process article XML files into analysis records",
		Long: `process runs every article in the corpus through the LLM analysis
stages (clean, summarize, extract molecules, extract topics) and writes one
analysis record per article. Articles with existing records are skipped, so
an interrupted batch resumes where it left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return a.runProcess(ctx, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most N articles (0 = all)")
	return cmd
}

func (a *app) runProcess(ctx context.Context, limit int) error {
	xmlNames, err := a.store.ListXMLFiles()
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}
	if limit > 0 && len(xmlNames) > limit {
		xmlNames = xmlNames[:limit]
	}
	if len(xmlNames) == 0 {
		a.logger.Info().Str("dir", a.store.ArticlesDir()).Msg("no articles to process")
		return nil
	}

	client, err := a.newLLMClient()
	if err != nil {
		return err
	}

	stages := pipeline.NewStages(client, a.logger, a.metrics)
	processor := pipeline.NewProcessor(a.store, stages, a.logger, a.metrics)
	scheduler := pipeline.NewScheduler(processor, a.store, pipeline.SchedulerConfig{
		WaveSize:            a.cfg.Pipeline.WaveSize,
		MaxInFlightArticles: a.cfg.Pipeline.MaxInFlightArticles,
		ProgressInterval:    a.cfg.Pipeline.ProgressInterval,
	}, a.logger)

	stats, err := scheduler.Run(ctx, xmlNames)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn().
				Int("processed", stats.Processed).
				Int("remaining", stats.Total-stats.Processed-stats.Skipped-stats.Errored).
				Msg("batch interrupted, completed records are kept")
			return nil
		}
		return fmt.Errorf("run batch: %w", err)
	}
	return nil
}

// newLLMClient builds the provider client behind the shared rate limiter.
func (a *app) newLLMClient() (llm.Client, error) {
	cfg := a.cfg.LLM
	client, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.Provider,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return llm.NewLimiter(client,
		llm.WithMaxInFlight(cfg.MaxInFlight),
		llm.WithRetryAttempts(uint(cfg.MaxRetries)),
		llm.WithRetryBaseWait(cfg.RetryDelay),
	), nil
}

func newVerifyCmd(a *app) *cobra.Command {
	var (
		fix   bool
		pmid  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stored records against their source text",
		Long: `verify checks that every molecule and keyword in a stored analysis
record actually appears in the article's source XML. Without --fix this is a
dry run; with --fix unsupported entities are removed and the removal is
recorded in the record's verification block.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			verifier := verify.NewVerifier(a.store, a.logger, a.metrics)
			stats, reports, err := verifier.Run(ctx, verify.Options{
				Fix:   fix,
				PMID:  pmid,
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("verification pass: %w", err)
			}
			for _, r := range reports {
				if r.Err != nil {
					a.logger.Error().Err(r.Err).Str("pmid", r.PMID).Msg("record failed verification pass")
					continue
				}
				if len(r.MoleculesRemoved) > 0 || len(r.KeywordsRemoved) > 0 {
					a.logger.Info().
						Str("pmid", r.PMID).
						Strs("molecules_removed", r.MoleculesRemoved).
						Strs("keywords_removed", r.KeywordsRemoved).
						Bool("fixed", r.Fixed).
						Msg("unsupported entities")
				}
			}
			a.logger.Info().
				Int("checked", stats.Checked).
				Int("issues", stats.Issues).
				Int("fixed", stats.Fixed).
				Int("errors", stats.Errors).
				Int("molecules_removed", stats.MoleculesRemoved).
				Int("keywords_removed", stats.KeywordsRemoved).
				Bool("fix", fix).
				Msg("verification pass complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "remove unsupported entities from records")
	cmd.Flags().StringVar(&pmid, "pmid", "", "verify a single record")
	cmd.Flags().IntVar(&limit, "limit", 0, "verify at most N records (0 = all)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var (
		fix   bool
		pmid  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate record molecules against the PubChem registry",
		Long: `validate looks up every molecule name in stored records against the
PubChem compound registry. Unknown names are removed in --fix mode; found
names are standardized to the registry-preferred name. Lookups that fail for
transient reasons never remove data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			registry := pubchem.New(pubchem.Config{
				BaseURL:   a.cfg.PubChem.BaseURL,
				Timeout:   a.cfg.PubChem.Timeout,
				RateLimit: a.cfg.PubChem.RateLimit,
			}, a.newPubChemCache(), a.logger, a.metrics)

			validator := verify.NewValidator(a.store, registry, a.logger, a.metrics)
			stats, reports, err := validator.Run(ctx, verify.Options{
				Fix:   fix,
				PMID:  pmid,
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("validation pass: %w", err)
			}
			for _, r := range reports {
				if r.Err != nil {
					a.logger.Error().Err(r.Err).Str("pmid", r.PMID).Msg("record failed validation pass")
					continue
				}
				if len(r.Invalid) > 0 || len(r.Renamed) > 0 {
					event := a.logger.Info().
						Str("pmid", r.PMID).
						Strs("invalid", r.Invalid).
						Bool("fixed", r.Fixed)
					for _, ren := range r.Renamed {
						event = event.Str("renamed_"+ren.From, ren.To)
					}
					event.Msg("registry findings")
				}
			}
			a.logger.Info().
				Int("checked", stats.Checked).
				Int("valid", stats.Valid).
				Int("invalid", stats.Invalid).
				Int("unknown", stats.Unknown).
				Int("renamed", stats.Renamed).
				Int("fixed", stats.Fixed).
				Int("errors", stats.Errors).
				Bool("fix", fix).
				Msg("validation pass complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "remove unknown molecules and apply registry names")
	cmd.Flags().StringVar(&pmid, "pmid", "", "validate a single record")
	cmd.Flags().IntVar(&limit, "limit", 0, "validate at most N records (0 = all)")
	return cmd
}

// newPubChemCache returns the Redis-backed cache when configured, otherwise
// a per-run in-memory cache.
func (a *app) newPubChemCache() pubchem.Cache {
	if !a.cfg.Redis.Enabled {
		return pubchem.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	return pubchem.NewRedisCache(client, a.cfg.Redis.TTL, a.logger)
}

func newAggregateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild the aggregate analysis index",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.BuildIndex()
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			a.logger.Info().Int("records", n).Msg("index rebuilt")
			return nil
		},
	}
}
