package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/embedding"
	"github.com/ruminex/molecule-discovery-service/internal/events"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
	"github.com/ruminex/molecule-discovery-service/internal/qdrant"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
	"github.com/ruminex/molecule-discovery-service/internal/verify"
)

// Defaults for run execution.
const (
	DefaultMaxResults         = 30
	DefaultArticleConcurrency = 5
)

// PaperSearcher finds papers for a run's query.
type PaperSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]*domain.Paper, error)
}

// Config holds run execution parameters.
type Config struct {
	// MaxResults is how many papers one run processes.
	MaxResults int

	// ArticleConcurrency bounds how many papers are processed in flight.
	ArticleConcurrency int
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.ArticleConcurrency <= 0 {
		c.ArticleConcurrency = DefaultArticleConcurrency
	}
}

// Service runs the research pipeline for one query: search, per-paper
// extraction, verification, deduplicated persistence, and embedding.
type Service struct {
	config    Config
	runs      repository.RunRepository
	molecules repository.MoleculeRepository
	summaries repository.SummaryRepository
	searcher  PaperSearcher
	extractor PaperExtractor
	embedder  embedding.Embedder
	store     qdrant.VectorStore
	publisher events.Publisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewService creates a research run service.
func NewService(
	cfg Config,
	runs repository.RunRepository,
	molecules repository.MoleculeRepository,
	summaries repository.SummaryRepository,
	searcher PaperSearcher,
	extractor PaperExtractor,
	embedder embedding.Embedder,
	store qdrant.VectorStore,
	publisher events.Publisher,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	cfg.applyDefaults()
	return &Service{
		config:    cfg,
		runs:      runs,
		molecules: molecules,
		summaries: summaries,
		searcher:  searcher,
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "research_service").Logger(),
		metrics:   metrics,
	}
}

// StartRun creates a queued run for the query. At most one run may be queued
// or processing system-wide; a second returns domain.ErrActiveRunExists.
func (s *Service) StartRun(ctx context.Context, query string) (*domain.ResearchRun, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewValidationError("query", "query cannot be empty")
	}

	run := domain.NewResearchRun(query)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventRunQueued, run, 0)
	s.logger.Info().Str("run_id", run.ID.String()).Str("query", query).Msg("research run queued")

	return run, nil
}

// RetryRun re-queues a failed run.
func (s *Service) RetryRun(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error) {
	if err := s.runs.Retry(ctx, id); err != nil {
		return nil, err
	}

	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventRunQueued, run, 0)
	s.logger.Info().Str("run_id", id.String()).Msg("research run re-queued")

	return run, nil
}

// runStats aggregates per-paper outcomes for one run.
type runStats struct {
	mu        sync.Mutex
	processed int
	skipped   int
	errored   int
	dropped   int
	summaries []*domain.PaperSummary
	molecules map[uuid.UUID]*domain.Molecule
}

// Execute processes one claimed run to completion or failure. Per-paper
// failures are logged and counted; only search failures and cancellation
// fail the whole run.
func (s *Service) Execute(ctx context.Context, run *domain.ResearchRun) error {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordRunStarted()
	}
	s.publishEvent(ctx, events.EventRunProcessing, run, 0)

	papers, err := s.searcher.Search(ctx, run.Query, s.config.MaxResults)
	if err != nil {
		return s.failRun(ctx, run, start, fmt.Errorf("paper search failed: %w", err))
	}

	stats := &runStats{molecules: make(map[uuid.UUID]*domain.Molecule)}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.ArticleConcurrency)
	for _, paper := range papers {
		group.Go(func() error {
			return s.processPaper(groupCtx, run, paper, stats)
		})
	}
	if err := group.Wait(); err != nil {
		return s.failRun(ctx, run, start, err)
	}

	s.embedAndIndex(ctx, stats)

	if err := s.runs.UpdateStatus(ctx, run.ID, domain.RunStatusComplete, ""); err != nil {
		return s.failRun(ctx, run, start, fmt.Errorf("failed to mark run complete: %w", err))
	}
	run.Status = domain.RunStatusComplete

	if s.metrics != nil {
		s.metrics.RecordRunCompleted(time.Since(start).Seconds())
	}
	s.publishEvent(ctx, events.EventRunComplete, run, len(stats.molecules))

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Int("papers", len(papers)).
		Int("processed", stats.processed).
		Int("skipped", stats.skipped).
		Int("errored", stats.errored).
		Int("molecules_dropped", stats.dropped).
		Int("molecules", len(stats.molecules)).
		Dur("elapsed", time.Since(start)).
		Msg("research run complete")

	return nil
}

// processPaper extracts, verifies, and persists one paper's findings.
// Returns an error only for cancellation; other failures are counted.
func (s *Service) processPaper(ctx context.Context, run *domain.ResearchRun, paper *domain.Paper, stats *runStats) error {
	logger := s.logger.With().Str("run_id", run.ID.String()).Str("pmid", paper.PubMedID).Logger()

	// Papers already processed in this run are skipped so an interrupted
	// run can resume without duplicating work.
	if _, err := s.summaries.GetByRunAndPMID(ctx, run.ID, paper.PubMedID); err == nil {
		stats.add(func(st *runStats) { st.skipped++ })
		logger.Debug().Msg("paper already processed, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	extraction, err := s.extractor.Extract(ctx, paper)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			stats.add(func(st *runStats) { st.skipped++ })
			logger.Debug().Err(err).Msg("paper not extractable, skipping")
			return nil
		}
		stats.add(func(st *runStats) { st.errored++ })
		if s.metrics != nil {
			s.metrics.RecordArticleErrored()
		}
		logger.Warn().Err(err).Msg("extraction failed, continuing run")
		return nil
	}

	summary := &domain.PaperSummary{
		ID:            uuid.New(),
		ResearchRunID: run.ID,
		PubMedID:      paper.PubMedID,
		Title:         paper.Title,
		Summary:       extraction.Summary,
		SourceURL:     paper.SourceURL,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.summaries.Create(ctx, summary); err != nil {
		stats.add(func(st *runStats) { st.errored++ })
		logger.Warn().Err(err).Msg("failed to store summary, continuing run")
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordMoleculesExtracted(len(extraction.Molecules))
	}

	// Extracted names must actually appear in the paper's title or
	// abstract. Hallucinated candidates are dropped before persistence.
	doc := verify.NewDocument(paper.Title + " " + paper.Abstract)
	stored := 0
	dropped := 0
	for _, candidate := range extraction.Molecules {
		if !doc.Contains(candidate.Name) {
			dropped++
			logger.Debug().Str("molecule", candidate.Name).Msg("dropping unsupported molecule")
			continue
		}
		if err := s.storeMolecule(ctx, run, summary, candidate, stats); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Str("molecule", candidate.Name).Msg("failed to store molecule")
			continue
		}
		stored++
	}

	stats.add(func(st *runStats) {
		st.processed++
		st.dropped += dropped
		st.summaries = append(st.summaries, summary)
	})
	if s.metrics != nil {
		s.metrics.RecordArticleProcessed(0)
		if dropped > 0 {
			s.metrics.RecordMoleculesRemoved(dropped)
		}
	}

	logger.Debug().Int("stored", stored).Int("dropped", dropped).Msg("paper processed")
	return nil
}

// storeMolecule upserts one verified candidate and links it to the run and
// the paper that mentioned it.
func (s *Service) storeMolecule(ctx context.Context, run *domain.ResearchRun, summary *domain.PaperSummary, candidate domain.ExtractedMolecule, stats *runStats) error {
	molecule := domain.NewMolecule(candidate.Name)
	molecule.CASNumber = candidate.CASNumber
	molecule.SMILES = candidate.SMILES
	molecule.Description = candidate.Description

	stored, err := s.molecules.Upsert(ctx, molecule)
	if err != nil {
		return err
	}
	if stored.ID != molecule.ID && s.metrics != nil {
		s.metrics.RecordMoleculeDeduplicated()
	}

	if err := s.molecules.LinkRun(ctx, run.ID, stored.ID, candidate.RelevanceScore); err != nil {
		return err
	}

	link := &domain.MoleculePaperLink{
		MoleculeID:     stored.ID,
		PaperSummaryID: summary.ID,
		ContextExcerpt: candidate.ContextExcerpt,
	}
	if err := s.molecules.LinkPaper(ctx, link); err != nil {
		return err
	}

	stats.add(func(st *runStats) { st.molecules[stored.ID] = stored })
	return nil
}

// embedAndIndex embeds the run's new summaries and molecules and upserts the
// vectors. Embedding failures are logged and skipped; the run still
// completes without vectors.
func (s *Service) embedAndIndex(ctx context.Context, stats *runStats) {
	texts := make([]string, 0, len(stats.summaries))
	for _, summary := range stats.summaries {
		texts = append(texts, embedding.SummaryText(summary.Title, summary.Summary))
	}
	vectors := s.embedder.EmbedTexts(ctx, texts)
	for i, summary := range stats.summaries {
		s.upsertVector(ctx, qdrant.CollectionSummaries, summary.ID, vectors[i])
	}

	molecules := make([]*domain.Molecule, 0, len(stats.molecules))
	texts = texts[:0]
	for _, molecule := range stats.molecules {
		molecules = append(molecules, molecule)
		texts = append(texts, embedding.MoleculeText(molecule.Name, molecule.Description))
	}
	vectors = s.embedder.EmbedTexts(ctx, texts)
	for i, molecule := range molecules {
		s.upsertVector(ctx, qdrant.CollectionMolecules, molecule.ID, vectors[i])
	}
}

// upsertVector stores one vector, skipping entries the embedder could not
// produce.
func (s *Service) upsertVector(ctx context.Context, collection string, id uuid.UUID, vector []float32) {
	if vector == nil {
		return
	}
	if err := s.store.Upsert(ctx, collection, qdrant.Point{ID: id, Vector: vector}); err != nil {
		s.logger.Warn().Err(err).
			Str("collection", collection).
			Str("id", id.String()).
			Msg("failed to upsert vector")
	}
}

// failRun marks the run failed and records the failure.
func (s *Service) failRun(ctx context.Context, run *domain.ResearchRun, start time.Time, cause error) error {
	if err := s.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to mark run failed")
	}
	run.Status = domain.RunStatusFailed
	run.ErrorMessage = cause.Error()

	if s.metrics != nil {
		s.metrics.RecordRunFailed(time.Since(start).Seconds())
	}
	s.publishEvent(ctx, events.EventRunFailed, run, 0)

	s.logger.Error().Err(cause).Str("run_id", run.ID.String()).Msg("research run failed")
	return cause
}

// publishEvent delivers a lifecycle event; failures are logged, never fatal.
func (s *Service) publishEvent(ctx context.Context, eventType string, run *domain.ResearchRun, moleculeCount int) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRunEvent(ctx, events.NewRunEvent(eventType, run, moleculeCount)); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish run event")
	}
}

// add applies a mutation under the stats lock.
func (st *runStats) add(fn func(*runStats)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st)
}
