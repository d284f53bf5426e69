// Package pipeline implements the multi-stage article analysis batch:
// a Processor runs one article through four concurrent LLM stages and
// persists an analysis record, and a Scheduler drives the processor over
// a corpus in waves with bounded concurrency and resumable progress.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
)

// minBodyChars is the smallest article body worth analyzing. Shorter
// extractions are almost always failed XML parses or abstract-only stubs.
const minBodyChars = 500

// Skip reasons reported in results and metrics labels.
const (
	SkipNoPMID           = "no_pmid"
	SkipAlreadyProcessed = "already_processed"
	SkipInsufficientText = "insufficient_text"
)

// Outcome classifies what happened to one article.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeSkipped
	OutcomeErrored
)

// Result is the per-article outcome of a processor call.
type Result struct {
	Outcome    Outcome
	PMID       string
	SkipReason string
	Err        error
	Analysis   *domain.ArticleAnalysis
}

// Processor runs one article through the full analysis: load the XML,
// fan out the four stages concurrently, assemble the record, persist it.
type Processor struct {
	store   *articles.Store
	stages  *Stages
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewProcessor wires a processor over an article store and stage executors.
func NewProcessor(store *articles.Store, stages *Stages, logger zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:   store,
		stages:  stages,
		logger:  logger.With().Str("component", "pipeline_processor").Logger(),
		metrics: metrics,
	}
}

// ProcessArticle analyzes a single XML file, identified by its base name
// within the store's articles directory. An existing analysis record makes
// the call a no-op, which is what lets an interrupted batch resume.
func (p *Processor) ProcessArticle(ctx context.Context, xmlName string) Result {
	pmid := articles.PMIDFromFilename(xmlName)
	if pmid == "" {
		p.logger.Warn().Str("xml_file", xmlName).Msg("no PMID in filename, skipping")
		return p.skip("", SkipNoPMID)
	}

	ctx = observability.WithPMID(ctx, pmid)
	logger := p.logger.With().Str("pmid", pmid).Logger()

	if p.store.HasAnalysis(pmid) {
		logger.Debug().Msg("already processed, skipping")
		return p.skip(pmid, SkipAlreadyProcessed)
	}

	xmlPath, err := p.store.FindXML(pmid)
	if err != nil {
		return p.errored(pmid, fmt.Errorf("locate xml: %w", err))
	}
	f, err := os.Open(xmlPath)
	if err != nil {
		return p.errored(pmid, fmt.Errorf("open xml: %w", err))
	}
	sections := articles.ParseArticleXML(f)
	f.Close()

	if len(sections.Body) < minBodyChars {
		logger.Warn().
			Int("body_chars", len(sections.Body)).
			Msg("insufficient text, skipping")
		return p.skip(pmid, SkipInsufficientText)
	}

	logger.Info().
		Int("title_chars", len(sections.Title)).
		Int("abstract_chars", len(sections.Abstract)).
		Int("body_chars", len(sections.Body)).
		Msg("processing article")

	start := time.Now()
	fullText := sections.CombinedText()

	var (
		cleaned string
		summary string
		mols    []string
		topics  TopicsResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleaned = p.stages.Clean(gctx, fullText)
		return nil
	})
	g.Go(func() error {
		summary = p.stages.Summarize(gctx, fullText, pmid)
		return nil
	})
	g.Go(func() error {
		mols = p.stages.ExtractMolecules(gctx, fullText)
		return nil
	})
	g.Go(func() error {
		topics = p.stages.ExtractTopics(gctx, fullText, pmid)
		return nil
	})
	// Stages degrade to sentinels instead of failing, so Wait never
	// returns an error; the call still propagates ctx cancellation.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return p.errored(pmid, err)
	}

	elapsed := time.Since(start)
	analysis := &domain.ArticleAnalysis{
		PMID:                 pmid,
		XMLFile:              filepath.Base(xmlName),
		Title:                sections.Title,
		Abstract:             sections.Abstract,
		ComprehensiveSummary: summary,
		Topics:               topics.Topics,
		Keywords:             topics.Keywords,
		Molecules:            mols,
		TextLength: domain.TextLengths{
			Title:    len(sections.Title),
			Abstract: len(sections.Abstract),
			Body:     len(sections.Body),
			Cleaned:  len(cleaned),
		},
		ProcessingTimeSeconds: roundSeconds(elapsed),
	}

	if err := p.store.WriteAnalysis(analysis); err != nil {
		return p.errored(pmid, fmt.Errorf("write analysis: %w", err))
	}

	if p.metrics != nil {
		p.metrics.RecordArticleProcessed(elapsed.Seconds())
		p.metrics.RecordMoleculesExtracted(len(mols))
	}
	logger.Info().
		Dur("elapsed", elapsed).
		Int("summary_chars", len(summary)).
		Int("topics", len(topics.Topics)).
		Int("keywords", len(topics.Keywords)).
		Int("molecules", len(mols)).
		Msg("article processed")

	return Result{Outcome: OutcomeProcessed, PMID: pmid, Analysis: analysis}
}

func (p *Processor) skip(pmid, reason string) Result {
	if p.metrics != nil {
		p.metrics.RecordArticleSkipped(reason)
	}
	return Result{Outcome: OutcomeSkipped, PMID: pmid, SkipReason: reason}
}

func (p *Processor) errored(pmid string, err error) Result {
	if p.metrics != nil {
		p.metrics.RecordArticleErrored()
	}
	p.logger.Error().Err(err).Str("pmid", pmid).Msg("article processing failed")
	return Result{Outcome: OutcomeErrored, PMID: pmid, Err: err}
}

// roundSeconds keeps the stored duration to two decimal places.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
