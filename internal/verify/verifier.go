package verify

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
)

// Options selects which records a verification pass covers and whether
// it may rewrite them.
type Options struct {
	// Fix rewrites records in place, removing unsupported entities and
	// recording them in the verification audit block. Without Fix the
	// pass is a dry run that reports the same statistics.
	Fix bool

	// PMID restricts the pass to a single record.
	PMID string

	// Limit caps how many records are checked. Zero means no cap.
	Limit int
}

// RecordReport is the per-record outcome of a verification pass.
type RecordReport struct {
	PMID             string
	MoleculesBefore  int
	MoleculesRemoved []string
	KeywordsBefore   int
	KeywordsRemoved  []string
	Fixed            bool
	Err              error
}

// Stats aggregates a verification pass.
type Stats struct {
	Checked          int
	Issues           int
	Fixed            int
	Errors           int
	MoleculesRemoved int
	KeywordsRemoved  int
}

// Verifier checks that the molecules and keywords in stored analysis
// records actually appear in their source documents.
type Verifier struct {
	store   *articles.Store
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewVerifier creates a source-grounding verifier over an article store.
func NewVerifier(store *articles.Store, logger zerolog.Logger, metrics *observability.Metrics) *Verifier {
	return &Verifier{
		store:   store,
		logger:  logger.With().Str("component", "verifier").Logger(),
		metrics: metrics,
	}
}

// Run verifies the selected records. Each record's molecules and keywords
// are checked against the full text of its source XML; entities the
// source never mentions are reported, and removed when opts.Fix is set.
// Per-record errors are counted, logged and skipped, never fatal.
func (v *Verifier) Run(ctx context.Context, opts Options) (Stats, []RecordReport, error) {
	pmids, err := v.selectPMIDs(opts)
	if err != nil {
		return Stats{}, nil, err
	}

	mode := "dry-run"
	if opts.Fix {
		mode = "fix"
	}
	v.logger.Info().Int("records", len(pmids)).Str("mode", mode).Msg("starting verification pass")

	var stats Stats
	var reports []RecordReport
	for _, pmid := range pmids {
		if err := ctx.Err(); err != nil {
			return stats, reports, err
		}

		report := v.verifyRecord(pmid, opts.Fix)
		reports = append(reports, report)

		if report.Err != nil {
			stats.Errors++
			v.logger.Error().Err(report.Err).Str("pmid", pmid).Msg("record verification failed")
			continue
		}
		stats.Checked++

		removed := len(report.MoleculesRemoved) + len(report.KeywordsRemoved)
		if removed > 0 {
			stats.Issues++
			stats.MoleculesRemoved += len(report.MoleculesRemoved)
			stats.KeywordsRemoved += len(report.KeywordsRemoved)
			if report.Fixed {
				stats.Fixed++
			}
			v.logger.Info().
				Str("pmid", pmid).
				Int("molecules_removed", len(report.MoleculesRemoved)).
				Int("keywords_removed", len(report.KeywordsRemoved)).
				Bool("fixed", report.Fixed).
				Msg("unsupported entities found")
		}
	}

	if v.metrics != nil && stats.MoleculesRemoved > 0 {
		v.metrics.RecordMoleculesRemoved(stats.MoleculesRemoved)
	}
	v.logger.Info().
		Int("checked", stats.Checked).
		Int("issues", stats.Issues).
		Int("fixed", stats.Fixed).
		Int("errors", stats.Errors).
		Int("molecules_removed", stats.MoleculesRemoved).
		Int("keywords_removed", stats.KeywordsRemoved).
		Msg("verification pass complete")

	return stats, reports, nil
}

func (v *Verifier) selectPMIDs(opts Options) ([]string, error) {
	if opts.PMID != "" {
		return []string{opts.PMID}, nil
	}
	pmids, err := v.store.ListAnalyses()
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(pmids) > opts.Limit {
		pmids = pmids[:opts.Limit]
	}
	return pmids, nil
}

func (v *Verifier) verifyRecord(pmid string, fix bool) RecordReport {
	report := RecordReport{PMID: pmid}

	analysis, err := v.store.ReadAnalysis(pmid)
	if err != nil {
		report.Err = err
		return report
	}

	doc, err := v.loadSourceDocument(pmid)
	if err != nil {
		report.Err = err
		return report
	}

	keptMolecules, removedMolecules := partitionSupported(analysis.Molecules, doc)
	keptKeywords, removedKeywords := partitionSupported(analysis.Keywords, doc)

	report.MoleculesBefore = len(analysis.Molecules)
	report.MoleculesRemoved = removedMolecules
	report.KeywordsBefore = len(analysis.Keywords)
	report.KeywordsRemoved = removedKeywords

	if fix && (len(removedMolecules) > 0 || len(removedKeywords) > 0) {
		analysis.Molecules = keptMolecules
		analysis.Keywords = keptKeywords
		audit := ensureAudit(analysis)
		audit.MoleculesRemoved = append(audit.MoleculesRemoved, removedMolecules...)
		audit.KeywordsRemoved = append(audit.KeywordsRemoved, removedKeywords...)
		audit.VerifiedAt = time.Now().UTC()

		if err := v.store.WriteAnalysis(analysis); err != nil {
			report.Err = err
			return report
		}
		report.Fixed = true
	}
	return report
}

// loadSourceDocument reads and normalizes the full text of the record's
// source XML.
func (v *Verifier) loadSourceDocument(pmid string) (*Document, error) {
	xmlPath, err := v.store.FindXML(pmid)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(xmlPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewDocument(articles.ParseAllText(f)), nil
}

func partitionSupported(terms []string, doc *Document) (kept, removed []string) {
	for _, term := range terms {
		if doc.Contains(term) {
			kept = append(kept, term)
		} else {
			removed = append(removed, term)
		}
	}
	if kept == nil {
		kept = []string{}
	}
	return kept, removed
}

func ensureAudit(analysis *domain.ArticleAnalysis) *domain.VerifyAudit {
	if analysis.Verification == nil {
		analysis.Verification = &domain.VerifyAudit{}
	}
	return analysis.Verification
}
