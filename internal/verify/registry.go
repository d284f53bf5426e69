package verify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
	"github.com/ruminex/molecule-discovery-service/internal/pubchem"
)

// Registry resolves molecule names to a three-way lookup outcome.
// *pubchem.Client is the production implementation.
type Registry interface {
	LookupName(ctx context.Context, name string) pubchem.Result
}

var _ Registry = (*pubchem.Client)(nil)

// RegistryReport is the per-record outcome of a registry validation pass.
type RegistryReport struct {
	PMID             string
	MoleculesBefore  int
	Valid            int
	Invalid          []string
	Unknown          []string
	Renamed          []domain.Rename
	Fixed            bool
	Err              error
}

// RegistryStats aggregates a registry validation pass.
type RegistryStats struct {
	Checked int
	Fixed   int
	Errors  int
	Valid   int
	Invalid int
	Unknown int
	Renamed int
}

// Validator checks record molecules against the compound registry.
// Names the registry does not know are removed in fix mode; names whose
// lookup was inconclusive are always kept, so registry outages never eat
// data. Fix mode also standardizes found names to the registry-preferred
// IUPAC name.
type Validator struct {
	store    *articles.Store
	registry Registry
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewValidator creates a registry validator over an article store.
func NewValidator(store *articles.Store, registry Registry, logger zerolog.Logger, metrics *observability.Metrics) *Validator {
	return &Validator{
		store:    store,
		registry: registry,
		logger:   logger.With().Str("component", "registry_validator").Logger(),
		metrics:  metrics,
	}
}

// Run validates the selected records against the registry.
func (v *Validator) Run(ctx context.Context, opts Options) (RegistryStats, []RegistryReport, error) {
	pmids, err := v.selectPMIDs(opts)
	if err != nil {
		return RegistryStats{}, nil, err
	}

	mode := "dry-run"
	if opts.Fix {
		mode = "fix"
	}
	v.logger.Info().Int("records", len(pmids)).Str("mode", mode).Msg("starting registry validation pass")

	var stats RegistryStats
	var reports []RegistryReport
	for _, pmid := range pmids {
		if err := ctx.Err(); err != nil {
			return stats, reports, err
		}

		report := v.validateRecord(ctx, pmid, opts.Fix)
		reports = append(reports, report)

		if report.Err != nil {
			stats.Errors++
			v.logger.Error().Err(report.Err).Str("pmid", pmid).Msg("record validation failed")
			continue
		}
		stats.Checked++
		stats.Valid += report.Valid
		stats.Invalid += len(report.Invalid)
		stats.Unknown += len(report.Unknown)
		stats.Renamed += len(report.Renamed)
		if report.Fixed {
			stats.Fixed++
		}

		if len(report.Invalid) > 0 || len(report.Unknown) > 0 {
			v.logger.Info().
				Str("pmid", pmid).
				Int("valid", report.Valid).
				Int("invalid", len(report.Invalid)).
				Int("unknown", len(report.Unknown)).
				Bool("fixed", report.Fixed).
				Msg("registry validation issues")
		}
	}

	if v.metrics != nil && stats.Invalid > 0 {
		v.metrics.RecordMoleculesRemoved(stats.Invalid)
	}
	v.logger.Info().
		Int("checked", stats.Checked).
		Int("fixed", stats.Fixed).
		Int("errors", stats.Errors).
		Int("valid", stats.Valid).
		Int("invalid", stats.Invalid).
		Int("unknown", stats.Unknown).
		Int("renamed", stats.Renamed).
		Msg("registry validation pass complete")

	return stats, reports, nil
}

func (v *Validator) selectPMIDs(opts Options) ([]string, error) {
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

func (v *Validator) validateRecord(ctx context.Context, pmid string, fix bool) RegistryReport {
	report := RegistryReport{PMID: pmid}

	analysis, err := v.store.ReadAnalysis(pmid)
	if err != nil {
		report.Err = err
		return report
	}
	report.MoleculesBefore = len(analysis.Molecules)

	kept := make([]string, 0, len(analysis.Molecules))
	for _, name := range analysis.Molecules {
		res := v.registry.LookupName(ctx, name)
		switch res.Status {
		case pubchem.StatusFound:
			report.Valid++
			standardized := name
			// Renames are computed in both modes so dry-run and fix
			// report the same statistics; only the rewrite is gated.
			if res.IUPACName != "" && res.IUPACName != name {
				standardized = res.IUPACName
				report.Renamed = append(report.Renamed, domain.Rename{From: name, To: standardized})
			}
			kept = append(kept, standardized)
		case pubchem.StatusNotFound:
			report.Invalid = append(report.Invalid, name)
		default:
			report.Unknown = append(report.Unknown, name)
			kept = append(kept, name)
		}
	}

	if fix && (len(report.Invalid) > 0 || len(report.Renamed) > 0) {
		analysis.Molecules = kept
		audit := ensureAudit(analysis)
		audit.MoleculesRemoved = append(audit.MoleculesRemoved, report.Invalid...)
		audit.MoleculesRenamed = append(audit.MoleculesRenamed, report.Renamed...)
		audit.VerifiedAt = time.Now().UTC()

		if err := v.store.WriteAnalysis(analysis); err != nil {
			report.Err = err
			return report
		}
		report.Fixed = true
	}
	return report
}
