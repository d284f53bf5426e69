package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// SummaryRepository handles paper summary persistence. Summaries are scoped
// to the research run that produced them.
type SummaryRepository interface {
	// Create inserts a paper summary.
	// Returns domain.ErrNotFound if the run does not exist.
	Create(ctx context.Context, summary *domain.PaperSummary) error

	// GetByID retrieves a summary by its ID.
	// Returns domain.ErrNotFound if no matching summary exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaperSummary, error)

	// GetByRunAndPMID retrieves the summary a run produced for a paper.
	// Returns domain.ErrNotFound if the run has no summary for the PMID.
	// Used by the pipeline to skip papers already processed in a run.
	GetByRunAndPMID(ctx context.Context, runID uuid.UUID, pubmedID string) (*domain.PaperSummary, error)

	// ListByRun retrieves all summaries for a run ordered by creation time.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.PaperSummary, error)

	// List retrieves summaries matching the filter criteria, newest first.
	// Returns the matching summaries and the total count.
	List(ctx context.Context, filter SummaryFilter) ([]*domain.PaperSummary, int64, error)
}

// SummaryFilter specifies criteria for listing paper summaries.
type SummaryFilter struct {
	// RunID filters by research run (optional).
	RunID *uuid.UUID

	// PubMedID filters by PubMed identifier (optional).
	PubMedID string

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter's pagination values.
func (f *SummaryFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
