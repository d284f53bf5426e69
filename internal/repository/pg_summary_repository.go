package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// summaryColumns is the canonical column list for paper_summaries queries.
const summaryColumns = `id, research_run_id, pubmed_id, title, summary, source_url, created_at`

// Compile-time interface verification.
var _ SummaryRepository = (*PgSummaryRepository)(nil)

// PgSummaryRepository is a PostgreSQL implementation of SummaryRepository.
type PgSummaryRepository struct {
	db DBTX
}

// NewPgSummaryRepository creates a new PostgreSQL summary repository.
func NewPgSummaryRepository(db DBTX) *PgSummaryRepository {
	return &PgSummaryRepository{db: db}
}

// Create inserts a paper summary.
func (r *PgSummaryRepository) Create(ctx context.Context, summary *domain.PaperSummary) error {
	if summary == nil {
		return domain.NewValidationError("summary", "summary cannot be nil")
	}
	if summary.ResearchRunID == uuid.Nil {
		return domain.NewValidationError("research_run_id", "research run ID is required")
	}
	if summary.PubMedID == "" {
		return domain.NewValidationError("pubmed_id", "PubMed ID is required")
	}
	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO paper_summaries (` + summaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		summary.ID, summary.ResearchRunID, summary.PubMedID,
		summary.Title, summary.Summary, nullString(summary.SourceURL),
		summary.CreatedAt,
	)

	if err != nil {
		if isPgForeignKeyViolation(err) {
			return fmt.Errorf("run %s does not exist: %w", summary.ResearchRunID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to create summary: %w", err)
	}

	return nil
}

// GetByID retrieves a summary by its ID.
func (r *PgSummaryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaperSummary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM paper_summaries
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("summary", id.String())
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	return summary, nil
}

// GetByRunAndPMID retrieves the summary a run produced for a paper.
func (r *PgSummaryRepository) GetByRunAndPMID(ctx context.Context, runID uuid.UUID, pubmedID string) (*domain.PaperSummary, error) {
	if pubmedID == "" {
		return nil, domain.NewValidationError("pubmed_id", "PubMed ID is required")
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM paper_summaries
		WHERE research_run_id = $1 AND pubmed_id = $2`

	row := r.db.QueryRow(ctx, query, runID, pubmedID)
	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("summary", pubmedID)
		}
		return nil, fmt.Errorf("failed to get summary by run and PMID: %w", err)
	}

	return summary, nil
}

// ListByRun retrieves all summaries for a run ordered by creation time.
func (r *PgSummaryRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.PaperSummary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM paper_summaries
		WHERE research_run_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.PaperSummary
	for rows.Next() {
		summary, err := scanSummaryFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}

	return summaries, nil
}

// List retrieves summaries matching the filter criteria, newest first.
func (r *PgSummaryRepository) List(ctx context.Context, filter SummaryFilter) ([]*domain.PaperSummary, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.RunID != nil {
		conditions = append(conditions, fmt.Sprintf("research_run_id = $%d", argIndex))
		args = append(args, *filter.RunID)
		argIndex++
	}

	if filter.PubMedID != "" {
		conditions = append(conditions, fmt.Sprintf("pubmed_id = $%d", argIndex))
		args = append(args, filter.PubMedID)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM paper_summaries WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count summaries: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT `+summaryColumns+`
		FROM paper_summaries
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]*domain.PaperSummary, 0, filter.Limit)
	for rows.Next() {
		summary, err := scanSummaryFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating summaries: %w", err)
	}

	return summaries, totalCount, nil
}

// summaryScanDest holds the destination pointers for scanning a PaperSummary row.
type summaryScanDest struct {
	summary   domain.PaperSummary
	sourceURL *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *summaryScanDest) destinations() []interface{} {
	return []interface{}{
		&d.summary.ID, &d.summary.ResearchRunID, &d.summary.PubMedID,
		&d.summary.Title, &d.summary.Summary, &d.sourceURL,
		&d.summary.CreatedAt,
	}
}

// finalize performs post-scan processing for nullable fields.
func (d *summaryScanDest) finalize() *domain.PaperSummary {
	if d.sourceURL != nil {
		d.summary.SourceURL = *d.sourceURL
	}
	return &d.summary
}

// scanSummary scans a PaperSummary from a pgx.Row.
func scanSummary(row pgx.Row) (*domain.PaperSummary, error) {
	var d summaryScanDest
	if err := row.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}

// scanSummaryFromRows scans a PaperSummary from the current position of a pgx.Rows.
func scanSummaryFromRows(rows pgx.Rows) (*domain.PaperSummary, error) {
	var d summaryScanDest
	if err := rows.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}
