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

// validStatusTransitions defines the allowed status transitions for research runs.
// This is a package-level variable to avoid re-allocating on every call.
var validStatusTransitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunStatusQueued: {
		domain.RunStatusProcessing,
		domain.RunStatusFailed,
	},
	domain.RunStatusProcessing: {
		domain.RunStatusComplete,
		domain.RunStatusFailed,
	},
	domain.RunStatusFailed: {
		domain.RunStatusQueued,
	},
}

// runColumns is the canonical column list for research_runs queries.
const runColumns = `id, query, status, error_message, created_at, updated_at, completed_at`

// activeRunIndexName is the partial unique index that enforces the single
// active run rule. A unique violation on it means another run is queued or
// processing.
const activeRunIndexName = "uniq_research_runs_active"

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create inserts a new research run in the queued state.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.ResearchRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if strings.TrimSpace(run.Query) == "" {
		return domain.NewValidationError("query", "query is required")
	}

	query := `
		INSERT INTO research_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Query, run.Status, nullString(run.ErrorMessage),
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			if pgConstraintName(err) == activeRunIndexName {
				return fmt.Errorf("cannot create run: %w", domain.ErrActiveRunExists)
			}
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a research run by its ID.
func (r *PgRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM research_runs
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// List retrieves research runs matching the filter criteria, newest first.
func (r *PgRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.ResearchRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM research_runs WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT `+runColumns+`
		FROM research_runs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.ResearchRun, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, totalCount, nil
}

// UpdateStatus transitions a run to a new status with optional error message.
//
// The method uses SELECT FOR UPDATE, which requires a transaction for correct
// locking. If the underlying DBTX is a connection pool (supports Begin), the
// SELECT FOR UPDATE + UPDATE pair is wrapped in an explicit transaction
// automatically. If the DBTX is already a transaction, it executes within
// that existing transaction.
func (r *PgRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for status update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgRunRepository{db: tx}
		if err := txRepo.updateStatusInTx(ctx, id, status, errorMsg); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.updateStatusInTx(ctx, id, status, errorMsg)
}

// updateStatusInTx performs the locked read, transition check, and update.
// Must be called within a transaction for correct row-level locking.
func (r *PgRunRepository) updateStatusInTx(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error {
	selectQuery := `
		SELECT ` + runColumns + `
		FROM research_runs
		WHERE id = $1
		FOR UPDATE`

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query run for update: %w", err)
	}

	run, err := scanRunRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to scan run: %w", err)
	}

	if !isValidStatusTransition(run.Status, status) {
		return fmt.Errorf("invalid status transition from %s to %s: %w",
			run.Status, status, domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		completedAt = &now
	}

	// Only failed runs carry an error message.
	if status != domain.RunStatusFailed {
		errorMsg = ""
	}

	updateQuery := `
		UPDATE research_runs
		SET status = $1, error_message = $2, updated_at = $3, completed_at = $4
		WHERE id = $5`

	_, err = r.db.Exec(ctx, updateQuery, status, nullString(errorMsg), now, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	return nil
}

// Retry resets a failed run to queued so the worker picks it up again.
func (r *PgRunRepository) Retry(ctx context.Context, id uuid.UUID) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for retry: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgRunRepository{db: tx}
		if err := txRepo.retryInTx(ctx, id); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.retryInTx(ctx, id)
}

// retryInTx re-queues a failed run within the current transaction.
func (r *PgRunRepository) retryInTx(ctx context.Context, id uuid.UUID) error {
	selectQuery := `
		SELECT ` + runColumns + `
		FROM research_runs
		WHERE id = $1
		FOR UPDATE`

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query run for retry: %w", err)
	}

	run, err := scanRunRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to scan run: %w", err)
	}

	if run.Status != domain.RunStatusFailed {
		return fmt.Errorf("run %s has status %s: %w", id, run.Status, domain.ErrRunNotRetryable)
	}

	updateQuery := `
		UPDATE research_runs
		SET status = $1, error_message = NULL, completed_at = NULL, updated_at = $2
		WHERE id = $3`

	_, err = r.db.Exec(ctx, updateQuery, domain.RunStatusQueued, time.Now().UTC(), id)
	if err != nil {
		// Re-queuing re-enters the partial unique index for active runs.
		if isPgUniqueViolation(err) {
			return fmt.Errorf("cannot retry run: %w", domain.ErrActiveRunExists)
		}
		return fmt.Errorf("failed to retry run: %w", err)
	}

	return nil
}

// ClaimQueued atomically claims the oldest queued run and moves it to processing.
// Returns (nil, nil) when no queued run is available. FOR UPDATE SKIP LOCKED
// ensures concurrent workers never claim the same run.
func (r *PgRunRepository) ClaimQueued(ctx context.Context) (*domain.ResearchRun, error) {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction for claim: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgRunRepository{db: tx}
		run, err := txRepo.claimQueuedInTx(ctx)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit claim: %w", err)
		}
		return run, nil
	}

	return r.claimQueuedInTx(ctx)
}

// claimQueuedInTx locks and claims the oldest queued run within the current
// transaction.
func (r *PgRunRepository) claimQueuedInTx(ctx context.Context) (*domain.ResearchRun, error) {
	selectQuery := `
		SELECT ` + runColumns + `
		FROM research_runs
		WHERE status = 'queued'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.Query(ctx, selectQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued runs: %w", err)
	}

	run, err := scanRunRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan queued run: %w", err)
	}

	now := time.Now().UTC()
	updateQuery := `
		UPDATE research_runs
		SET status = $1, updated_at = $2
		WHERE id = $3`

	_, err = r.db.Exec(ctx, updateQuery, domain.RunStatusProcessing, now, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	run.Status = domain.RunStatusProcessing
	run.UpdatedAt = now

	return run, nil
}

// staleClaimMessage is stored on runs reclaimed from a dead worker so the
// failure is explained and the run stays user-retryable.
const staleClaimMessage = "worker lost the run: no progress within the stale-claim window"

// ReclaimStale fails processing runs whose last update is older than the
// given window. A worker that dies after claiming a run leaves the row in
// processing forever, and the single-active-run index then blocks all new
// runs; failing the stale claim reopens admission and makes retry possible.
// updated_at is only touched at claim time, so the window must exceed the
// longest legitimate run.
func (r *PgRunRepository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, domain.NewValidationError("olderThan", "stale window must be positive")
	}

	now := time.Now().UTC()
	query := `
		UPDATE research_runs
		SET status = $1, error_message = $2, updated_at = $3, completed_at = $3
		WHERE status = $4 AND updated_at < $5`

	tag, err := r.db.Exec(ctx, query,
		domain.RunStatusFailed, staleClaimMessage, now,
		domain.RunStatusProcessing, now.Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale runs: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// HasActiveRun reports whether any run is currently queued or processing.
func (r *PgRunRepository) HasActiveRun(ctx context.Context) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM research_runs
			WHERE status IN ('queued', 'processing')
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active runs: %w", err)
	}

	return exists, nil
}

// isValidStatusTransition validates that a status transition is allowed.
func isValidStatusTransition(from, to domain.RunStatus) bool {
	allowed, ok := validStatusTransitions[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// runScanDest holds the destination pointers for scanning a ResearchRun row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type runScanDest struct {
	run          domain.ResearchRun
	errorMessage *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *runScanDest) destinations() []interface{} {
	return []interface{}{
		&d.run.ID, &d.run.Query, &d.run.Status, &d.errorMessage,
		&d.run.CreatedAt, &d.run.UpdatedAt, &d.run.CompletedAt,
	}
}

// finalize performs post-scan processing for nullable fields.
func (d *runScanDest) finalize() *domain.ResearchRun {
	if d.errorMessage != nil {
		d.run.ErrorMessage = *d.errorMessage
	}
	return &d.run
}

// scanRun scans a ResearchRun from a pgx.Row.
func scanRun(row pgx.Row) (*domain.ResearchRun, error) {
	var d runScanDest
	if err := row.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}

// scanRunRows scans a single ResearchRun from a pgx.Rows result set, closing
// it afterwards. Returns pgx.ErrNoRows when the result set is empty.
func scanRunRows(rows pgx.Rows) (*domain.ResearchRun, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	run, err := scanRunFromRows(rows)
	if err != nil {
		return nil, err
	}

	return run, rows.Err()
}

// scanRunFromRows scans a ResearchRun from the current position of a pgx.Rows.
func scanRunFromRows(rows pgx.Rows) (*domain.ResearchRun, error) {
	var d runScanDest
	if err := rows.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}
