package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// RunRepository handles research run persistence and lifecycle management.
// At most one run may be queued or processing at any time; Create enforces
// this admission gate.
type RunRepository interface {
	// Create inserts a new research run in the queued state.
	// Returns domain.ErrActiveRunExists if another run is queued or
	// processing (the partial unique index backs this check).
	Create(ctx context.Context, run *domain.ResearchRun) error

	// GetByID retrieves a run by its ID.
	// Returns domain.ErrNotFound if no matching run exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error)

	// List retrieves runs ordered by creation time, newest first.
	// Returns the matching runs and the total count for pagination.
	List(ctx context.Context, filter RunFilter) ([]*domain.ResearchRun, int64, error)

	// UpdateStatus transitions a run to a new status. Terminal transitions
	// set completed_at; failed transitions store the error message.
	// Returns domain.ErrInvalidInput for transitions the lifecycle does
	// not allow and domain.ErrNotFound for unknown runs.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error

	// Retry resets a failed run to queued so the worker picks it up again.
	// Returns domain.ErrActiveRunExists if another run is already active,
	// domain.ErrRunNotRetryable if the run is not failed.
	Retry(ctx context.Context, id uuid.UUID) error

	// ClaimQueued atomically claims the oldest queued run and moves it to
	// processing. Returns (nil, nil) when no queued run is available.
	// Uses FOR UPDATE SKIP LOCKED so concurrent workers never claim the
	// same run.
	ClaimQueued(ctx context.Context) (*domain.ResearchRun, error)

	// ReclaimStale fails processing runs whose claim is older than the
	// given window, releasing the admission gate after a worker crash.
	// Returns how many runs were reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	// HasActiveRun reports whether any run is currently queued or processing.
	HasActiveRun(ctx context.Context) (bool, error)
}

// RunFilter specifies criteria for listing research runs.
type RunFilter struct {
	// Status filters by one or more run statuses (optional).
	Status []domain.RunStatus

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter's pagination values.
func (f *RunFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
