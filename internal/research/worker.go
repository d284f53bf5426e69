package research

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// DefaultPollInterval is how often the worker checks for queued runs.
const DefaultPollInterval = 5 * time.Second

// DefaultStaleRunTimeout is how long a claimed run may sit in processing
// without progress before it is failed and handed back to the user for
// retry. Must exceed the longest legitimate run.
const DefaultStaleRunTimeout = 30 * time.Minute

// Worker polls for queued runs and executes them. Multiple workers can run
// against the same database; the claim query uses FOR UPDATE SKIP LOCKED so
// each run is executed exactly once.
type Worker struct {
	runs       repository.RunRepository
	service    *Service
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewWorker creates a worker. staleAfter is the window after which an
// abandoned processing claim is failed; non-positive values use
// DefaultStaleRunTimeout.
func NewWorker(runs repository.RunRepository, service *Service, interval, staleAfter time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleRunTimeout
	}
	return &Worker{
		runs:       runs,
		service:    service,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "research_worker").Logger(),
	}
}

// Run polls until the context is cancelled. A claimed run is executed before
// the next poll; execution failures are recorded on the run and do not stop
// the worker. Each cycle first reclaims stale claims left by a crashed
// worker, since a stranded processing run blocks all new admissions.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.interval).
		Dur("stale_after", w.staleAfter).
		Msg("starting research worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.reclaimStale(ctx)

		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info().Msg("research worker stopped")
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("poll failed")
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("research worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reclaimStale fails processing runs abandoned by a dead worker so they
// become retryable. Failures are logged, not fatal; the next cycle tries
// again.
func (w *Worker) reclaimStale(ctx context.Context) {
	n, err := w.runs.ReclaimStale(ctx, w.staleAfter)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("stale run reclaim failed")
		}
		return
	}
	if n > 0 {
		w.logger.Warn().Int("reclaimed", n).Msg("failed stale processing runs")
	}
}

// poll claims at most one queued run and executes it.
func (w *Worker) poll(ctx context.Context) error {
	run, err := w.runs.ClaimQueued(ctx)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	w.logger.Info().Str("run_id", run.ID.String()).Str("query", run.Query).Msg("claimed run")

	// Execute records failures on the run itself; the worker only loses
	// the run on cancellation.
	if err := w.service.Execute(ctx, run); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}
