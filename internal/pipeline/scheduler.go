package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
)

const (
	defaultWaveSize            = 100
	defaultMaxInFlightArticles = 5
	defaultProgressInterval    = 25
)

// SchedulerConfig tunes the batch scheduler. Zero values take the defaults.
type SchedulerConfig struct {
	// WaveSize is how many articles are dispatched per wave. Context
	// cancellation is checked between waves.
	WaveSize int

	// MaxInFlightArticles bounds how many articles run concurrently
	// within a wave. Each article fans out its stages on top of this,
	// so the effective LLM pressure is articles times stages, capped
	// again by the limiter's own gate.
	MaxInFlightArticles int64

	// ProgressInterval is how many article completions trigger a
	// progress snapshot.
	ProgressInterval int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.WaveSize <= 0 {
		c.WaveSize = defaultWaveSize
	}
	if c.MaxInFlightArticles <= 0 {
		c.MaxInFlightArticles = defaultMaxInFlightArticles
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	return c
}

// BatchStats summarizes a completed (or interrupted) batch.
type BatchStats struct {
	Total     int
	Processed int
	Skipped   int
	Errored   int
	Indexed   int
	Elapsed   time.Duration
}

// Scheduler drives the processor over a corpus in fixed-size waves.
type Scheduler struct {
	processor *Processor
	store     *articles.Store
	cfg       SchedulerConfig
	logger    zerolog.Logger
}

// NewScheduler creates a batch scheduler.
func NewScheduler(processor *Processor, store *articles.Store, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "pipeline_scheduler").Logger(),
	}
}

// Run processes every named XML file, waves of cfg.WaveSize at a time.
// Interrupting the context between waves (or while waiting for a worker
// slot) stops the batch; records already written stay on disk, so the next
// Run resumes where this one stopped. The index is rebuilt only after an
// uninterrupted pass.
func (s *Scheduler) Run(ctx context.Context, xmlNames []string) (BatchStats, error) {
	start := time.Now()
	cfg := s.cfg

	tracker := newProgressTracker(
		filepath.Join(s.store.OutputDir(), ProgressFileName),
		len(xmlNames), cfg.ProgressInterval, s.logger,
	)
	sem := semaphore.NewWeighted(cfg.MaxInFlightArticles)

	s.logger.Info().
		Int("articles", len(xmlNames)).
		Int("wave_size", cfg.WaveSize).
		Int64("max_in_flight", cfg.MaxInFlightArticles).
		Msg("starting batch")

	waves := (len(xmlNames) + cfg.WaveSize - 1) / cfg.WaveSize
	for waveStart := 0; waveStart < len(xmlNames); waveStart += cfg.WaveSize {
		if err := ctx.Err(); err != nil {
			tracker.flush()
			return s.stats(tracker, start), err
		}

		waveEnd := waveStart + cfg.WaveSize
		if waveEnd > len(xmlNames) {
			waveEnd = len(xmlNames)
		}
		wave := xmlNames[waveStart:waveEnd]
		waveNum := waveStart/cfg.WaveSize + 1

		s.logger.Info().
			Int("wave", waveNum).
			Int("waves", waves).
			Int("articles", len(wave)).
			Msg("starting wave")

		var wg sync.WaitGroup
		var interrupted error
		for _, name := range wave {
			if err := sem.Acquire(ctx, 1); err != nil {
				interrupted = err
				break
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				defer sem.Release(1)
				tracker.record(s.processor.ProcessArticle(ctx, name))
			}(name)
		}
		wg.Wait()

		if interrupted != nil {
			tracker.flush()
			return s.stats(tracker, start), interrupted
		}
	}

	tracker.flush()
	stats := s.stats(tracker, start)

	indexed, err := s.store.BuildIndex()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build analysis index")
	} else {
		stats.Indexed = indexed
	}

	s.logger.Info().
		Int("total", stats.Total).
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("errored", stats.Errored).
		Int("indexed", stats.Indexed).
		Dur("elapsed", stats.Elapsed).
		Msg("batch complete")

	return stats, nil
}

func (s *Scheduler) stats(tracker *progressTracker, start time.Time) BatchStats {
	snap := tracker.snapshot()
	return BatchStats{
		Total:     snap.Total,
		Processed: snap.Processed,
		Skipped:   snap.Skipped,
		Errored:   snap.Errored,
		Elapsed:   time.Since(start),
	}
}
