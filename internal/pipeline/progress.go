package pipeline

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressFileName is the snapshot file written into the output directory
// while a batch is running.
const ProgressFileName = "processing_progress.json"

// ProgressSnapshot is the on-disk progress format. External tooling polls
// this file to watch a long batch without scraping logs.
type ProgressSnapshot struct {
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// progressTracker accumulates per-article results and periodically persists
// a snapshot. Safe for concurrent use by the scheduler's workers.
type progressTracker struct {
	mu         sync.Mutex
	processed  int
	skipped    int
	errored    int
	total      int
	interval   int
	sinceFlush int
	path       string
	logger     zerolog.Logger
}

func newProgressTracker(path string, total, interval int, logger zerolog.Logger) *progressTracker {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &progressTracker{
		total:    total,
		interval: interval,
		path:     path,
		logger:   logger,
	}
}

func (t *progressTracker) record(res Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch res.Outcome {
	case OutcomeProcessed:
		t.processed++
	case OutcomeSkipped:
		t.skipped++
	case OutcomeErrored:
		t.errored++
	}
	t.sinceFlush++
	if t.sinceFlush >= t.interval {
		t.flushLocked()
	}
}

// flush persists the current counts regardless of the interval.
func (t *progressTracker) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
}

func (t *progressTracker) flushLocked() {
	t.sinceFlush = 0
	snap := ProgressSnapshot{
		Processed: t.processed,
		Skipped:   t.skipped,
		Errored:   t.errored,
		Total:     t.total,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		t.logger.Warn().Err(err).Str("path", t.path).Msg("failed to write progress snapshot")
		return
	}
	t.logger.Info().
		Int("processed", snap.Processed).
		Int("skipped", snap.Skipped).
		Int("errored", snap.Errored).
		Int("total", snap.Total).
		Msg("batch progress")
}

func (t *progressTracker) snapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ProgressSnapshot{
		Processed: t.processed,
		Skipped:   t.skipped,
		Errored:   t.errored,
		Total:     t.total,
		UpdatedAt: time.Now().UTC(),
	}
}
