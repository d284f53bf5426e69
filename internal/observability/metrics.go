package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the molecule discovery service.
// Metrics are organized by subsystem: research runs, pipeline articles, LLM
// operations, registry lookups, and verification. All counters and histograms
// are registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// RunsStarted counts the total number of research runs started.
	RunsStarted prometheus.Counter

	// RunsCompleted counts the total number of runs that finished successfully.
	RunsCompleted prometheus.Counter

	// RunsFailed counts the total number of runs that ended in failure.
	RunsFailed prometheus.Counter

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// ArticlesProcessed counts articles fully processed by the pipeline.
	ArticlesProcessed prometheus.Counter

	// ArticlesSkipped counts articles skipped, labeled by reason
	// (e.g., "already_processed", "no_pmid", "insufficient_text").
	ArticlesSkipped *prometheus.CounterVec

	// ArticlesErrored counts articles whose processing failed outright.
	ArticlesErrored prometheus.Counter

	// ArticleDuration observes per-article processing duration in seconds.
	ArticleDuration prometheus.Histogram

	// StageFailures counts stage executions that degraded to their sentinel,
	// labeled by stage name.
	StageFailures *prometheus.CounterVec

	// MoleculesExtracted counts molecule candidates extracted across all articles.
	MoleculesExtracted prometheus.Counter

	// MoleculesDeduplicated counts candidates merged into existing molecules.
	MoleculesDeduplicated prometheus.Counter

	// MoleculesRemoved counts entities removed by verification.
	MoleculesRemoved prometheus.Counter

	// RegistryLookups counts chemical registry lookups, labeled by outcome
	// ("found", "not_found", "inconclusive", "cached").
	RegistryLookups *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to external sources, labeled by
	// source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed requests, labeled by source, endpoint,
	// and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes external request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate limit responses from external sources.
	SourceRateLimited *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Research runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of research runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of research runs completed successfully",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of research runs that failed",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of research runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Pipeline articles
		ArticlesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_processed_total",
			Help:      "Total number of articles fully processed",
		}),
		ArticlesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_skipped_total",
			Help:      "Total number of articles skipped by reason",
		}, []string{"reason"}),
		ArticlesErrored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_errored_total",
			Help:      "Total number of articles whose processing failed",
		}),
		ArticleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "article_duration_seconds",
			Help:      "Per-article processing duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of stage executions degraded to sentinel values",
		}, []string{"stage"}),

		// Molecules
		MoleculesExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "molecules_extracted_total",
			Help:      "Total number of molecule candidates extracted",
		}),
		MoleculesDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "molecules_deduplicated_total",
			Help:      "Total number of molecule candidates merged into existing molecules",
		}),
		MoleculesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "molecules_removed_total",
			Help:      "Total number of entities removed by verification",
		}),
		RegistryLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lookups_total",
			Help:      "Total number of chemical registry lookups by outcome",
		}, []string{"outcome"}),

		// External sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to external sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to external sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to external sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from external sources",
		}, []string{"source"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),
	}
}

// RecordRunStarted records that a research run has started.
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
}

// RecordRunCompleted records that a research run has completed.
func (m *Metrics) RecordRunCompleted(durationSeconds float64) {
	m.RunsCompleted.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordRunFailed records that a research run has failed.
func (m *Metrics) RecordRunFailed(durationSeconds float64) {
	m.RunsFailed.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordArticleProcessed records a fully processed article.
func (m *Metrics) RecordArticleProcessed(durationSeconds float64) {
	m.ArticlesProcessed.Inc()
	m.ArticleDuration.Observe(durationSeconds)
}

// RecordArticleSkipped records a skipped article with its reason.
func (m *Metrics) RecordArticleSkipped(reason string) {
	m.ArticlesSkipped.WithLabelValues(reason).Inc()
}

// RecordArticleErrored records a failed article.
func (m *Metrics) RecordArticleErrored() {
	m.ArticlesErrored.Inc()
}

// RecordStageFailure records a stage degraded to its sentinel value.
func (m *Metrics) RecordStageFailure(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordMoleculesExtracted records extracted molecule candidates.
func (m *Metrics) RecordMoleculesExtracted(count int) {
	m.MoleculesExtracted.Add(float64(count))
}

// RecordMoleculeDeduplicated records a candidate merged into an existing molecule.
func (m *Metrics) RecordMoleculeDeduplicated() {
	m.MoleculesDeduplicated.Inc()
}

// RecordMoleculesRemoved records entities removed by verification.
func (m *Metrics) RecordMoleculesRemoved(count int) {
	m.MoleculesRemoved.Add(float64(count))
}

// RecordRegistryLookup records a chemical registry lookup outcome.
func (m *Metrics) RecordRegistryLookup(outcome string) {
	m.RegistryLookups.WithLabelValues(outcome).Inc()
}

// RecordSourceRequest records a request to an external source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to an external source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}
