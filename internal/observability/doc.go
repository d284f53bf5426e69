// Package observability carries the logging, metrics, and context
// plumbing shared by the server, the worker, and the pipeline CLI.
//
// # Logging
//
// NewLogger builds the root zerolog logger from LoggingConfig; binaries
// create it once and hand scoped children to their components:
//
//	logger := observability.NewLogger(cfg.Logging)
//	logger = observability.WithRunContext(logger, runID, query)
//	logger = observability.WithArticleContext(logger, pmid)
//	logger.Info().Msg("run started")
//
// The field names are fixed so log lines correlate across binaries:
// request_id, run_id, query, pmid, stage (clean, summarize, molecules,
// topics), source (pubmed, pubchem), trace_id, and span_id.
//
// # Metrics
//
// NewMetrics registers the service collectors with the default
// Prometheus registry; construct it once at startup and share the
// instance. The metrics port serves them through promhttp:
//
//	metrics := observability.NewMetrics("moldisc")
//	metrics.RecordArticleProcessed(duration.Seconds())
//
// # Context helpers
//
// Request-scoped identifiers travel on the context so middleware and
// handlers agree on them:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	reqID := observability.RequestIDFromContext(ctx)
//
// Everything in the package is safe for concurrent use.
package observability
