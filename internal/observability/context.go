package observability

import "context"

// contextKey keeps the package's context values from colliding with
// other packages'.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
	pmidKey      contextKey = "pmid"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
)

// stringValue reads a string stored under key, or "" when absent.
func stringValue(ctx context.Context, key contextKey) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRequestID attaches the HTTP request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext reads the request identifier, or "" when unset.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithRunID attaches the research run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext reads the research run identifier, or "" when unset.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// WithPMID attaches the article PMID to the context.
func WithPMID(ctx context.Context, pmid string) context.Context {
	return context.WithValue(ctx, pmidKey, pmid)
}

// PMIDFromContext reads the article PMID, or "" when unset.
func PMIDFromContext(ctx context.Context) string {
	return stringValue(ctx, pmidKey)
}

// WithTraceSpan attaches trace correlation identifiers to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceSpanFromContext reads the trace correlation identifiers, empty
// strings when unset.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	return stringValue(ctx, traceIDKey), stringValue(ctx, spanIDKey)
}
