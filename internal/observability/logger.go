package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig selects the level, encoding and destination for the
// service loggers.
type LoggingConfig struct {
	// Level is the minimum log level (trace through panic).
	Level string

	// Format is json, console, or pretty.
	Format string

	// Output is stdout or stderr.
	Output string

	// AddSource annotates entries with the caller file and line.
	AddSource bool

	// TimeFormat overrides the timestamp layout.
	TimeFormat string
}

// DefaultLoggingConfig is JSON to stdout at info.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the root zerolog logger. Binaries derive
// component-scoped children from it.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	// Human-readable output for local runs and the pipeline CLI.
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		ctx = ctx.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	return ctx.Logger().Level(level)
}

// parseLevel maps a config string to a zerolog level, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithRunContext scopes a logger to one research run.
func WithRunContext(logger zerolog.Logger, runID, query string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Str("query", query).Logger()
}

// WithArticleContext scopes a logger to one article.
func WithArticleContext(logger zerolog.Logger, pmid string) zerolog.Logger {
	return logger.With().Str("pmid", pmid).Logger()
}

// WithStageContext scopes a logger to one stage of one article.
func WithStageContext(logger zerolog.Logger, pmid, stage string) zerolog.Logger {
	return logger.With().Str("pmid", pmid).Str("stage", stage).Logger()
}

// WithTraceContext attaches trace correlation fields.
func WithTraceContext(logger zerolog.Logger, traceID, spanID string) zerolog.Logger {
	return logger.With().Str("trace_id", traceID).Str("span_id", spanID).Logger()
}
