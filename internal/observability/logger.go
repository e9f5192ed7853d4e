package observability

import (
	"cmp"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig selects level, encoding and destination of the process logger.
type LoggingConfig struct {
	Level      string // trace, debug, info, warn (warning), error, fatal, panic
	Format     string // json, or console/pretty for human-readable output
	Output     string // stdout or stderr
	AddSource  bool
	TimeFormat string
}

// DefaultLoggingConfig is JSON at info level on stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stdout", TimeFormat: time.RFC3339}
}

// NewLogger builds the process logger. It also sets zerolog's global level
// and timestamp format, so it is meant to be called once at startup.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var dst io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		dst = os.Stderr
	}

	zerolog.TimeFieldFormat = cmp.Or(cfg.TimeFormat, time.RFC3339)
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	return newLogger(cfg, dst).Level(level)
}

func newLogger(cfg LoggingConfig, dst io.Writer) zerolog.Logger {
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		dst = zerolog.ConsoleWriter{Out: dst, TimeFormat: zerolog.TimeFieldFormat}
	}
	lc := zerolog.New(dst).With().Timestamp()
	if cfg.AddSource {
		lc = lc.Caller()
	}
	return lc.Logger().Level(parseLevel(cfg.Level))
}

// parseLevel maps a configured level name to zerolog, defaulting to info.
func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return zerolog.WarnLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel || level == zerolog.Disabled || level < zerolog.TraceLevel {
		return zerolog.InfoLevel
	}
	return level
}

// WithSearchContext adds compound search fields to a logger.
func WithSearchContext(logger zerolog.Logger, molecule, bioassayFilter, targetClass string, maxResults int) zerolog.Logger {
	return logger.With().
		Str("molecule", molecule).
		Str("bioassay_filter", bioassayFilter).
		Str("target_class", targetClass).
		Int("max_results", maxResults).
		Logger()
}

// WithCompoundContext adds resolved compound fields to a logger.
func WithCompoundContext(logger zerolog.Logger, cid int64, name string) zerolog.Logger {
	return logger.With().
		Int64("cid", cid).
		Str("compound_name", name).
		Logger()
}

// WithJobContext adds background search job fields to a logger.
func WithJobContext(logger zerolog.Logger, jobID, requestedBy string) zerolog.Logger {
	return logger.With().
		Str("job_id", jobID).
		Str("requested_by", requestedBy).
		Logger()
}

// WithRequestContext adds the request and correlation ids stored in ctx.
func WithRequestContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	return lc.Logger()
}
