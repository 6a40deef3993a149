package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// LogLevel reads the logging level from LOG_LEVEL: DEBUG, INFO, WARN, or
// ERROR. Defaults to INFO.
func LogLevel() slog.Level {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger initializes the process-wide logger. LOG_FORMAT selects the
// handler: "json" (default, for production) or "text" (for local dev).
func SetupLogger() *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	format := os.Getenv("LOG_FORMAT")
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ctxKey namespaces context values this package stores.
type ctxKey string

const (
	// CtxLogger is the context key holding a *slog.Logger.
	CtxLogger ctxKey = "logger"
)

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext extracts the attached logger, falling back to the global
// default if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTaskID returns logger with a task_id field bound.
func WithTaskID(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With("task_id", taskID)
}

// WithSagaID returns logger with a saga_id field bound.
func WithSagaID(logger *slog.Logger, sagaID string) *slog.Logger {
	return logger.With("saga_id", sagaID)
}
