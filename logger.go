package rowset

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with rowset-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithGeneration adds a flush-generation field to the logger.
func (l *Logger) WithGeneration(gen uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", gen),
	}
}

// WithPath adds a file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogOpen logs the result of opening one durable delta file.
func (l *Logger) LogOpen(path string, gen uint32, err error) {
	if err != nil {
		l.Error("failed to open delta file",
			"path", path,
			"generation", gen,
			"error", err,
		)
	} else {
		l.Info("opened delta file",
			"path", path,
			"generation", gen,
		)
	}
}

// LogFlush logs a completed flush attempt.
func (l *Logger) LogFlush(gen uint32, count int, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("flush failed",
			"generation", gen,
			"deltas", count,
			"error", err,
		)
	} else {
		l.Info("flushed delta file",
			"generation", gen,
			"deltas", count,
			"elapsed", elapsed,
		)
	}
}
