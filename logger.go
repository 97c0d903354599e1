package geojoin

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/geojoin/operator"
)

// Logger wraps slog.Logger with join-specific context.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithJoinID adds the join execution id.
func (l *Logger) WithJoinID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("join_id", id),
	}
}

// WithPartition adds a partition number.
func (l *Logger) WithPartition(partition int) *Logger {
	return &Logger{
		Logger: l.Logger.With("partition", partition),
	}
}

// LogBuild logs the completion of an index build.
func (l *Logger) LogBuild(ctx context.Context, rows int, sizeBytes int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index build completed",
			"rows", rows,
			"size_bytes", sizeBytes,
			"duration", duration,
		)
	}
}

// LogProbe logs the completion of one probe partition.
func (l *Logger) LogProbe(ctx context.Context, partition int, stats operator.Stats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "probe failed",
			"partition", partition,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "probe completed",
			"partition", partition,
			"input_positions", stats.InputPositions,
			"output_positions", stats.OutputPositions,
			"candidates", stats.Candidates,
			"yields", stats.Yields,
		)
	}
}

// LogJoin logs a join execution.
func (l *Logger) LogJoin(ctx context.Context, outputRows int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "join failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "join completed",
			"output_rows", outputRows,
			"duration", duration,
		)
	}
}
