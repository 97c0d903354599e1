package geojoin

import (
	"log/slog"
	"time"

	"github.com/hupe1980/geojoin/page"
)

// DefaultQuantum is the time a driver runs before it is asked to yield.
const DefaultQuantum = time.Second

type options struct {
	metricsCollector    MetricsCollector
	logger              *Logger
	memoryLimit         int64
	maxConcurrentBuilds int
	quantum             time.Duration
	pageBuilder         page.BuilderOptions
	cellSize            float64
	buildConcurrency    int
}

// Option configures a Join.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring joins.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &geojoin.BasicMetricsCollector{}
//	j, _ := geojoin.New(cfg, geojoin.WithMetricsCollector(metrics))
//	// ... run joins ...
//	stats := metrics.GetStats()
//	fmt.Printf("Joins: %d, rows: %d\n", stats.JoinCount, stats.JoinOutputRows)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryLimit bounds the bytes the index and all probe operators of one
// join may retain. Zero or less means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMaxConcurrentBuilds bounds the index builds running at the same time
// across all Execute calls of a Join.
func WithMaxConcurrentBuilds(n int) Option {
	return func(o *options) {
		o.maxConcurrentBuilds = n
	}
}

// WithQuantum sets how long a driver runs before its operators are asked
// to yield.
func WithQuantum(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.quantum = d
		}
	}
}

// WithPageCapacity bounds the output pages of the join.
func WithPageCapacity(maxPositions int, maxBytes int64) Option {
	return func(o *options) {
		o.pageBuilder = page.BuilderOptions{MaxPositions: maxPositions, MaxBytes: maxBytes}
	}
}

// WithCellSize fixes the grid cell size of the index instead of deriving it
// from the build side.
func WithCellSize(size float64) Option {
	return func(o *options) {
		o.cellSize = size
	}
}

// WithBuildConcurrency bounds the goroutines extracting build rows.
func WithBuildConcurrency(n int) Option {
	return func(o *options) {
		o.buildConcurrency = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		quantum:          DefaultQuantum,
		pageBuilder:      page.DefaultBuilderOptions,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
