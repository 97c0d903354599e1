package geojoin

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/geojoin/operator"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
// See the metrics package for a ready-made Prometheus collector.
type MetricsCollector interface {
	// RecordBuild is called once the build side has been indexed (or failed).
	// rows is the number of indexed rows and sizeBytes the index size.
	RecordBuild(rows int, sizeBytes int64, duration time.Duration, err error)

	// RecordProbe is called after each probe partition has been drained.
	RecordProbe(stats operator.Stats, duration time.Duration, err error)

	// RecordJoin is called after each Execute.
	RecordJoin(outputRows int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, int64, time.Duration, error)     {}
func (NoopMetricsCollector) RecordProbe(operator.Stats, time.Duration, error) {}
func (NoopMetricsCollector) RecordJoin(int, time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount      atomic.Int64
	BuildErrors     atomic.Int64
	BuildRows       atomic.Int64
	BuildTotalNanos atomic.Int64
	ProbeCount      atomic.Int64
	ProbeErrors     atomic.Int64
	ProbeRows       atomic.Int64
	ProbeCandidates atomic.Int64
	ProbeYields     atomic.Int64
	JoinCount       atomic.Int64
	JoinErrors      atomic.Int64
	JoinOutputRows  atomic.Int64
	JoinTotalNanos  atomic.Int64
	PeakIndexBytes  atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(rows int, sizeBytes int64, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.BuildRows.Add(int64(rows))
	for {
		cur := b.PeakIndexBytes.Load()
		if sizeBytes <= cur || b.PeakIndexBytes.CompareAndSwap(cur, sizeBytes) {
			break
		}
	}
}

// RecordProbe implements MetricsCollector.
func (b *BasicMetricsCollector) RecordProbe(stats operator.Stats, duration time.Duration, err error) {
	b.ProbeCount.Add(1)
	if err != nil {
		b.ProbeErrors.Add(1)
	}
	b.ProbeRows.Add(stats.InputPositions)
	b.ProbeCandidates.Add(stats.Candidates)
	b.ProbeYields.Add(stats.Yields)
}

// RecordJoin implements MetricsCollector.
func (b *BasicMetricsCollector) RecordJoin(outputRows int, duration time.Duration, err error) {
	b.JoinCount.Add(1)
	b.JoinTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.JoinErrors.Add(1)
		return
	}
	b.JoinOutputRows.Add(int64(outputRows))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:      b.BuildCount.Load(),
		BuildErrors:     b.BuildErrors.Load(),
		BuildRows:       b.BuildRows.Load(),
		BuildAvgNanos:   avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		ProbeCount:      b.ProbeCount.Load(),
		ProbeErrors:     b.ProbeErrors.Load(),
		ProbeRows:       b.ProbeRows.Load(),
		ProbeCandidates: b.ProbeCandidates.Load(),
		ProbeYields:     b.ProbeYields.Load(),
		JoinCount:       b.JoinCount.Load(),
		JoinErrors:      b.JoinErrors.Load(),
		JoinOutputRows:  b.JoinOutputRows.Load(),
		JoinAvgNanos:    avg(b.JoinTotalNanos.Load(), b.JoinCount.Load()),
		PeakIndexBytes:  b.PeakIndexBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildErrors     int64
	BuildRows       int64
	BuildAvgNanos   int64
	ProbeCount      int64
	ProbeErrors     int64
	ProbeRows       int64
	ProbeCandidates int64
	ProbeYields     int64
	JoinCount       int64
	JoinErrors      int64
	JoinOutputRows  int64
	JoinAvgNanos    int64
	PeakIndexBytes  int64
}
