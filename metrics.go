package bucketgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational
// metrics. Implement it to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordStore is called after each store operation. bytes is the
	// encoded record size, err is nil on success.
	RecordStore(duration time.Duration, bytes int, err error)

	// RecordFetch is called after each fetch operation.
	RecordFetch(duration time.Duration, err error)

	// RecordDelete is called after each delete operation. removed is
	// the number of records deleted.
	RecordDelete(duration time.Duration, removed int, err error)

	// RecordCompaction is called after each log compaction run.
	// reclaimed is the number of bytes the file shrank by.
	RecordCompaction(duration time.Duration, reclaimed int64, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStore(time.Duration, int, error)        {}
func (NoopMetricsCollector) RecordFetch(time.Duration, error)             {}
func (NoopMetricsCollector) RecordDelete(time.Duration, int, error)       {}
func (NoopMetricsCollector) RecordCompaction(time.Duration, int64, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection,
// useful for debugging without external dependencies.
type BasicMetricsCollector struct {
	StoreCount       atomic.Int64
	StoreErrors      atomic.Int64
	StoreBytes       atomic.Int64
	StoreTotalNanos  atomic.Int64
	FetchCount       atomic.Int64
	FetchErrors      atomic.Int64
	FetchTotalNanos  atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	DeletedRecords   atomic.Int64
	CompactionCount  atomic.Int64
	CompactionErrors atomic.Int64
	ReclaimedBytes   atomic.Int64
}

// RecordStore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStore(duration time.Duration, bytes int, err error) {
	b.StoreCount.Add(1)
	b.StoreTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StoreErrors.Add(1)
		return
	}
	b.StoreBytes.Add(int64(bytes))
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, removed int, err error) {
	b.DeleteCount.Add(1)
	b.DeletedRecords.Add(int64(removed))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(duration time.Duration, reclaimed int64, err error) {
	b.CompactionCount.Add(1)
	if err != nil {
		b.CompactionErrors.Add(1)
		return
	}
	b.ReclaimedBytes.Add(reclaimed)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StoreCount       int64
	StoreErrors      int64
	StoreBytes       int64
	StoreAvgNanos    int64
	FetchCount       int64
	FetchErrors      int64
	FetchAvgNanos    int64
	DeleteCount      int64
	DeleteErrors     int64
	DeletedRecords   int64
	CompactionCount  int64
	CompactionErrors int64
	ReclaimedBytes   int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StoreCount:       b.StoreCount.Load(),
		StoreErrors:      b.StoreErrors.Load(),
		StoreBytes:       b.StoreBytes.Load(),
		StoreAvgNanos:    avgNanos(&b.StoreTotalNanos, &b.StoreCount),
		FetchCount:       b.FetchCount.Load(),
		FetchErrors:      b.FetchErrors.Load(),
		FetchAvgNanos:    avgNanos(&b.FetchTotalNanos, &b.FetchCount),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		DeletedRecords:   b.DeletedRecords.Load(),
		CompactionCount:  b.CompactionCount.Load(),
		CompactionErrors: b.CompactionErrors.Load(),
		ReclaimedBytes:   b.ReclaimedBytes.Load(),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}
