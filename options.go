package bucketgo

import (
	"fmt"

	"github.com/hupe1980/bucketgo/serial"
)

const (
	// DefaultResizeIncrement is the granularity, in bytes, by which
	// block storage files grow and shrink.
	DefaultResizeIncrement = 16 * 1024

	// DefaultCompactionThreshold triggers log compaction once dead
	// bytes exceed half of the live bytes.
	DefaultCompactionThreshold = 0.5
)

type options struct {
	serializer       *serial.Serializer
	resizeIncrement  int64
	bufferSize       int
	syncWrites       bool
	compactThreshold float64
	compactRate      int64
	logger           *Logger
	metrics          MetricsCollector
}

func defaultOptions() options {
	return options{
		resizeIncrement:  DefaultResizeIncrement,
		bufferSize:       0, // binio default
		compactThreshold: DefaultCompactionThreshold,
		logger:           NoopLogger(),
		metrics:          NoopMetricsCollector{},
	}
}

func (o *options) validate() error {
	if o.serializer == nil {
		return ErrNoSerializer
	}
	if o.resizeIncrement <= blockHeaderSize {
		return fmt.Errorf("bucketgo: resize increment %d must exceed the %d-byte block header", o.resizeIncrement, blockHeaderSize)
	}
	if o.compactThreshold <= 0 {
		return fmt.Errorf("bucketgo: compaction threshold %v must be positive", o.compactThreshold)
	}
	return nil
}

// Option configures a bucket.
type Option func(*options)

// WithSerializer sets the serializer used to encode and decode stored
// objects. It is required; buckets do not share a global registry, so
// wire compatibility is explicit per deployment.
func WithSerializer(s *serial.Serializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// WithResizeIncrement sets the granularity by which block storage files
// grow and shrink. Larger increments mean fewer truncations; smaller
// ones keep files tighter.
func WithResizeIncrement(bytes int64) Option {
	return func(o *options) {
		o.resizeIncrement = bytes
	}
}

// WithBufferSize sets the window size for buffered file reads and
// writes.
func WithBufferSize(bytes int) Option {
	return func(o *options) {
		o.bufferSize = bytes
	}
}

// WithSyncWrites forces an fsync after every mutating operation.
// Durability per operation, at a substantial throughput cost.
func WithSyncWrites(sync bool) Option {
	return func(o *options) {
		o.syncWrites = sync
	}
}

// WithCompactionThreshold sets the dead-to-live byte ratio above which
// a log bucket compacts itself. The check runs after deletions.
func WithCompactionThreshold(ratio float64) Option {
	return func(o *options) {
		o.compactThreshold = ratio
	}
}

// WithCompactionRateLimit caps compaction copying at the given number
// of bytes per second. Zero means unlimited.
func WithCompactionRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.compactRate = bytesPerSec
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. The default is a no-op.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
