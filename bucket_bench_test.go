package bucketgo

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/bucketgo/serial"
)

func benchSerializer(b *testing.B) *serial.Serializer {
	b.Helper()
	s, err := serial.New(serial.WithDefault(serial.TypeOf("cell", decodeCell)))
	if err != nil {
		b.Fatalf("new serializer: %v", err)
	}
	return s
}

// BenchmarkBlockStore benchmarks block allocation plus record writes.
func BenchmarkBlockStore(b *testing.B) {
	bucket, err := OpenBlockBucket(filepath.Join(b.TempDir(), "bench.bkt"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	fill := make([]byte, 100)

	b.ResetTimer()
	for i := 1; b.Loop(); i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}
}

// BenchmarkBlockStoreDelete benchmarks free-list reuse under churn.
func BenchmarkBlockStoreDelete(b *testing.B) {
	bucket, err := OpenBlockBucket(filepath.Join(b.TempDir(), "bench.bkt"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	fill := make([]byte, 100)

	b.ResetTimer()
	for i := 1; b.Loop(); i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
		if err := bucket.Delete(ID(i)); err != nil {
			b.Fatalf("delete: %v", err)
		}
	}
}

// BenchmarkBlockFetch benchmarks point reads from a populated bucket.
func BenchmarkBlockFetch(b *testing.B) {
	bucket, err := OpenBlockBucket(filepath.Join(b.TempDir(), "bench.bkt"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	const count = 1024
	fill := make([]byte, 100)
	for i := 1; i <= count; i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		if _, err := bucket.Fetch(ID(i%count + 1)); err != nil {
			b.Fatalf("fetch: %v", err)
		}
	}
}

// BenchmarkBlockCursor benchmarks a full scan in storage order.
func BenchmarkBlockCursor(b *testing.B) {
	bucket, err := OpenBlockBucket(filepath.Join(b.TempDir(), "bench.bkt"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	const count = 1024
	fill := make([]byte, 100)
	for i := 1; i <= count; i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}

	b.ResetTimer()
	for b.Loop() {
		c := bucket.Cursor()
		seen := 0
		for c.Next() {
			seen++
		}
		if err := c.Err(); err != nil {
			b.Fatalf("cursor: %v", err)
		}
		if err := c.Close(); err != nil {
			b.Fatalf("close cursor: %v", err)
		}
		if seen != count {
			b.Fatalf("visited %d of %d records", seen, count)
		}
	}
}

// BenchmarkBlockOpen benchmarks the open-time scan over a populated
// file.
func BenchmarkBlockOpen(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bkt")
	ser := benchSerializer(b)

	bucket, err := OpenBlockBucket(path, WithSerializer(ser))
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	fill := make([]byte, 100)
	for i := 1; i <= 1024; i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}
	if err := bucket.Close(); err != nil {
		b.Fatalf("close: %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		bucket, err := OpenBlockBucket(path, WithSerializer(ser))
		if err != nil {
			b.Fatalf("reopen: %v", err)
		}
		if err := bucket.Close(); err != nil {
			b.Fatalf("close: %v", err)
		}
	}
}

// BenchmarkLogStore benchmarks appends without fsync.
func BenchmarkLogStore(b *testing.B) {
	bucket, err := OpenLogBucket(filepath.Join(b.TempDir(), "bench.log"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	fill := make([]byte, 100)

	b.ResetTimer()
	for i := 1; b.Loop(); i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}
}

// BenchmarkLogStoreSync benchmarks appends with per-operation fsync.
func BenchmarkLogStoreSync(b *testing.B) {
	bucket, err := OpenLogBucket(filepath.Join(b.TempDir(), "bench.log"),
		WithSerializer(benchSerializer(b)),
		WithSyncWrites(true),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	fill := make([]byte, 100)

	b.ResetTimer()
	for i := 1; b.Loop(); i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}
}

// BenchmarkLogCursor benchmarks a full log scan.
func BenchmarkLogCursor(b *testing.B) {
	bucket, err := OpenLogBucket(filepath.Join(b.TempDir(), "bench.log"),
		WithSerializer(benchSerializer(b)),
	)
	if err != nil {
		b.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	const count = 1024
	fill := make([]byte, 100)
	for i := 1; i <= count; i++ {
		if err := bucket.Store(&cell{id: ID(i), fill: fill}); err != nil {
			b.Fatalf("store: %v", err)
		}
	}

	b.ResetTimer()
	for b.Loop() {
		c := bucket.Cursor()
		seen := 0
		for c.Next() {
			seen++
		}
		if err := c.Err(); err != nil {
			b.Fatalf("cursor: %v", err)
		}
		if err := c.Close(); err != nil {
			b.Fatalf("close cursor: %v", err)
		}
		if seen != count {
			b.Fatalf("visited %d of %d records", seen, count)
		}
	}
}
