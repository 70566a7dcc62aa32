package bucketgo

import "io"

// storageFile is the slice of *os.File the buckets depend on. Keeping
// it narrow lets tests interpose failing implementations.
type storageFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}
