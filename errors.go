package bucketgo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no object with the requested identity
	// or locator is stored.
	ErrNotFound = errors.New("bucketgo: object not found")

	// ErrDuplicate is returned when storing an object whose identity is
	// already present.
	ErrDuplicate = errors.New("bucketgo: object already stored")

	// ErrNilObject is returned when storing a nil object.
	ErrNilObject = errors.New("bucketgo: nil object")

	// ErrObjectRefused is returned when an object could not be written
	// to storage. The underlying cause is wrapped; the bucket's existing
	// contents are unaffected.
	ErrObjectRefused = errors.New("bucketgo: object refused")

	// ErrBucketClosed is returned when operating on a closed bucket.
	ErrBucketClosed = errors.New("bucketgo: bucket is closed")

	// ErrBucketFailed is returned for all operations after a structural
	// write failed and left the instance unusable. The on-disk state may
	// be inconsistent; reopen to rescan it.
	ErrBucketFailed = errors.New("bucketgo: bucket disabled after structural write failure")

	// ErrStorageInUse is returned when another process holds the
	// storage's guard lock.
	ErrStorageInUse = errors.New("bucketgo: storage already in use")

	// ErrInvalidStorage is returned when a storage file does not hold a
	// well-formed block or log structure. Opening does not attempt
	// partial recovery.
	ErrInvalidStorage = errors.New("bucketgo: invalid storage file")

	// ErrCursorInvalidated is returned by cursors whose backing view was
	// dropped by compaction. The cursor cannot continue; open a new one.
	ErrCursorInvalidated = errors.New("bucketgo: cursor invalidated by compaction")

	// ErrNoSerializer is returned when opening a bucket without a
	// serializer.
	ErrNoSerializer = errors.New("bucketgo: a serializer is required")
)

// refused wraps an I/O cause as an ErrObjectRefused so callers can both
// detect the refusal and inspect what went wrong underneath.
func refused(err error) error {
	return fmt.Errorf("%w: %w", ErrObjectRefused, err)
}

// invalidStorage tags a scan failure with its file offset.
func invalidStorage(off int64, err error) error {
	return fmt.Errorf("%w: at offset %d: %w", ErrInvalidStorage, off, err)
}
