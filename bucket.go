package bucketgo

import (
	"github.com/hupe1980/bucketgo/serial"
)

// ID identifies an object within a bucket.
type ID uint64

// Object is implemented by values a bucket can store. Identities must
// be unique within a bucket; locators are free-form grouping keys and
// may repeat. An empty locator means none.
type Object interface {
	serial.Serializable

	// ObjectID returns the object's identity.
	ObjectID() ID

	// Locator returns the object's locator, or "" for none.
	Locator() string
}

// Bucket is disk-backed object storage keyed by identity and locator.
// Implementations are safe for concurrent use.
type Bucket interface {
	// Store adds an object. It returns ErrDuplicate when the identity is
	// already present and ErrObjectRefused when the object could not be
	// written; refused stores leave the bucket unchanged.
	Store(obj Object) error

	// Fetch returns the object with the given identity, or ErrNotFound.
	Fetch(id ID) (Object, error)

	// FetchByLocator returns the stored object with the given locator,
	// or ErrNotFound. When several objects share the locator, the one
	// earliest in storage order is returned.
	FetchByLocator(locator string) (Object, error)

	// Delete removes the object with the given identity, or returns
	// ErrNotFound.
	Delete(id ID) error

	// DeleteByLocator removes every object with the given locator and
	// returns how many were removed. A missing locator removes zero and
	// is not an error.
	DeleteByLocator(locator string) (int, error)

	// Cursor iterates all stored objects in ascending storage order.
	Cursor() Cursor

	// Count returns the number of stored objects.
	Count() int

	// Stats reports storage counters.
	Stats() Stats

	// Close releases the file handle and guard lock. It is idempotent.
	Close() error
}

// Cursor walks stored objects. A cursor is not safe for concurrent use
// by multiple goroutines, but any number of cursors may run
// independently over one bucket.
type Cursor interface {
	// Next advances to the next object and reports whether one is
	// current. It never yields deleted records. Once Next has returned
	// false the cursor is exhausted; inspect Err for the cause.
	Next() bool

	// Object returns the current object. It panics if called before a
	// successful Next or after Remove.
	Object() Object

	// Remove deletes the current object from the bucket. It panics if
	// no object is current.
	Remove() error

	// Err returns the error that stopped iteration, if any.
	// ErrCursorInvalidated means compaction dropped the cursor's view
	// and a new cursor must be opened.
	Err() error

	// Close releases the cursor. It is idempotent.
	Close() error
}

// Stats are point-in-time storage counters. FreeBlocks and FreeBytes
// apply to block buckets; DeadBytes applies to log buckets.
type Stats struct {
	// Count is the number of stored objects.
	Count int
	// FileSize is the storage file size in bytes.
	FileSize int64
	// FreeBlocks is the number of free blocks.
	FreeBlocks int
	// FreeBytes is the payload capacity summed over free blocks.
	FreeBytes int64
	// DeadBytes is the space held by deletion marks and dead records.
	DeadBytes int64
}
