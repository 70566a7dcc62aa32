package bucketgo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/hupe1980/bucketgo/binio"
	"github.com/hupe1980/bucketgo/serial"
)

// recordPrefixSize is the width of the signed length prefix framing
// every log record. A negated prefix marks a tombstone spanning the
// same bytes as the record it replaced.
const recordPrefixSize = 4

// logRecord tracks one live record's place in the log.
type logRecord struct {
	off     int64
	span    int64
	locator string
}

// LogBucket stores objects in a flat append log. Deletes negate the
// record's length prefix in place, leaving a tombstone that cursors
// skip; once tombstoned bytes outweigh live bytes by the configured
// threshold, the log is compacted into a fresh file and swapped in,
// invalidating every cursor open at that moment.
type LogBucket struct {
	mu   sync.RWMutex
	path string
	file storageFile
	lock *flock.Flock
	opts options

	size      int64
	byID      map[ID]*logRecord
	byLoc     map[string][]ID
	liveBytes int64
	deadBytes int64

	gen     uint64
	cursors map[*logCursor]struct{}

	closed bool
	failed bool
}

var _ Bucket = (*LogBucket)(nil)

// OpenLogBucket opens or creates log storage at path. An existing file
// is scanned in full to rebuild the identity and locator indexes; any
// malformed record fails the open with ErrInvalidStorage.
func OpenLogBucket(path string, optFns ...Option) (*LogBucket, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	lock, err := acquireGuard(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		releaseGuard(lock)
		return nil, fmt.Errorf("failed to open storage file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		releaseGuard(lock)
		return nil, fmt.Errorf("failed to stat storage file: %w", err)
	}

	b := &LogBucket{
		path:    path,
		file:    f,
		lock:    lock,
		opts:    opts,
		size:    fi.Size(),
		byID:    make(map[ID]*logRecord),
		byLoc:   make(map[string][]ID),
		cursors: make(map[*logCursor]struct{}),
	}

	if err := b.scan(); err != nil {
		_ = f.Close()
		releaseGuard(lock)
		opts.logger.LogOpen(path, 0, 0, err)
		return nil, err
	}

	opts.logger.LogOpen(path, len(b.byID), b.size, nil)
	return b, nil
}

// scan replays the log from offset zero, indexing live records and
// accounting tombstoned spans.
func (b *LogBucket) scan() error {
	in, err := binio.OpenMappedInput(b.path)
	if err != nil {
		in = binio.NewFileInput(b.file, 0, b.size, b.opts.bufferSize)
	}
	defer in.Close()

	for in.Position() < b.size {
		off := in.Position()
		p, err := in.Peek(recordPrefixSize)
		if err != nil {
			return invalidStorage(off, fmt.Errorf("record prefix: %w", noEOF(err)))
		}
		length := int32(binary.LittleEndian.Uint32(p))

		switch {
		case length == 0:
			return invalidStorage(off, errors.New("zero-length record"))
		case length < 0:
			span := recordPrefixSize - int64(length)
			if off+span > b.size {
				return invalidStorage(off, fmt.Errorf("tombstone of %d bytes overruns the file", span))
			}
			if n, err := in.Skip(span); err != nil || n != span {
				return invalidStorage(off, fmt.Errorf("tombstone span: %w", noEOF(err)))
			}
			b.deadBytes += span
		default:
			if err := b.scanRecord(in, off); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanRecord decodes the live record starting at off and registers it.
func (b *LogBucket) scanRecord(in *binio.Input, off int64) error {
	sv, err := b.opts.serializer.Read(in)
	if err != nil {
		return invalidStorage(off, err)
	}
	obj, ok := sv.(Object)
	if !ok {
		return invalidStorage(off, fmt.Errorf("record decodes to %T, not an Object", sv))
	}
	rec := &logRecord{off: off, span: in.Position() - off, locator: obj.Locator()}
	id := obj.ObjectID()
	if _, dup := b.byID[id]; dup {
		return invalidStorage(off, fmt.Errorf("%w: identity %d", ErrDuplicate, uint64(id)))
	}
	b.indexRecord(id, rec)
	return nil
}

func (b *LogBucket) indexRecord(id ID, rec *logRecord) {
	b.byID[id] = rec
	if rec.locator != "" {
		b.byLoc[rec.locator] = append(b.byLoc[rec.locator], id)
	}
	b.liveBytes += rec.span
}

func (b *LogBucket) unindexRecord(id ID, rec *logRecord) {
	delete(b.byID, id)
	if rec.locator != "" {
		ids := b.byLoc[rec.locator]
		for i, it := range ids {
			if it == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(b.byLoc, rec.locator)
		} else {
			b.byLoc[rec.locator] = ids
		}
	}
	b.liveBytes -= rec.span
}

func (b *LogBucket) fail(err error) error {
	b.failed = true
	return fmt.Errorf("%w: %w", ErrBucketFailed, err)
}

func (b *LogBucket) guard() error {
	if b.closed {
		return ErrBucketClosed
	}
	if b.failed {
		return ErrBucketFailed
	}
	return nil
}

// Store appends an object to the log.
func (b *LogBucket) Store(obj Object) error {
	start := time.Now()
	id, n, err := b.store(obj)
	b.opts.metrics.RecordStore(time.Since(start), n, err)
	if !errors.Is(err, ErrNilObject) {
		b.opts.logger.LogStore(id, n, err)
	}
	return err
}

// store sizes and binds obj before taking the lock; the returned
// identity is zero until the object proves non-nil and registered.
func (b *LogBucket) store(obj Object) (ID, int, error) {
	if obj == nil {
		return 0, 0, ErrNilObject
	}
	size, err := b.opts.serializer.SizeOf(obj)
	if err != nil {
		return 0, 0, err
	}
	if size == serial.NullSize {
		return 0, 0, ErrNilObject
	}
	id := obj.ObjectID()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.guard(); err != nil {
		return id, 0, err
	}
	if _, dup := b.byID[id]; dup {
		return id, 0, fmt.Errorf("%w: identity %d", ErrDuplicate, uint64(id))
	}

	off := b.size
	out := binio.NewFileOutput(b.file, off, b.opts.bufferSize)
	n, err := b.opts.serializer.Write(out, obj)
	if err == nil {
		err = out.Flush()
	}
	if err == nil && b.opts.syncWrites {
		err = b.file.Sync()
	}
	if err != nil {
		// The append position never advanced; cut any partial bytes so
		// a reopen scan cannot trip over them.
		_ = b.file.Truncate(off)
		if isBindingFault(err) {
			return id, 0, err
		}
		return id, 0, refused(err)
	}

	b.indexRecord(id, &logRecord{off: off, span: int64(n), locator: obj.Locator()})
	b.size += int64(n)
	return id, n, nil
}

// Fetch returns the object with the given identity.
func (b *LogBucket) Fetch(id ID) (Object, error) {
	start := time.Now()
	obj, err := b.fetch(id)
	b.opts.metrics.RecordFetch(time.Since(start), err)
	return obj, err
}

func (b *LogBucket) fetch(id ID) (Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.guard(); err != nil {
		return nil, err
	}
	rec, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity %d", ErrNotFound, uint64(id))
	}
	return b.readRecord(rec)
}

// FetchByLocator returns the object with the given locator that sits
// earliest in the log.
func (b *LogBucket) FetchByLocator(locator string) (Object, error) {
	start := time.Now()
	obj, err := b.fetchByLocator(locator)
	b.opts.metrics.RecordFetch(time.Since(start), err)
	return obj, err
}

func (b *LogBucket) fetchByLocator(locator string) (Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.guard(); err != nil {
		return nil, err
	}
	var first *logRecord
	for _, id := range b.byLoc[locator] {
		if rec := b.byID[id]; first == nil || rec.off < first.off {
			first = rec
		}
	}
	if first == nil {
		return nil, fmt.Errorf("%w: locator %q", ErrNotFound, locator)
	}
	return b.readRecord(first)
}

// readRecord decodes the record rec points at. Callers hold the lock.
func (b *LogBucket) readRecord(rec *logRecord) (Object, error) {
	in := binio.NewFileInput(b.file, rec.off, rec.span, b.opts.bufferSize)
	sv, err := b.opts.serializer.Read(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read object at offset %d: %w", rec.off, err)
	}
	obj, ok := sv.(Object)
	if !ok {
		return nil, invalidStorage(rec.off, fmt.Errorf("record decodes to %T, not an Object", sv))
	}
	return obj, nil
}

// Delete tombstones the object with the given identity and compacts the
// log once dead bytes outweigh live bytes by the configured threshold.
func (b *LogBucket) Delete(id ID) error {
	start := time.Now()
	err := b.delete(id)
	removed := 0
	if err == nil {
		removed = 1
	}
	b.opts.metrics.RecordDelete(time.Since(start), removed, err)
	b.opts.logger.LogDelete(id, err)
	return err
}

func (b *LogBucket) delete(id ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}
	if err := b.deleteLocked(id); err != nil {
		return err
	}
	b.maybeCompact()
	return nil
}

// deleteLocked negates the record's length prefix in place. Callers
// hold the write lock.
func (b *LogBucket) deleteLocked(id ID) error {
	rec, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("%w: identity %d", ErrNotFound, uint64(id))
	}

	var p [recordPrefixSize]byte
	binary.LittleEndian.PutUint32(p[:], uint32(int32(-(rec.span - recordPrefixSize))))
	if _, err := b.file.WriteAt(p[:], rec.off); err != nil {
		return b.fail(err)
	}
	if b.opts.syncWrites {
		if err := b.file.Sync(); err != nil {
			return b.fail(err)
		}
	}

	b.unindexRecord(id, rec)
	b.deadBytes += rec.span
	return nil
}

// DeleteByLocator tombstones every object with the given locator and
// returns how many were removed.
func (b *LogBucket) DeleteByLocator(locator string) (int, error) {
	start := time.Now()
	removed, err := b.deleteByLocator(locator)
	b.opts.metrics.RecordDelete(time.Since(start), removed, err)
	return removed, err
}

func (b *LogBucket) deleteByLocator(locator string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.guard(); err != nil {
		return 0, err
	}
	ids := append([]ID(nil), b.byLoc[locator]...)
	for i, id := range ids {
		if err := b.deleteLocked(id); err != nil {
			return i, err
		}
	}
	b.maybeCompact()
	return len(ids), nil
}

// maybeCompact rewrites the log once tombstoned bytes outweigh live
// bytes by the configured threshold. Compaction failure leaves the
// current log untouched. Callers hold the write lock.
func (b *LogBucket) maybeCompact() {
	if b.deadBytes == 0 || float64(b.deadBytes) <= b.opts.compactThreshold*float64(b.liveBytes) {
		return
	}
	before := b.size
	start := time.Now()
	err := b.compactLocked()
	b.opts.metrics.RecordCompaction(time.Since(start), before-b.size, err)
	b.opts.logger.LogCompaction(b.path, before, b.size, err)
}

// Count returns the number of stored objects.
func (b *LogBucket) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Stats reports storage counters.
func (b *LogBucket) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Count:     len(b.byID),
		FileSize:  b.size,
		DeadBytes: b.deadBytes,
	}
}

// Close releases the file handle and the guard lock. It is idempotent.
func (b *LogBucket) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	clear(b.cursors)

	var firstErr error
	if !b.failed {
		if err := b.file.Sync(); err != nil {
			firstErr = err
		}
	}
	if err := b.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.opts.logger.LogClose(b.path, firstErr)
	return firstErr
}
