package bucketgo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/btree"

	"github.com/hupe1980/bucketgo/binio"
	"github.com/hupe1980/bucketgo/serial"
)

// BlockBucket stores objects in a single file tiled by variable-size
// blocks. Allocation is first fit over a free list; freed blocks
// coalesce with adjacent free neighbors and the file shrinks when its
// tail comes free. Identity and locator lookups are answered by
// in-memory indexes rebuilt from a full scan at open.
type BlockBucket struct {
	mu   sync.RWMutex
	path string
	file storageFile
	lock *flock.Flock
	opts options

	fileSize int64
	occupied *btree.BTreeG[*fileBlock]
	free     *freeList
	byID     map[ID]*fileBlock
	byLoc    map[string][]*fileBlock

	closed bool
	failed bool
}

var _ Bucket = (*BlockBucket)(nil)

// OpenBlockBucket opens or creates block storage at path. A fresh file
// is grown by one resize increment; an existing one is scanned in full
// to rebuild the block indexes, and any malformed header or payload
// fails the open with ErrInvalidStorage.
func OpenBlockBucket(path string, optFns ...Option) (*BlockBucket, error) {
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

	b := &BlockBucket{
		path:     path,
		file:     f,
		lock:     lock,
		opts:     opts,
		fileSize: fi.Size(),
		occupied: btree.NewG(32, blockLess),
		free:     newFreeList(),
		byID:     make(map[ID]*fileBlock),
		byLoc:    make(map[string][]*fileBlock),
	}

	if b.fileSize == 0 {
		err = b.bootstrap()
	} else {
		err = b.scan()
	}
	if err != nil {
		_ = f.Close()
		releaseGuard(lock)
		opts.logger.LogOpen(path, 0, 0, err)
		return nil, err
	}

	opts.logger.LogOpen(path, len(b.byID), b.fileSize, nil)
	return b, nil
}

// acquireGuard takes the advisory lock enforcing single-process
// ownership of the storage file.
func acquireGuard(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire storage guard: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStorageInUse, path)
	}
	return lock, nil
}

func releaseGuard(lock *flock.Flock) {
	_ = lock.Unlock()
}

// bootstrap lays out a fresh file as one free block spanning the first
// resize increment.
func (b *BlockBucket) bootstrap() error {
	if err := b.file.Truncate(b.opts.resizeIncrement); err != nil {
		return fmt.Errorf("failed to grow new storage file: %w", err)
	}
	blk := &fileBlock{off: 0, size: b.opts.resizeIncrement - blockHeaderSize}
	if err := writeBlockHeader(b.file, blk.off, false, blk.size); err != nil {
		return err
	}
	b.free.insert(blk)
	b.fileSize = b.opts.resizeIncrement
	return nil
}

// scan walks every block from offset zero, classifying them as free or
// occupied and decoding occupied payloads to rebuild the identity and
// locator indexes. The mapped input is preferred; buffered positioned
// reads are the fallback.
func (b *BlockBucket) scan() error {
	in, err := binio.OpenMappedInput(b.path)
	if err != nil {
		in = binio.NewFileInput(b.file, 0, b.fileSize, b.opts.bufferSize)
	}
	defer in.Close()

	for off := int64(0); off < b.fileSize; {
		flag, err := in.ReadByte()
		if err != nil {
			return invalidStorage(off, fmt.Errorf("block header: %w", noEOF(err)))
		}
		size, err := in.ReadInt64()
		if err != nil {
			return invalidStorage(off, fmt.Errorf("block header: %w", noEOF(err)))
		}
		if size < 0 || off+blockHeaderSize+size > b.fileSize {
			return invalidStorage(off, fmt.Errorf("block of %d payload bytes does not fit the file", size))
		}

		blk := &fileBlock{off: off, size: size}
		switch flag {
		case blockFree:
			if n, err := in.Skip(size); err != nil || n != size {
				return invalidStorage(off, fmt.Errorf("free block payload: %w", io.ErrUnexpectedEOF))
			}
			// Adjacent free blocks on disk merge here, making the
			// rebuilt free list canonical.
			if err := b.free.add(b.file, blk, false); err != nil {
				return err
			}
		case blockOccupied:
			if err := b.scanObject(in, blk); err != nil {
				return err
			}
		default:
			return invalidStorage(off, fmt.Errorf("block flag %#x", flag))
		}
		off = blk.end()
	}
	return nil
}

// scanObject decodes the payload of an occupied block and registers it
// in the indexes.
func (b *BlockBucket) scanObject(in *binio.Input, blk *fileBlock) error {
	start := in.Position()
	sv, err := b.opts.serializer.Read(in)
	if err != nil {
		return invalidStorage(blk.off, err)
	}
	if consumed := in.Position() - start; consumed != blk.size {
		return invalidStorage(blk.off, fmt.Errorf("record spans %d of %d payload bytes", consumed, blk.size))
	}
	obj, ok := sv.(Object)
	if !ok {
		return invalidStorage(blk.off, fmt.Errorf("record decodes to %T, not an Object", sv))
	}
	blk.id = obj.ObjectID()
	blk.locator = obj.Locator()
	if _, dup := b.byID[blk.id]; dup {
		return invalidStorage(blk.off, fmt.Errorf("%w: identity %d", ErrDuplicate, uint64(blk.id)))
	}
	b.indexBlock(blk)
	return nil
}

func (b *BlockBucket) indexBlock(blk *fileBlock) {
	b.occupied.ReplaceOrInsert(blk)
	b.byID[blk.id] = blk
	if blk.locator != "" {
		b.byLoc[blk.locator] = append(b.byLoc[blk.locator], blk)
	}
}

func (b *BlockBucket) unindexBlock(blk *fileBlock) {
	b.occupied.Delete(blk)
	delete(b.byID, blk.id)
	if blk.locator != "" {
		blocks := b.byLoc[blk.locator]
		for i, it := range blocks {
			if it == blk {
				blocks = append(blocks[:i], blocks[i+1:]...)
				break
			}
		}
		if len(blocks) == 0 {
			delete(b.byLoc, blk.locator)
		} else {
			b.byLoc[blk.locator] = blocks
		}
	}
}

// fail disables the bucket after a structural write went wrong; the
// in-memory state can no longer be trusted to match the file.
func (b *BlockBucket) fail(err error) error {
	b.failed = true
	return fmt.Errorf("%w: %w", ErrBucketFailed, err)
}

func (b *BlockBucket) guard() error {
	if b.closed {
		return ErrBucketClosed
	}
	if b.failed {
		return ErrBucketFailed
	}
	return nil
}

// Store adds an object to the bucket.
func (b *BlockBucket) Store(obj Object) error {
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
func (b *BlockBucket) store(obj Object) (ID, int, error) {
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

	blk, err := b.allocate(int64(size))
	if err != nil {
		if b.failed {
			return id, 0, err
		}
		return id, 0, refused(err)
	}

	if err := writeBlockHeader(b.file, blk.off, true, blk.size); err != nil {
		return id, 0, b.release(blk, err)
	}
	out := binio.NewFileOutput(b.file, blk.off+blockHeaderSize, b.opts.bufferSize)
	n, err := b.opts.serializer.Write(out, obj)
	if err == nil {
		err = out.Flush()
	}
	if err == nil && n != size {
		err = fmt.Errorf("%w: sized to %d, wrote %d", serial.ErrSizeMismatch, size, n)
	}
	if err == nil && b.opts.syncWrites {
		err = b.file.Sync()
	}
	if err != nil {
		return id, 0, b.release(blk, err)
	}

	blk.id = id
	blk.locator = obj.Locator()
	b.indexBlock(blk)
	return id, n, nil
}

// release returns a block to the free list after a failed store and
// classifies the failure: binding faults surface as themselves, I/O
// faults as a refusal.
func (b *BlockBucket) release(blk *fileBlock, cause error) error {
	if err := b.free.add(b.file, blk, true); err != nil {
		return b.fail(errors.Join(cause, err))
	}
	if isBindingFault(cause) {
		return cause
	}
	return refused(cause)
}

func isBindingFault(err error) bool {
	return errors.Is(err, serial.ErrNotRegistered) ||
		errors.Is(err, serial.ErrSizeMismatch) ||
		errors.Is(err, serial.ErrBadLength)
}

// allocate finds or creates a block hosting exactly size payload bytes.
func (b *BlockBucket) allocate(size int64) (*fileBlock, error) {
	if blk := b.free.takeFirstFit(size); blk != nil {
		return blk, b.split(blk, size)
	}
	if err := b.grow(size); err != nil {
		return nil, err
	}
	blk := b.free.takeFirstFit(size)
	if blk == nil {
		return nil, fmt.Errorf("no block for %d bytes after growth", size)
	}
	return blk, b.split(blk, size)
}

// split carves size payload bytes off the front of blk, returning the
// tail to the free list as its own block.
func (b *BlockBucket) split(blk *fileBlock, size int64) error {
	if blk.size == size {
		return nil
	}
	rem := &fileBlock{
		off:  blk.off + blockHeaderSize + size,
		size: blk.size - size - blockHeaderSize,
	}
	if err := writeBlockHeader(b.file, rem.off, false, rem.size); err != nil {
		return b.fail(err)
	}
	// The remainder's neighbors are occupied, so no coalescing applies.
	b.free.insert(rem)
	blk.size = size
	return nil
}

// grow extends the file by whole resize increments, enough that one
// growth always produces a qualifying block for size payload bytes.
func (b *BlockBucket) grow(size int64) error {
	inc := b.opts.resizeIncrement
	grown := inc
	if need := size + 2*blockHeaderSize; grown < need {
		grown = (need + inc - 1) / inc * inc
	}
	if err := b.file.Truncate(b.fileSize + grown); err != nil {
		return fmt.Errorf("failed to grow storage by %d bytes: %w", grown, err)
	}
	blk := &fileBlock{off: b.fileSize, size: grown - blockHeaderSize}
	if err := writeBlockHeader(b.file, blk.off, false, blk.size); err != nil {
		return b.fail(err)
	}
	b.fileSize += grown
	// Coalesce with a free tail so the combined block can satisfy
	// requests the tail alone could not.
	if err := b.free.add(b.file, blk, false); err != nil {
		return b.fail(err)
	}
	return nil
}

// Fetch returns the object with the given identity.
func (b *BlockBucket) Fetch(id ID) (Object, error) {
	start := time.Now()
	obj, err := b.fetch(id)
	b.opts.metrics.RecordFetch(time.Since(start), err)
	return obj, err
}

func (b *BlockBucket) fetch(id ID) (Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.guard(); err != nil {
		return nil, err
	}
	blk, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity %d", ErrNotFound, uint64(id))
	}
	return b.readBlock(blk)
}

// FetchByLocator returns the object with the given locator that sits
// earliest in the file.
func (b *BlockBucket) FetchByLocator(locator string) (Object, error) {
	start := time.Now()
	obj, err := b.fetchByLocator(locator)
	b.opts.metrics.RecordFetch(time.Since(start), err)
	return obj, err
}

func (b *BlockBucket) fetchByLocator(locator string) (Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.guard(); err != nil {
		return nil, err
	}
	blk := firstBlock(b.byLoc[locator])
	if blk == nil {
		return nil, fmt.Errorf("%w: locator %q", ErrNotFound, locator)
	}
	return b.readBlock(blk)
}

// firstBlock picks the lowest-offset block so repeated locators resolve
// deterministically.
func firstBlock(blocks []*fileBlock) *fileBlock {
	var first *fileBlock
	for _, blk := range blocks {
		if first == nil || blk.off < first.off {
			first = blk
		}
	}
	return first
}

// readBlock decodes the object stored in blk. Callers hold the lock.
func (b *BlockBucket) readBlock(blk *fileBlock) (Object, error) {
	in := binio.NewFileInput(b.file, blk.off+blockHeaderSize, blk.size, b.opts.bufferSize)
	sv, err := b.opts.serializer.Read(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read object at offset %d: %w", blk.off, err)
	}
	obj, ok := sv.(Object)
	if !ok {
		return nil, invalidStorage(blk.off, fmt.Errorf("record decodes to %T, not an Object", sv))
	}
	return obj, nil
}

// Delete removes the object with the given identity.
func (b *BlockBucket) Delete(id ID) error {
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

func (b *BlockBucket) delete(id ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}
	blk, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("%w: identity %d", ErrNotFound, uint64(id))
	}
	return b.deleteBlock(blk)
}

// deleteBlock removes an occupied block and returns it to the free
// list, shrinking the file when its tail comes free. Callers hold the
// write lock.
func (b *BlockBucket) deleteBlock(blk *fileBlock) error {
	b.unindexBlock(blk)
	if err := b.free.add(b.file, blk, true); err != nil {
		return b.fail(err)
	}
	if b.opts.syncWrites {
		if err := b.file.Sync(); err != nil {
			return b.fail(err)
		}
	}
	return b.shrink()
}

// shrink cuts whole resize increments off a free block ending at EOF.
// The block disappears entirely when consumed exactly; a remainder is
// never left smaller than one header.
func (b *BlockBucket) shrink() error {
	last, ok := b.free.last()
	if !ok || last.end() != b.fileSize {
		return nil
	}
	inc := b.opts.resizeIncrement
	span := blockHeaderSize + last.size
	if span <= inc {
		return nil
	}
	cut := span / inc * inc
	if rem := span - cut; rem != 0 && rem < blockHeaderSize {
		cut -= inc
	}
	if cut <= 0 {
		return nil
	}

	b.free.remove(last)
	if cut == span {
		if err := b.file.Truncate(last.off); err != nil {
			return b.fail(err)
		}
		b.fileSize = last.off
		return nil
	}
	last.size = span - cut - blockHeaderSize
	if err := writeBlockHeader(b.file, last.off, false, last.size); err != nil {
		return b.fail(err)
	}
	if err := b.file.Truncate(last.end()); err != nil {
		return b.fail(err)
	}
	b.free.insert(last)
	b.fileSize = last.end()
	return nil
}

// DeleteByLocator removes every object with the given locator and
// returns how many were removed.
func (b *BlockBucket) DeleteByLocator(locator string) (int, error) {
	start := time.Now()
	removed, err := b.deleteByLocator(locator)
	b.opts.metrics.RecordDelete(time.Since(start), removed, err)
	return removed, err
}

func (b *BlockBucket) deleteByLocator(locator string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.guard(); err != nil {
		return 0, err
	}
	blocks := append([]*fileBlock(nil), b.byLoc[locator]...)
	for i, blk := range blocks {
		if err := b.deleteBlock(blk); err != nil {
			return i, err
		}
	}
	return len(blocks), nil
}

// Count returns the number of stored objects.
func (b *BlockBucket) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Stats reports storage counters.
func (b *BlockBucket) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Count:      len(b.byID),
		FileSize:   b.fileSize,
		FreeBlocks: b.free.count(),
		FreeBytes:  b.free.payloadBytes(),
	}
}

// Close releases the file handle and the guard lock. It is idempotent.
func (b *BlockBucket) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

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

// noEOF converts a clean end of data into io.ErrUnexpectedEOF for scan
// positions where a whole block was promised.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
