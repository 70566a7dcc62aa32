package bucketgo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// logCursor walks the log forward, skipping tombstones. Each step
// re-checks the bucket's compaction generation; a mismatch means the
// record offsets this cursor navigates by no longer exist, so the step
// fails with ErrCursorInvalidated and the caller must open a fresh
// cursor. Cursors unregister themselves on exhaustion, error, or Close.
type logCursor struct {
	b   *LogBucket
	gen uint64
	off int64

	cur    Object
	curID  ID
	live   bool
	closed bool
	err    error
}

var _ Cursor = (*logCursor)(nil)

// Cursor returns a cursor over all objects in append order.
func (b *LogBucket) Cursor() Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &logCursor{b: b, gen: b.gen}
	if !b.closed {
		b.cursors[c] = struct{}{}
	}
	return c
}

func (b *LogBucket) unregister(c *logCursor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, c)
}

// Next advances to the next live record and reports whether one is
// current.
func (c *logCursor) Next() bool {
	c.cur = nil
	c.live = false
	if c.closed || c.err != nil {
		return false
	}

	ok, err := c.step()
	if err != nil {
		c.err = err
	}
	if !ok {
		c.b.unregister(c)
	}
	return ok
}

func (c *logCursor) step() (bool, error) {
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()

	if err := c.b.guard(); err != nil {
		return false, err
	}
	if c.gen != c.b.gen {
		return false, ErrCursorInvalidated
	}

	for c.off < c.b.size {
		var p [recordPrefixSize]byte
		// A full read at exact end of file may legally carry io.EOF.
		rn, err := c.b.file.ReadAt(p[:], c.off)
		if rn < recordPrefixSize {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return false, fmt.Errorf("failed to read record prefix at offset %d: %w", c.off, noEOF(err))
		}
		length := int32(binary.LittleEndian.Uint32(p[:]))

		switch {
		case length == 0:
			return false, invalidStorage(c.off, errors.New("zero-length record"))
		case length < 0:
			span := recordPrefixSize - int64(length)
			if c.off+span > c.b.size {
				return false, invalidStorage(c.off, fmt.Errorf("tombstone of %d bytes overruns the file", span))
			}
			c.off += span
		default:
			rec := &logRecord{off: c.off, span: recordPrefixSize + int64(length)}
			if c.off+rec.span > c.b.size {
				return false, invalidStorage(c.off, fmt.Errorf("record of %d bytes overruns the file", rec.span))
			}
			obj, err := c.b.readRecord(rec)
			if err != nil {
				return false, err
			}
			c.cur = obj
			c.curID = obj.ObjectID()
			c.live = true
			c.off += rec.span
			return true, nil
		}
	}
	return false, nil
}

// Object returns the current object. It panics if called before a
// successful Next or after Remove.
func (c *logCursor) Object() Object {
	if !c.live {
		panic("bucketgo: cursor has no current object")
	}
	return c.cur
}

// Remove tombstones the current object. It panics if no object is
// current. A removal that pushes dead bytes over the compaction
// threshold compacts the log, which invalidates this cursor too; its
// next step reports ErrCursorInvalidated.
func (c *logCursor) Remove() error {
	if !c.live {
		panic("bucketgo: cursor has no current object")
	}
	id := c.curID
	c.cur = nil
	c.live = false
	return c.b.Delete(id)
}

// Err returns the error that stopped iteration, if any.
func (c *logCursor) Err() error {
	return c.err
}

// Close releases the cursor. It is idempotent.
func (c *logCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cur = nil
	c.live = false
	c.b.unregister(c)
	return nil
}
