package bucketgo

// blockCursor steps through occupied blocks without holding references
// between steps. Each Next re-enters the bucket under its read lock and
// resolves the next block fresh, so stores and deletes from other
// goroutines never strand the cursor on stale state.
type blockCursor struct {
	b       *BlockBucket
	advance func() (*fileBlock, bool)

	cur    Object
	curID  ID
	live   bool
	closed bool
	err    error
}

var _ Cursor = (*blockCursor)(nil)

// Cursor returns a cursor over all objects in ascending file order.
func (b *BlockBucket) Cursor() Cursor {
	lastOff := int64(-1)
	return &blockCursor{
		b: b,
		advance: func() (*fileBlock, bool) {
			var found *fileBlock
			b.occupied.AscendGreaterOrEqual(&fileBlock{off: lastOff + 1}, func(blk *fileBlock) bool {
				found = blk
				return false
			})
			if found == nil {
				return nil, false
			}
			lastOff = found.off
			return found, true
		},
	}
}

// CursorByIDs returns a cursor visiting the given identities in
// argument order. Identities not present are skipped.
func (b *BlockBucket) CursorByIDs(ids ...ID) Cursor {
	next := 0
	return &blockCursor{
		b: b,
		advance: func() (*fileBlock, bool) {
			for next < len(ids) {
				blk, ok := b.byID[ids[next]]
				next++
				if ok {
					return blk, true
				}
			}
			return nil, false
		},
	}
}

// CursorByLocators returns a cursor visiting every object carrying the
// given locators, locators in argument order and objects per locator in
// ascending file order. Locators not present are skipped.
func (b *BlockBucket) CursorByLocators(locators ...string) Cursor {
	next, lastOff := 0, int64(-1)
	return &blockCursor{
		b: b,
		advance: func() (*fileBlock, bool) {
			for next < len(locators) {
				var best *fileBlock
				for _, blk := range b.byLoc[locators[next]] {
					if blk.off > lastOff && (best == nil || blk.off < best.off) {
						best = blk
					}
				}
				if best != nil {
					lastOff = best.off
					return best, true
				}
				next++
				lastOff = -1
			}
			return nil, false
		},
	}
}

// Next advances to the next object and reports whether one is current.
func (c *blockCursor) Next() bool {
	c.cur = nil
	c.live = false
	if c.closed || c.err != nil {
		return false
	}

	c.b.mu.RLock()
	defer c.b.mu.RUnlock()

	if err := c.b.guard(); err != nil {
		c.err = err
		return false
	}
	blk, ok := c.advance()
	if !ok {
		return false
	}
	obj, err := c.b.readBlock(blk)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = obj
	c.curID = blk.id
	c.live = true
	return true
}

// Object returns the current object. It panics if called before a
// successful Next or after Remove.
func (c *blockCursor) Object() Object {
	if !c.live {
		panic("bucketgo: cursor has no current object")
	}
	return c.cur
}

// Remove deletes the current object from the bucket. It panics if no
// object is current.
func (c *blockCursor) Remove() error {
	if !c.live {
		panic("bucketgo: cursor has no current object")
	}
	id := c.curID
	c.cur = nil
	c.live = false
	return c.b.Delete(id)
}

// Err returns the error that stopped iteration, if any.
func (c *blockCursor) Err() error {
	return c.err
}

// Close releases the cursor. It is idempotent.
func (c *blockCursor) Close() error {
	c.closed = true
	c.cur = nil
	c.live = false
	return nil
}
