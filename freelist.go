package bucketgo

import (
	"github.com/google/btree"
)

// freeList tracks free blocks in file-offset order for first-fit
// allocation with immediate coalescing of adjacent free blocks.
type freeList struct {
	tree    *btree.BTreeG[*fileBlock]
	payload int64
}

func newFreeList() *freeList {
	return &freeList{tree: btree.NewG(32, blockLess)}
}

func (fl *freeList) count() int {
	return fl.tree.Len()
}

// payloadBytes is the payload capacity summed over all free blocks.
func (fl *freeList) payloadBytes() int64 {
	return fl.payload
}

// insert adds b without coalescing. Use it for blocks whose neighbors
// are known to be occupied, such as split remainders.
func (fl *freeList) insert(b *fileBlock) {
	fl.tree.ReplaceOrInsert(b)
	fl.payload += b.size
}

func (fl *freeList) remove(b *fileBlock) {
	if _, ok := fl.tree.Delete(b); ok {
		fl.payload -= b.size
	}
}

// last returns the free block at the highest offset.
func (fl *freeList) last() (*fileBlock, bool) {
	return fl.tree.Max()
}

// takeFirstFit removes and returns the lowest-offset free block that
// can host size payload bytes: either exactly, or with enough slack
// left over to carve a valid remainder block. It returns nil when no
// block qualifies.
func (fl *freeList) takeFirstFit(size int64) *fileBlock {
	var found *fileBlock
	fl.tree.Ascend(func(it *fileBlock) bool {
		if it.size == size || it.size >= size+blockHeaderSize {
			found = it
			return false
		}
		return true
	})
	if found != nil {
		fl.remove(found)
	}
	return found
}

// add returns b to the free list, merging it with exact-adjacent free
// neighbors. Each merge subsumes one entry and rewrites one header.
// markFree rewrites b's own header first; pass false when the header on
// disk is already free. Any error leaves memory and disk out of step,
// so callers must disable the bucket on failure.
func (fl *freeList) add(f storageFile, b *fileBlock, markFree bool) error {
	b.id = 0
	b.locator = ""
	if markFree {
		if err := writeBlockHeader(f, b.off, false, b.size); err != nil {
			return err
		}
	}

	var left *fileBlock
	fl.tree.DescendLessOrEqual(&fileBlock{off: b.off}, func(it *fileBlock) bool {
		left = it
		return false
	})
	if left != nil && left.end() == b.off {
		fl.remove(left)
		left.size += blockHeaderSize + b.size
		if err := writeBlockHeader(f, left.off, false, left.size); err != nil {
			return err
		}
		b = left
	}

	var right *fileBlock
	fl.tree.AscendGreaterOrEqual(&fileBlock{off: b.end()}, func(it *fileBlock) bool {
		right = it
		return false
	})
	if right != nil && b.end() == right.off {
		fl.remove(right)
		b.size += blockHeaderSize + right.size
		if err := writeBlockHeader(f, b.off, false, b.size); err != nil {
			return err
		}
	}

	fl.insert(b)
	return nil
}
