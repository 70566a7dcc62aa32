package bucketgo

import (
	"encoding/binary"
	"fmt"
)

// Block format: [Occupied:1][PayloadSize:8][Payload]
//
// Blocks tile the storage file exactly: the first header sits at offset
// zero, each block ends where the next begins, and the last ends at
// EOF. PayloadSize is little-endian and never negative.
const (
	blockHeaderSize = 9

	blockFree     byte = 0
	blockOccupied byte = 1
)

// fileBlock describes one block of a storage file. id and locator are
// meaningful only while the block is occupied.
type fileBlock struct {
	off     int64
	size    int64
	id      ID
	locator string
}

// end returns the offset just past the block's payload.
func (b *fileBlock) end() int64 {
	return b.off + blockHeaderSize + b.size
}

// blockLess orders blocks by file offset.
func blockLess(a, b *fileBlock) bool {
	return a.off < b.off
}

// writeBlockHeader (re)writes the 9-byte header at off. Header writes
// are the atomic unit of structural change.
func writeBlockHeader(f storageFile, off int64, occupied bool, size int64) error {
	var buf [blockHeaderSize]byte
	if occupied {
		buf[0] = blockOccupied
	}
	binary.LittleEndian.PutUint64(buf[1:], uint64(size))
	if _, err := f.WriteAt(buf[:], off); err != nil {
		return fmt.Errorf("failed to write block header at offset %d: %w", off, err)
	}
	return nil
}
