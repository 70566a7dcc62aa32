package bucketgo

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readHeader(t *testing.T, f *memFile, off int64) (flag byte, size int64) {
	t.Helper()
	var p [blockHeaderSize]byte
	_, err := f.ReadAt(p[:], off)
	require.NoError(t, err)
	return p[0], int64(binary.LittleEndian.Uint64(p[1:]))
}

// countingFile counts WriteAt calls.
type countingFile struct {
	memFile
	writes int
}

func (f *countingFile) WriteAt(p []byte, off int64) (int, error) {
	f.writes++
	return f.memFile.WriteAt(p, off)
}

func TestTakeFirstFit(t *testing.T) {
	f := &memFile{}
	require.NoError(t, f.Truncate(600))

	fl := newFreeList()
	for _, b := range []*fileBlock{
		{off: 0, size: 50},
		{off: 100, size: 200},
		{off: 400, size: 80},
	} {
		require.NoError(t, fl.add(f, b, true))
	}
	require.Equal(t, 3, fl.count())
	require.Equal(t, int64(330), fl.payloadBytes())

	// 50 is too small to split for 60, so the scan lands on 200.
	got := fl.takeFirstFit(60)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.off)
	assert.Equal(t, int64(200), got.size)
	assert.Equal(t, 2, fl.count())
	assert.Equal(t, int64(130), fl.payloadBytes())

	// Exact match qualifies without room for a remainder header.
	got = fl.takeFirstFit(80)
	require.NotNil(t, got)
	assert.Equal(t, int64(400), got.off)

	// 50 fits 41 plus a whole remainder header.
	got = fl.takeFirstFit(41)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), got.off)

	assert.Nil(t, fl.takeFirstFit(9999))
	assert.Equal(t, 0, fl.count())
	assert.Equal(t, int64(0), fl.payloadBytes())
}

func TestTakeFirstFitSkipsNearFits(t *testing.T) {
	f := &memFile{}
	require.NoError(t, f.Truncate(200))

	fl := newFreeList()
	require.NoError(t, fl.add(f, &fileBlock{off: 0, size: 64}, true))

	// 60..64 payloads cannot host 60 plus a remainder header.
	assert.Nil(t, fl.takeFirstFit(60))
	assert.Equal(t, 1, fl.count())

	got := fl.takeFirstFit(64)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), got.off)
}

func TestCoalescing(t *testing.T) {
	const midOff, midSize = 59, 40 // leaves room for a 50-payload left neighbor

	newFile := func(t *testing.T) *memFile {
		f := &memFile{}
		require.NoError(t, f.Truncate(300))
		return f
	}
	mid := func() *fileBlock {
		return &fileBlock{off: midOff, size: midSize, id: 7, locator: "x"}
	}

	t.Run("Isolated", func(t *testing.T) {
		f := newFile(t)
		fl := newFreeList()
		require.NoError(t, fl.add(f, &fileBlock{off: 200, size: 20}, true))
		require.NoError(t, fl.add(f, mid(), true))

		assert.Equal(t, 2, fl.count())
		flag, size := readHeader(t, f, midOff)
		assert.Equal(t, byte(blockFree), flag)
		assert.Equal(t, int64(midSize), size)
	})

	t.Run("LeftNeighbor", func(t *testing.T) {
		f := newFile(t)
		fl := newFreeList()
		require.NoError(t, fl.add(f, &fileBlock{off: 0, size: 50}, true))
		require.NoError(t, fl.add(f, mid(), true))

		assert.Equal(t, 1, fl.count())
		assert.Equal(t, int64(50+blockHeaderSize+midSize), fl.payloadBytes())
		flag, size := readHeader(t, f, 0)
		assert.Equal(t, byte(blockFree), flag)
		assert.Equal(t, int64(99), size)
	})

	t.Run("RightNeighbor", func(t *testing.T) {
		f := newFile(t)
		fl := newFreeList()
		rightOff := int64(midOff + blockHeaderSize + midSize)
		require.NoError(t, fl.add(f, &fileBlock{off: rightOff, size: 30}, true))
		require.NoError(t, fl.add(f, mid(), true))

		assert.Equal(t, 1, fl.count())
		flag, size := readHeader(t, f, midOff)
		assert.Equal(t, byte(blockFree), flag)
		assert.Equal(t, int64(midSize+blockHeaderSize+30), size)
	})

	t.Run("BothNeighbors", func(t *testing.T) {
		f := newFile(t)
		fl := newFreeList()
		rightOff := int64(midOff + blockHeaderSize + midSize)
		require.NoError(t, fl.add(f, &fileBlock{off: 0, size: 50}, true))
		require.NoError(t, fl.add(f, &fileBlock{off: rightOff, size: 30}, true))
		require.NoError(t, fl.add(f, mid(), true))

		assert.Equal(t, 1, fl.count())
		want := int64(50 + blockHeaderSize + midSize + blockHeaderSize + 30)
		assert.Equal(t, want, fl.payloadBytes())
		flag, size := readHeader(t, f, 0)
		assert.Equal(t, byte(blockFree), flag)
		assert.Equal(t, want, size)
	})
}

func TestAddClearsIdentity(t *testing.T) {
	f := &memFile{}
	require.NoError(t, f.Truncate(100))

	fl := newFreeList()
	blk := &fileBlock{off: 0, size: 20, id: 42, locator: "shelf"}
	require.NoError(t, fl.add(f, blk, true))

	assert.Equal(t, ID(0), blk.id)
	assert.Empty(t, blk.locator)
}

func TestAddWithoutRewrite(t *testing.T) {
	f := &countingFile{}
	require.NoError(t, f.Truncate(100))

	// The scan path trusts headers already on disk; a non-adjacent add
	// must not touch the file.
	fl := newFreeList()
	require.NoError(t, fl.add(f, &fileBlock{off: 0, size: 20}, false))
	assert.Zero(t, f.writes)

	// Coalescing rewrites exactly one header.
	require.NoError(t, fl.add(f, &fileBlock{off: 29, size: 10}, false))
	assert.Equal(t, 1, f.writes)
	assert.Equal(t, 1, fl.count())
}

func TestLastBlock(t *testing.T) {
	fl := newFreeList()
	_, ok := fl.last()
	assert.False(t, ok)

	fl.insert(&fileBlock{off: 100, size: 10})
	fl.insert(&fileBlock{off: 0, size: 10})

	last, ok := fl.last()
	require.True(t, ok)
	assert.Equal(t, int64(100), last.off)
}
