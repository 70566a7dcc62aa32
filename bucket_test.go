package bucketgo

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketgo/binio"
	"github.com/hupe1980/bucketgo/serial"
)

// cell is the bucket test object. Its fill slice tunes the encoded
// record to an exact byte size.
type cell struct {
	id   ID
	loc  string
	fill []byte
}

func (c *cell) ObjectID() ID    { return c.id }
func (c *cell) Locator() string { return c.loc }

func (c *cell) SerializedSize(*serial.Serializer) int {
	return 8 + serial.StringSize(c.loc) + 4 + len(c.fill)
}

func (c *cell) Serialize(out *binio.Output, _ *serial.Serializer) (int, error) {
	if err := out.WriteUint64(uint64(c.id)); err != nil {
		return 0, err
	}
	k, err := serial.WriteString(out, c.loc)
	if err != nil {
		return 8, err
	}
	if err := out.WriteUint32(uint32(len(c.fill))); err != nil {
		return 8 + k, err
	}
	n, err := out.Write(c.fill)
	return 8 + k + 4 + n, err
}

func decodeCell(in *binio.Input, _ *serial.Serializer) (*cell, error) {
	var c cell
	id, err := in.ReadUint64()
	if err != nil {
		return nil, err
	}
	c.id = ID(id)
	if c.loc, err = serial.ReadString(in); err != nil {
		return nil, err
	}
	k, err := in.ReadUint32()
	if err != nil {
		return nil, err
	}
	c.fill = make([]byte, k)
	if err := in.ReadFull(c.fill); err != nil {
		return nil, err
	}
	return &c, nil
}

// cellOfSize returns a cell whose full encoded record occupies exactly
// size bytes under the default tag.
func cellOfSize(t *testing.T, id ID, loc string, size int) *cell {
	t.Helper()
	base := 4 + 1 + 8 + serial.StringSize(loc) + 4
	require.GreaterOrEqual(t, size, base, "cell cannot encode below %d bytes", base)
	fill := make([]byte, size-base)
	for i := range fill {
		fill[i] = byte(uint64(id) + uint64(i))
	}
	return &cell{id: id, loc: loc, fill: fill}
}

func newTestSerializer(t *testing.T) *serial.Serializer {
	t.Helper()
	s, err := serial.New(serial.WithDefault(serial.TypeOf("cell", decodeCell)))
	require.NoError(t, err)
	return s
}

func blockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "bucket.dat")
}

func openBlock(t *testing.T, path string, optFns ...Option) *BlockBucket {
	t.Helper()
	opts := append([]Option{
		WithSerializer(newTestSerializer(t)),
		WithResizeIncrement(1024),
	}, optFns...)
	b, err := OpenBlockBucket(path, opts...)
	require.NoError(t, err)
	return b
}

func openLog(t *testing.T, path string, optFns ...Option) *LogBucket {
	t.Helper()
	opts := append([]Option{
		WithSerializer(newTestSerializer(t)),
	}, optFns...)
	b, err := OpenLogBucket(path, opts...)
	require.NoError(t, err)
	return b
}

// drain walks the cursor to exhaustion and returns the visited ids.
func drain(t *testing.T, c Cursor) []ID {
	t.Helper()
	var ids []ID
	for c.Next() {
		ids = append(ids, c.Object().ObjectID())
	}
	require.NoError(t, c.Err())
	require.NoError(t, c.Close())
	return ids
}

// memFile is an in-memory storageFile for tests below the bucket
// layer.
type memFile struct {
	data []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if need := off + int64(len(p)); need > int64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[off:], p), nil
}

func (f *memFile) Truncate(size int64) error {
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }

// failingFile wraps a storageFile and fails WriteAt from the failAt-th
// call on, or only that call when oneShot is set.
type failingFile struct {
	storageFile
	err     error
	failAt  int
	oneShot bool
	calls   int
}

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	f.calls++
	if f.calls == f.failAt || (!f.oneShot && f.calls > f.failAt) {
		return 0, f.err
	}
	return f.storageFile.WriteAt(p, off)
}
