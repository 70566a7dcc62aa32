package binio

import (
	"encoding/binary"
	"io"
	"math"
)

// DefaultBufferSize is the window size used when a constructor receives
// a non-positive buffer size.
const DefaultBufferSize = 4096

// Input is a buffered read window over a backing source. The zero value
// is not usable; construct one with NewInput, NewChannelInput,
// NewFileInput or OpenMappedInput.
type Input struct {
	buf []byte
	r   int
	w   int
	pos int64

	// fill reads more bytes into p. Nil marks a fixed window whose
	// backing is fully present in buf.
	fill func(p []byte) (int, error)
	// seek advances the backing by up to n bytes without reading and
	// reports how far it got. Nil when the backing cannot reposition.
	seek func(n int64) (int64, error)

	closer io.Closer
}

// NewInput returns an Input reading from data. The window is the data
// itself; no copying or refilling takes place.
func NewInput(data []byte) *Input {
	return &Input{buf: data, w: len(data)}
}

// NewChannelInput returns an Input streaming from r through a window of
// bufSize bytes. Reads block until the backing delivers enough data; a
// backing that ends mid-value yields io.ErrUnexpectedEOF.
func NewChannelInput(r io.Reader, bufSize int) *Input {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Input{buf: make([]byte, bufSize), fill: r.Read}
}

// NewFileInput returns an Input over the n bytes of src starting at
// absolute offset off. Every physical read carries its own offset, so
// any number of inputs can share one descriptor. Skipping repositions
// without reading.
func NewFileInput(src io.ReaderAt, off, n int64, bufSize int) *Input {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	cur, rem := off, n
	return &Input{
		buf: make([]byte, bufSize),
		fill: func(p []byte) (int, error) {
			if rem <= 0 {
				return 0, io.EOF
			}
			if int64(len(p)) > rem {
				p = p[:rem]
			}
			k, err := src.ReadAt(p, cur)
			cur += int64(k)
			rem -= int64(k)
			if k > 0 && err == io.EOF {
				err = nil
			}
			return k, err
		},
		seek: func(n int64) (int64, error) {
			if n > rem {
				n = rem
			}
			cur += n
			rem -= n
			return n, nil
		},
	}
}

// window guarantees at least min unread bytes in buf[r:w], compacting
// the unread tail and refilling from the backing as needed. A clean end
// of data with an empty window is io.EOF; running dry mid-request is
// io.ErrUnexpectedEOF.
func (in *Input) window(min int) error {
	if in.w-in.r >= min {
		return nil
	}
	if in.fill == nil {
		if in.w == in.r {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}
	if in.r > 0 {
		copy(in.buf, in.buf[in.r:in.w])
		in.w -= in.r
		in.r = 0
	}
	if min > len(in.buf) {
		grown := make([]byte, nextSize(len(in.buf), min))
		copy(grown, in.buf[:in.w])
		in.buf = grown
	}
	for in.w-in.r < min {
		k, err := in.fill(in.buf[in.w:])
		in.w += k
		if err != nil {
			if err == io.EOF {
				if in.w == in.r {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

func (in *Input) advance(n int) {
	in.r += n
	in.pos += int64(n)
}

// Position returns the number of bytes consumed since construction.
func (in *Input) Position() int64 {
	return in.pos
}

// Peek returns the next n bytes without consuming them. The returned
// slice aliases the window and is valid only until the next read or
// skip.
func (in *Input) Peek(n int) ([]byte, error) {
	if err := in.window(n); err != nil {
		return nil, err
	}
	return in.buf[in.r : in.r+n], nil
}

// Skip advances the read position by up to n bytes, clamped to the data
// available, and returns how far it advanced. Backings that can
// reposition do so without reading.
func (in *Input) Skip(n int64) (int64, error) {
	var skipped int64
	if avail := int64(in.w - in.r); avail > 0 && n > 0 {
		k := min(avail, n)
		in.advance(int(k))
		skipped = k
	}
	for skipped < n {
		if in.seek != nil {
			k, err := in.seek(n - skipped)
			in.pos += k
			skipped += k
			return skipped, err
		}
		if err := in.window(1); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return skipped, nil
			}
			return skipped, err
		}
		k := min(int64(in.w-in.r), n-skipped)
		in.advance(int(k))
		skipped += k
	}
	return skipped, nil
}

// Read implements io.Reader.
func (in *Input) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := in.window(1); err != nil {
		return 0, err
	}
	n := copy(p, in.buf[in.r:in.w])
	in.advance(n)
	return n, nil
}

// ReadFull fills p completely or fails. An end of data after the first
// byte reports io.ErrUnexpectedEOF.
func (in *Input) ReadFull(p []byte) error {
	copied := 0
	for copied < len(p) {
		if err := in.window(1); err != nil {
			if err == io.EOF && copied > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		k := copy(p[copied:], in.buf[in.r:in.w])
		in.advance(k)
		copied += k
	}
	return nil
}

// ReadByte implements io.ByteReader.
func (in *Input) ReadByte() (byte, error) {
	if err := in.window(1); err != nil {
		return 0, err
	}
	b := in.buf[in.r]
	in.advance(1)
	return b, nil
}

// ReadBool reads one byte and reports whether it is non-zero.
func (in *Input) ReadBool() (bool, error) {
	b, err := in.ReadByte()
	return b != 0, err
}

// ReadUint16 reads a little-endian 16-bit unsigned integer.
func (in *Input) ReadUint16() (uint16, error) {
	if err := in.window(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(in.buf[in.r:])
	in.advance(2)
	return v, nil
}

// ReadUint32 reads a little-endian 32-bit unsigned integer.
func (in *Input) ReadUint32() (uint32, error) {
	if err := in.window(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(in.buf[in.r:])
	in.advance(4)
	return v, nil
}

// ReadUint64 reads a little-endian 64-bit unsigned integer.
func (in *Input) ReadUint64() (uint64, error) {
	if err := in.window(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(in.buf[in.r:])
	in.advance(8)
	return v, nil
}

// ReadInt16 reads a little-endian 16-bit signed integer.
func (in *Input) ReadInt16() (int16, error) {
	v, err := in.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a little-endian 32-bit signed integer.
func (in *Input) ReadInt32() (int32, error) {
	v, err := in.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads a little-endian 64-bit signed integer.
func (in *Input) ReadInt64() (int64, error) {
	v, err := in.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a little-endian IEEE 754 single-precision float.
func (in *Input) ReadFloat32() (float32, error) {
	v, err := in.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a little-endian IEEE 754 double-precision float.
func (in *Input) ReadFloat64() (float64, error) {
	v, err := in.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadUint16s fills dst with little-endian 16-bit unsigned integers.
func (in *Input) ReadUint16s(dst []uint16) error {
	for i := range dst {
		v, err := in.ReadUint16()
		if err != nil {
			if err == io.EOF && i > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		dst[i] = v
	}
	return nil
}

// ReadFloat32s fills dst with little-endian single-precision floats.
func (in *Input) ReadFloat32s(dst []float32) error {
	for i := range dst {
		v, err := in.ReadFloat32()
		if err != nil {
			if err == io.EOF && i > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		dst[i] = v
	}
	return nil
}

// Close releases resources held by the backing, if any. It is a no-op
// for plain in-memory, stream and file inputs and is idempotent.
func (in *Input) Close() error {
	if in.closer == nil {
		return nil
	}
	c := in.closer
	in.closer = nil
	return c.Close()
}

func nextSize(cur, need int) int {
	n := cur
	if n < 64 {
		n = 64
	}
	for n < need {
		n *= 2
	}
	return n
}
