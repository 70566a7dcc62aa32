package binio

import (
	"encoding/binary"
	"io"
	"math"
)

// Output is a buffered write window over a backing sink. The zero value
// is not usable; construct one with NewOutput, NewChannelOutput or
// NewFileOutput.
type Output struct {
	buf []byte
	n   int
	pos int64

	// flush drains a full buffer into the backing. Nil marks an
	// in-memory sink that grows instead of draining.
	flush func(p []byte) error
}

// NewOutput returns an in-memory Output with the given initial capacity.
// The accumulated bytes are available through Bytes.
func NewOutput(initial int) *Output {
	if initial <= 0 {
		initial = 64
	}
	return &Output{buf: make([]byte, initial)}
}

// NewChannelOutput returns an Output streaming into w through a window
// of bufSize bytes. Call Flush to push buffered bytes down.
func NewChannelOutput(w io.Writer, bufSize int) *Output {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Output{
		buf: make([]byte, bufSize),
		flush: func(p []byte) error {
			_, err := w.Write(p)
			return err
		},
	}
}

// NewFileOutput returns an Output writing to dst starting at absolute
// offset off. Every physical write carries its own offset, so any
// number of outputs can share one descriptor. Call Flush to push
// buffered bytes down.
func NewFileOutput(dst io.WriterAt, off int64, bufSize int) *Output {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	cur := off
	return &Output{
		buf: make([]byte, bufSize),
		flush: func(p []byte) error {
			k, err := dst.WriteAt(p, cur)
			cur += int64(k)
			return err
		},
	}
}

// reserve guarantees room for need more bytes in the buffer, draining
// to the backing or growing as required.
func (o *Output) reserve(need int) error {
	if len(o.buf)-o.n >= need {
		return nil
	}
	if o.flush != nil {
		if err := o.drain(); err != nil {
			return err
		}
		if len(o.buf) >= need {
			return nil
		}
	}
	grown := make([]byte, nextSize(len(o.buf), o.n+need))
	copy(grown, o.buf[:o.n])
	o.buf = grown
	return nil
}

func (o *Output) drain() error {
	if o.n == 0 {
		return nil
	}
	if err := o.flush(o.buf[:o.n]); err != nil {
		return err
	}
	o.n = 0
	return nil
}

// Position returns the number of bytes written since construction,
// including bytes still buffered.
func (o *Output) Position() int64 {
	return o.pos
}

// Bytes returns the accumulated bytes of an in-memory Output. For
// stream and file outputs it only exposes what is still buffered.
func (o *Output) Bytes() []byte {
	return o.buf[:o.n]
}

// Flush drains buffered bytes into the backing. It is a no-op for
// in-memory outputs.
func (o *Output) Flush() error {
	if o.flush == nil {
		return nil
	}
	return o.drain()
}

// Write implements io.Writer. Writes at least as large as the window
// bypass it and go straight to the backing.
func (o *Output) Write(p []byte) (int, error) {
	if o.flush != nil && len(p) >= len(o.buf) {
		if err := o.drain(); err != nil {
			return 0, err
		}
		if err := o.flush(p); err != nil {
			return 0, err
		}
		o.pos += int64(len(p))
		return len(p), nil
	}
	if err := o.reserve(len(p)); err != nil {
		return 0, err
	}
	copy(o.buf[o.n:], p)
	o.n += len(p)
	o.pos += int64(len(p))
	return len(p), nil
}

// WriteByte implements io.ByteWriter.
func (o *Output) WriteByte(b byte) error {
	if err := o.reserve(1); err != nil {
		return err
	}
	o.buf[o.n] = b
	o.n++
	o.pos++
	return nil
}

// WriteBool writes one byte, 1 for true and 0 for false.
func (o *Output) WriteBool(v bool) error {
	if v {
		return o.WriteByte(1)
	}
	return o.WriteByte(0)
}

// WriteUint16 writes a little-endian 16-bit unsigned integer.
func (o *Output) WriteUint16(v uint16) error {
	if err := o.reserve(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(o.buf[o.n:], v)
	o.n += 2
	o.pos += 2
	return nil
}

// WriteUint32 writes a little-endian 32-bit unsigned integer.
func (o *Output) WriteUint32(v uint32) error {
	if err := o.reserve(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(o.buf[o.n:], v)
	o.n += 4
	o.pos += 4
	return nil
}

// WriteUint64 writes a little-endian 64-bit unsigned integer.
func (o *Output) WriteUint64(v uint64) error {
	if err := o.reserve(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(o.buf[o.n:], v)
	o.n += 8
	o.pos += 8
	return nil
}

// WriteInt16 writes a little-endian 16-bit signed integer.
func (o *Output) WriteInt16(v int16) error {
	return o.WriteUint16(uint16(v))
}

// WriteInt32 writes a little-endian 32-bit signed integer.
func (o *Output) WriteInt32(v int32) error {
	return o.WriteUint32(uint32(v))
}

// WriteInt64 writes a little-endian 64-bit signed integer.
func (o *Output) WriteInt64(v int64) error {
	return o.WriteUint64(uint64(v))
}

// WriteFloat32 writes a little-endian IEEE 754 single-precision float.
func (o *Output) WriteFloat32(v float32) error {
	return o.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 writes a little-endian IEEE 754 double-precision float.
func (o *Output) WriteFloat64(v float64) error {
	return o.WriteUint64(math.Float64bits(v))
}

// WriteUint16s writes vs as consecutive little-endian 16-bit unsigned
// integers.
func (o *Output) WriteUint16s(vs []uint16) error {
	for _, v := range vs {
		if err := o.WriteUint16(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteFloat32s writes vs as consecutive little-endian single-precision
// floats.
func (o *Output) WriteFloat32s(vs []float32) error {
	for _, v := range vs {
		if err := o.WriteFloat32(v); err != nil {
			return err
		}
	}
	return nil
}
