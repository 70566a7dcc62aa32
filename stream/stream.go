package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/bucketgo/binio"
	"github.com/hupe1980/bucketgo/serial"
)

// CompressionType selects the algorithm applied to the record payload.
type CompressionType uint8

const (
	// CompressionNone stores records uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 applies LZ4 block compression (fast).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD applies ZSTD block compression (better ratio).
	CompressionZSTD CompressionType = 2
)

func (c CompressionType) valid() bool {
	return c <= CompressionZSTD
}

var (
	// ErrClosed is returned when writing to a closed stream.
	ErrClosed = errors.New("stream: closed")
	// ErrNilObject is returned when writing a nil object; the null
	// record is reserved as the stream terminator.
	ErrNilObject = errors.New("stream: nil object")
	// ErrNoSerializer is returned when no serializer is supplied.
	ErrNoSerializer = errors.New("stream: a serializer is required")
	// ErrInvalidHeader is returned when the stream header is malformed.
	ErrInvalidHeader = errors.New("stream: invalid header")
	// ErrUnknownCompression is returned for an unrecognized compression
	// byte.
	ErrUnknownCompression = errors.New("stream: unknown compression")
)

var (
	streamMagic   = [4]byte{'B', 'G', 'S', '0'}
	streamVersion = byte(1)
)

const (
	streamHeaderLen = 6 // magic + version + compression

	// frameHeaderSize frames one compressed block:
	// [RawSize:4][CompressedSize:4][Data]. A zero compressed size
	// marks a block stored raw.
	frameHeaderSize = 8

	defaultBlockSize = 256 * 1024
)

type options struct {
	compression CompressionType
	bufferSize  int
}

// Option configures a stream writer.
type Option func(*options)

// WithCompression sets the payload compression. The default is
// CompressionNone; readers pick the algorithm up from the header.
func WithCompression(c CompressionType) Option {
	return func(o *options) {
		o.compression = c
	}
}

func writeHeader(w io.Writer, c CompressionType) error {
	buf := make([]byte, 0, streamHeaderLen)
	buf = append(buf, streamMagic[:]...)
	buf = append(buf, streamVersion, byte(c))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write stream header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (CompressionType, error) {
	var hdr [streamHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	var magic [4]byte
	copy(magic[:], hdr[:4])
	if magic != streamMagic {
		return 0, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	if hdr[4] != streamVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, hdr[4])
	}
	c := CompressionType(hdr[5])
	if !c.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCompression, hdr[5])
	}
	return c, nil
}

// Writer emits a stream of serialized objects: a header, the records,
// and a null record as terminator. The caller owns the underlying
// writer; Close finishes the stream but does not close it.
type Writer struct {
	ser    *serial.Serializer
	out    *binio.Output
	blocks *blockWriter
	closed bool
}

// NewWriter starts a stream on w. The header is written immediately.
func NewWriter(w io.Writer, s *serial.Serializer, optFns ...Option) (*Writer, error) {
	opts := options{
		compression: CompressionNone,
		bufferSize:  binio.DefaultBufferSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if s == nil {
		return nil, ErrNoSerializer
	}
	if !opts.compression.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, opts.compression)
	}

	if err := writeHeader(w, opts.compression); err != nil {
		return nil, err
	}

	sw := &Writer{ser: s}
	if opts.compression == CompressionNone {
		sw.out = binio.NewChannelOutput(w, opts.bufferSize)
	} else {
		sw.blocks = newBlockWriter(w, opts.compression, defaultBlockSize)
		sw.out = binio.NewChannelOutput(sw.blocks, opts.bufferSize)
	}
	return sw, nil
}

// Write appends one object to the stream.
func (w *Writer) Write(obj serial.Serializable) error {
	if w.closed {
		return ErrClosed
	}
	size, err := w.ser.SizeOf(obj)
	if err != nil {
		return err
	}
	if size == serial.NullSize {
		return ErrNilObject
	}
	_, err = w.ser.Write(w.out, obj)
	return err
}

// Flush forces buffered records out, ending the current compression
// block if one is open.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.blocks != nil {
		return w.blocks.Flush()
	}
	return nil
}

// Close writes the terminator and flushes. It is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.out.WriteUint32(0); err != nil {
		return err
	}
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.blocks != nil {
		return w.blocks.Flush()
	}
	return nil
}

// Reader decodes a stream written by Writer. The compression algorithm
// is taken from the header.
type Reader struct {
	ser  *serial.Serializer
	in   *binio.Input
	done bool
}

// NewReader opens a stream on r, validating its header.
func NewReader(r io.Reader, s *serial.Serializer) (*Reader, error) {
	if s == nil {
		return nil, ErrNoSerializer
	}
	compression, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	src := r
	if compression != CompressionNone {
		src = &blockReader{r: r, compression: compression}
	}
	return &Reader{ser: s, in: binio.NewChannelInput(src, binio.DefaultBufferSize)}, nil
}

// Next returns the next object, or io.EOF after the terminator. A
// stream that ends without one is truncated and yields
// io.ErrUnexpectedEOF.
func (r *Reader) Next() (serial.Serializable, error) {
	if r.done {
		return nil, io.EOF
	}
	sv, err := r.ser.Read(r.in)
	if err != nil {
		r.done = true
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if sv == nil {
		r.done = true
		return nil, io.EOF
	}
	return sv, nil
}

// Close stops the reader. It is idempotent and leaves the underlying
// reader open.
func (r *Reader) Close() error {
	r.done = true
	return r.in.Close()
}

// ZSTD coder pools, shared across streams.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// blockWriter buffers the record stream and emits it as framed,
// compressed blocks.
type blockWriter struct {
	w           io.Writer
	compression CompressionType
	blockSize   int
	buf         []byte
}

func newBlockWriter(w io.Writer, compression CompressionType, blockSize int) *blockWriter {
	return &blockWriter{
		w:           w,
		compression: compression,
		blockSize:   blockSize,
		buf:         make([]byte, 0, blockSize),
	}
}

func (bw *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(bw.buf) >= bw.blockSize {
			if err := bw.Flush(); err != nil {
				return total, err
			}
		}
		n := bw.blockSize - len(bw.buf)
		if n > len(p) {
			n = len(p)
		}
		bw.buf = append(bw.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the buffered block, if any.
func (bw *blockWriter) Flush() error {
	if len(bw.buf) == 0 {
		return nil
	}
	frame, err := compressBlock(bw.buf, bw.compression)
	if err != nil {
		return err
	}
	if _, err := bw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	bw.buf = bw.buf[:0]
	return nil
}

// compressBlock frames data as one block. Blocks that compression does
// not help (ratio above 0.9) are stored raw with a zero compressed
// size.
func compressBlock(data []byte, compression CompressionType) ([]byte, error) {
	var compressed []byte
	switch compression {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compress block: %w", err)
		}
		if n > 0 {
			compressed = dst[:n]
		}
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, compression)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		frame := make([]byte, frameHeaderSize+len(data))
		binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(frame[4:], 0)
		copy(frame[frameHeaderSize:], data)
		return frame, nil
	}

	frame := make([]byte, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(compressed)))
	copy(frame[frameHeaderSize:], compressed)
	return frame, nil
}

// blockReader decompresses framed blocks back into the record stream.
type blockReader struct {
	r           io.Reader
	compression CompressionType
	block       []byte
	pos         int
}

func (br *blockReader) Read(p []byte) (int, error) {
	for br.pos >= len(br.block) {
		if err := br.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, br.block[br.pos:])
	br.pos += n
	return n, nil
}

func (br *blockReader) fill() error {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	rawSize := binary.LittleEndian.Uint32(hdr[0:])
	compSize := binary.LittleEndian.Uint32(hdr[4:])

	if compSize == 0 {
		block := make([]byte, rawSize)
		if _, err := io.ReadFull(br.r, block); err != nil {
			return io.ErrUnexpectedEOF
		}
		br.block, br.pos = block, 0
		return nil
	}

	compressed := make([]byte, compSize)
	if _, err := io.ReadFull(br.r, compressed); err != nil {
		return io.ErrUnexpectedEOF
	}

	switch br.compression {
	case CompressionLZ4:
		block := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(compressed, block)
		if err != nil {
			return fmt.Errorf("failed to decompress block: %w", err)
		}
		if uint32(n) != rawSize {
			return fmt.Errorf("decompressed %d bytes, block declares %d", n, rawSize)
		}
		br.block = block
	case CompressionZSTD:
		dec := getZstdDecoder()
		block, err := dec.DecodeAll(compressed, make([]byte, 0, rawSize))
		putZstdDecoder(dec)
		if err != nil {
			return fmt.Errorf("failed to decompress block: %w", err)
		}
		if uint32(len(block)) != rawSize {
			return fmt.Errorf("decompressed %d bytes, block declares %d", len(block), rawSize)
		}
		br.block = block
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCompression, br.compression)
	}
	br.pos = 0
	return nil
}
