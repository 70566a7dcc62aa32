package serial

import (
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/hupe1980/bucketgo/binio"
)

// Record format: [Length:4][Tag:1][Name?][Payload]
//
// Length is signed little-endian and counts the tag, the optional name
// and the payload. Zero length marks a null object; negative lengths
// never appear here (storage layers use them as deletion marks).
const (
	tagLegacy     byte = 0
	tagDefault    byte = 1
	tagName       byte = 2
	tagCachedBase byte = 3
)

// NullSize is the encoded size of a null record: the length prefix
// alone.
const NullSize = 4

// Serializable is implemented by objects the serializer can encode.
type Serializable interface {
	// SerializedSize returns the exact number of payload bytes
	// Serialize will produce for this object.
	SerializedSize(s *Serializer) int
	// Serialize writes the object's payload to out and returns the
	// number of bytes written.
	Serialize(out *binio.Output, s *Serializer) (int, error)
}

// Serializer encodes and decodes registered types as size-prefixed,
// type-tagged records. A Serializer is immutable after New and safe for
// concurrent use.
type Serializer struct {
	def    *Registration
	cached []*Registration
	byName map[string]*Registration
	byType map[reflect.Type]binding
}

// SizeOf returns the total encoded size of obj, length prefix included.
// A nil object sizes to NullSize.
func (s *Serializer) SizeOf(obj Serializable) (int, error) {
	if isNil(obj) {
		return NullSize, nil
	}
	b, ok := s.byType[reflect.TypeOf(obj)]
	if !ok {
		return 0, fmt.Errorf("serial: cannot size %T: %w", obj, ErrNotRegistered)
	}
	n := NullSize + 1 + obj.SerializedSize(s)
	if b.named {
		n += StringSize(b.reg.Name)
	}
	return n, nil
}

// Write encodes obj to out and returns the number of bytes written,
// length prefix included. The object's SerializedSize must match what
// its Serialize produces, or Write fails with ErrSizeMismatch after the
// bytes have left the buffer — storage callers treat that as a refused
// record.
func (s *Serializer) Write(out *binio.Output, obj Serializable) (int, error) {
	if isNil(obj) {
		if err := out.WriteInt32(0); err != nil {
			return 0, err
		}
		return NullSize, nil
	}
	b, ok := s.byType[reflect.TypeOf(obj)]
	if !ok {
		return 0, fmt.Errorf("serial: cannot encode %T: %w", obj, ErrNotRegistered)
	}

	payload := obj.SerializedSize(s)
	nameSize := 0
	if b.named {
		nameSize = StringSize(b.reg.Name)
	}
	content := 1 + nameSize + payload
	if payload < 0 || content > math.MaxInt32 {
		return 0, fmt.Errorf("serial: %T sizes to %d content bytes: %w", obj, content, ErrBadLength)
	}

	start := out.Position()
	if err := out.WriteInt32(int32(content)); err != nil {
		return 0, err
	}
	if err := out.WriteByte(b.tag); err != nil {
		return 0, err
	}
	if b.named {
		if _, err := WriteString(out, b.reg.Name); err != nil {
			return 0, err
		}
	}
	if _, err := obj.Serialize(out, s); err != nil {
		return 0, err
	}

	total := int(out.Position() - start)
	if total != NullSize+content {
		return 0, fmt.Errorf("serial: %T wrote %d payload bytes, declared %d: %w",
			obj, total-NullSize-1-nameSize, payload, ErrSizeMismatch)
	}
	return total, nil
}

// Read decodes one record from in. A null record decodes to (nil, nil).
// A clean end of data before the length prefix is io.EOF; running dry
// inside a record is io.ErrUnexpectedEOF.
func (s *Serializer) Read(in *binio.Input) (Serializable, error) {
	length, err := in.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("serial: record length %d: %w", length, ErrBadLength)
	}

	start := in.Position()
	tag, err := in.ReadByte()
	if err != nil {
		return nil, noEOF(err)
	}

	var reg *Registration
	switch {
	case tag == tagLegacy:
		return nil, ErrLegacySerialization
	case tag == tagDefault:
		if s.def == nil {
			return nil, fmt.Errorf("serial: record uses the default tag but no default type is registered: %w", ErrNotRegistered)
		}
		reg = s.def
	case tag == tagName:
		name, err := ReadString(in)
		if err != nil {
			return nil, noEOF(err)
		}
		r, ok := s.byName[name]
		if !ok {
			return nil, fmt.Errorf("serial: no registration for type %q: %w", name, ErrNotRegistered)
		}
		reg = r
	default:
		i := int(tag - tagCachedBase)
		if i >= len(s.cached) {
			return nil, fmt.Errorf("serial: cached type index %d out of range: %w", i, ErrBadTag)
		}
		reg = s.cached[i]
	}

	obj, err := s.reconstruct(reg, in)
	if err != nil {
		return nil, err
	}
	if consumed := in.Position() - start; consumed != int64(length) {
		return nil, fmt.Errorf("serial: record declared %d content bytes, decoded %d: %w", length, consumed, ErrBadLength)
	}
	return obj, nil
}

// reconstruct runs a registered reconstructor, converting panics and
// non-I/O failures into ReconstructError.
func (s *Serializer) reconstruct(reg *Registration, in *binio.Input) (obj Serializable, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj = nil
			err = &ReconstructError{Name: reg.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	obj, err = reg.New(in, s)
	if err != nil {
		if isEndOfData(err) {
			return nil, noEOF(err)
		}
		return nil, &ReconstructError{Name: reg.Name, Err: err}
	}
	return obj, nil
}

// ReadAs decodes one record and asserts it to T. A null record yields
// the zero value of T.
func ReadAs[T Serializable](s *Serializer, in *binio.Input) (T, error) {
	var zero T
	obj, err := s.Read(in)
	if err != nil {
		return zero, err
	}
	if obj == nil {
		return zero, nil
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("serial: decoded %T: %w", obj, ErrWrongType)
	}
	return v, nil
}

func isNil(obj Serializable) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

func isEndOfData(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

// noEOF turns a clean end of data into io.ErrUnexpectedEOF for use in
// the middle of a record, where more bytes were promised.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
