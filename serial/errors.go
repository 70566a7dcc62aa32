package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered is returned when encoding or decoding meets a type
	// the serializer has no registration for.
	ErrNotRegistered = errors.New("serial: type not registered")

	// ErrWrongType is returned by ReadAs when the decoded object does not
	// have the requested type.
	ErrWrongType = errors.New("serial: unexpected object type")

	// ErrBadTag is returned when a record carries an unknown type tag or
	// a cached type index outside the registered list.
	ErrBadTag = errors.New("serial: unknown type tag")

	// ErrBadLength is returned when a record's declared length is
	// negative, implausible, or disagrees with the bytes actually
	// decoded.
	ErrBadLength = errors.New("serial: invalid record length")

	// ErrSizeMismatch is returned when an object writes a different
	// number of bytes than its SerializedSize declared.
	ErrSizeMismatch = errors.New("serial: declared size does not match bytes written")

	// ErrLegacySerialization is returned when a record carries the
	// opaque legacy encoding tag, which this serializer does not accept.
	ErrLegacySerialization = errors.New("serial: legacy opaque encoding is not supported")
)

// ReconstructError wraps a failure inside a registered reconstructor,
// including a recovered panic. End-of-data errors from the input pass
// through untouched; everything else a reconstructor produces arrives
// wrapped in one of these.
type ReconstructError struct {
	// Name is the registered name of the type being decoded.
	Name string
	// Err is the underlying failure.
	Err error
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("serial: reconstruct %s: %v", e.Name, e.Err)
}

func (e *ReconstructError) Unwrap() error {
	return e.Err
}
