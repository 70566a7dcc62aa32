package serial

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketgo/binio"
)

// note is the primary test type, exercising ints, strings and floats.
type note struct {
	ID    uint64
	Title string
	Score float32
}

func (n *note) SerializedSize(*Serializer) int {
	return 8 + StringSize(n.Title) + 4
}

func (n *note) Serialize(out *binio.Output, _ *Serializer) (int, error) {
	if err := out.WriteUint64(n.ID); err != nil {
		return 0, err
	}
	k, err := WriteString(out, n.Title)
	if err != nil {
		return 8, err
	}
	if err := out.WriteFloat32(n.Score); err != nil {
		return 8 + k, err
	}
	return 8 + k + 4, nil
}

func decodeNote(in *binio.Input, _ *Serializer) (*note, error) {
	var n note
	var err error
	if n.ID, err = in.ReadUint64(); err != nil {
		return nil, err
	}
	if n.Title, err = ReadString(in); err != nil {
		return nil, err
	}
	if n.Score, err = in.ReadFloat32(); err != nil {
		return nil, err
	}
	return &n, nil
}

// blob is a second registered type so tag dispatch has something to
// disambiguate.
type blob struct {
	Data []byte
}

func (b *blob) SerializedSize(*Serializer) int { return 4 + len(b.Data) }

func (b *blob) Serialize(out *binio.Output, _ *Serializer) (int, error) {
	if err := out.WriteInt32(int32(len(b.Data))); err != nil {
		return 0, err
	}
	n, err := out.Write(b.Data)
	return 4 + n, err
}

func decodeBlob(in *binio.Input, _ *Serializer) (*blob, error) {
	n, err := in.ReadInt32()
	if err != nil {
		return nil, err
	}
	b := &blob{Data: make([]byte, n)}
	if err := in.ReadFull(b.Data); err != nil {
		return nil, err
	}
	return b, nil
}

// liar declares one size and writes another.
type liar struct{}

func (l *liar) SerializedSize(*Serializer) int { return 4 }

func (l *liar) Serialize(out *binio.Output, _ *Serializer) (int, error) {
	err := out.WriteByte(0xAA)
	return 1, err
}

func newTestSerializer(t *testing.T) *Serializer {
	t.Helper()
	s, err := New(
		WithDefault(TypeOf("note", decodeNote)),
		WithCached(TypeOf("blob", decodeBlob)),
	)
	require.NoError(t, err)
	return s
}

func TestRoundTripTags(t *testing.T) {
	n := &note{ID: 42, Title: "hello, världen 🚀", Score: 0.75}

	tests := []struct {
		name  string
		build func(t *testing.T) *Serializer
	}{
		{
			"DefaultTag",
			func(t *testing.T) *Serializer {
				s, err := New(WithDefault(TypeOf("note", decodeNote)))
				require.NoError(t, err)
				return s
			},
		},
		{
			"CachedTag",
			func(t *testing.T) *Serializer {
				s, err := New(WithCached(
					TypeOf("blob", decodeBlob),
					TypeOf("note", decodeNote),
				))
				require.NoError(t, err)
				return s
			},
		},
		{
			"NamedTag",
			func(t *testing.T) *Serializer {
				s, err := New(WithTypes(TypeOf("note", decodeNote)))
				require.NoError(t, err)
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.build(t)

			size, err := s.SizeOf(n)
			require.NoError(t, err)

			out := binio.NewOutput(16)
			written, err := s.Write(out, n)
			require.NoError(t, err)
			assert.Equal(t, size, written)
			assert.Equal(t, size, len(out.Bytes()))

			in := binio.NewInput(out.Bytes())
			got, err := s.Read(in)
			require.NoError(t, err)
			assert.Equal(t, n, got)
			assert.Equal(t, int64(size), in.Position())
		})
	}
}

func TestNullRoundTrip(t *testing.T) {
	s := newTestSerializer(t)

	out := binio.NewOutput(8)
	written, err := s.Write(out, nil)
	require.NoError(t, err)
	assert.Equal(t, NullSize, written)
	assert.Equal(t, []byte{0, 0, 0, 0}, out.Bytes())

	size, err := s.SizeOf(nil)
	require.NoError(t, err)
	assert.Equal(t, NullSize, size)

	in := binio.NewInput(out.Bytes())
	got, err := s.Read(in)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(NullSize), in.Position())
}

func TestTypedNilWritesNull(t *testing.T) {
	s := newTestSerializer(t)

	out := binio.NewOutput(8)
	written, err := s.Write(out, (*note)(nil))
	require.NoError(t, err)
	assert.Equal(t, NullSize, written)
	assert.Equal(t, []byte{0, 0, 0, 0}, out.Bytes())
}

func TestTagStability(t *testing.T) {
	n := &note{ID: 7, Title: "stable", Score: -1}

	encode := func(t *testing.T) []byte {
		s := newTestSerializer(t)
		out := binio.NewOutput(16)
		_, err := s.Write(out, n)
		require.NoError(t, err)
		return append([]byte(nil), out.Bytes()...)
	}

	first := encode(t)
	second := encode(t)
	assert.Equal(t, first, second)

	// Decoding and re-encoding with an equally configured serializer
	// reproduces the bytes exactly.
	s := newTestSerializer(t)
	got, err := s.Read(binio.NewInput(first))
	require.NoError(t, err)
	out := binio.NewOutput(16)
	_, err = s.Write(out, got)
	require.NoError(t, err)
	assert.Equal(t, first, out.Bytes())
}

func TestUnregisteredType(t *testing.T) {
	s, err := New(WithDefault(TypeOf("note", decodeNote)))
	require.NoError(t, err)

	_, err = s.SizeOf(&blob{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrNotRegistered)

	out := binio.NewOutput(16)
	_, err = s.Write(out, &blob{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Empty(t, out.Bytes(), "a refused write must not emit bytes")
}

func TestUnknownNameOnRead(t *testing.T) {
	writer, err := New(WithTypes(TypeOf("note", decodeNote)))
	require.NoError(t, err)

	out := binio.NewOutput(16)
	_, err = writer.Write(out, &note{ID: 1, Title: "x"})
	require.NoError(t, err)

	reader, err := New(WithTypes(TypeOf("blob", decodeBlob)))
	require.NoError(t, err)

	_, err = reader.Read(binio.NewInput(out.Bytes()))
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestCachedIndexOutOfRange(t *testing.T) {
	writer, err := New(WithCached(
		TypeOf("blob", decodeBlob),
		TypeOf("note", decodeNote),
	))
	require.NoError(t, err)

	out := binio.NewOutput(16)
	_, err = writer.Write(out, &note{ID: 1})
	require.NoError(t, err)

	// A reader whose cached list is shorter cannot resolve index 1.
	reader, err := New(WithCached(TypeOf("blob", decodeBlob)))
	require.NoError(t, err)

	_, err = reader.Read(binio.NewInput(out.Bytes()))
	assert.ErrorIs(t, err, ErrBadTag)
}

func TestDefaultTagWithoutDefault(t *testing.T) {
	writer, err := New(WithDefault(TypeOf("note", decodeNote)))
	require.NoError(t, err)

	out := binio.NewOutput(16)
	_, err = writer.Write(out, &note{ID: 1})
	require.NoError(t, err)

	reader, err := New(WithTypes(TypeOf("note", decodeNote)))
	require.NoError(t, err)

	_, err = reader.Read(binio.NewInput(out.Bytes()))
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestLegacyTagRejected(t *testing.T) {
	s := newTestSerializer(t)

	// [Length=1][Tag=0]
	record := []byte{1, 0, 0, 0, 0}
	_, err := s.Read(binio.NewInput(record))
	assert.ErrorIs(t, err, ErrLegacySerialization)
}

func TestSizeMismatch(t *testing.T) {
	s, err := New(WithDefault(TypeOf("liar", func(in *binio.Input, _ *Serializer) (*liar, error) {
		return &liar{}, nil
	})))
	require.NoError(t, err)

	out := binio.NewOutput(16)
	_, err = s.Write(out, &liar{})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestReconstructorPanicRecovered(t *testing.T) {
	s, err := New(WithDefault(TypeOf("boom", func(in *binio.Input, _ *Serializer) (*blob, error) {
		panic("kaboom")
	})))
	require.NoError(t, err)

	// [Length=1][Tag=default]
	record := []byte{1, 0, 0, 0, tagDefault}
	_, err = s.Read(binio.NewInput(record))

	var re *ReconstructError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "boom", re.Name)
	assert.Contains(t, re.Error(), "kaboom")
}

func TestReconstructorErrorWrapped(t *testing.T) {
	cause := errors.New("field out of range")
	s, err := New(WithDefault(TypeOf("bad", func(in *binio.Input, _ *Serializer) (*blob, error) {
		return nil, cause
	})))
	require.NoError(t, err)

	record := []byte{1, 0, 0, 0, tagDefault}
	_, err = s.Read(binio.NewInput(record))

	var re *ReconstructError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, cause)
}

func TestTruncatedRecord(t *testing.T) {
	s := newTestSerializer(t)

	out := binio.NewOutput(16)
	_, err := s.Write(out, &note{ID: 3, Title: "cut"})
	require.NoError(t, err)
	full := out.Bytes()

	for _, cut := range []int{2, 5, len(full) - 1} {
		_, err := s.Read(binio.NewInput(full[:cut]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}

	_, err = s.Read(binio.NewInput(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestDeclaredLengthMismatch(t *testing.T) {
	s := newTestSerializer(t)

	out := binio.NewOutput(16)
	_, err := s.Write(out, &note{ID: 9, Title: "pad"})
	require.NoError(t, err)

	// Inflate the declared length and pad so the extra bytes exist but
	// go unconsumed by the reconstructor.
	record := append([]byte(nil), out.Bytes()...)
	record[0] += 2
	record = append(record, 0xFF, 0xFF)

	_, err = s.Read(binio.NewInput(record))
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestNegativeLengthRejected(t *testing.T) {
	s := newTestSerializer(t)

	record := []byte{0xFF, 0xFF, 0xFF, 0xFF} // -1
	_, err := s.Read(binio.NewInput(record))
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestReadAs(t *testing.T) {
	s := newTestSerializer(t)

	out := binio.NewOutput(16)
	_, err := s.Write(out, &note{ID: 5, Title: "typed"})
	require.NoError(t, err)

	got, err := ReadAs[*note](s, binio.NewInput(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.ID)

	_, err = ReadAs[*blob](s, binio.NewInput(out.Bytes()))
	assert.ErrorIs(t, err, ErrWrongType)

	// Null records decode to the zero value.
	nt, err := ReadAs[*note](s, binio.NewInput([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Nil(t, nt)
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{
			"DuplicateName",
			[]Option{WithTypes(
				TypeOf("dup", decodeNote),
				TypeOf("dup", decodeBlob),
			)},
		},
		{
			"DuplicateType",
			[]Option{
				WithDefault(TypeOf("a", decodeNote)),
				WithTypes(TypeOf("b", decodeNote)),
			},
		},
		{
			"EmptyName",
			[]Option{WithTypes(TypeOf("", decodeNote))},
		},
		{
			"NilReconstructor",
			[]Option{WithTypes(Registration{Name: "n", Type: nil, New: nil})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	tests := []string{
		"",
		"ascii",
		"żółć",
		"日本語テキスト",
		"mixed 🚀 rocket", // surrogate pair
	}

	for _, want := range tests {
		out := binio.NewOutput(8)
		n, err := WriteString(out, want)
		require.NoError(t, err)
		assert.Equal(t, StringSize(want), n)
		assert.Equal(t, n, len(out.Bytes()))

		got, err := ReadString(binio.NewInput(out.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStringBadLength(t *testing.T) {
	_, err := ReadString(binio.NewInput([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.ErrorIs(t, err, ErrBadLength)
}
