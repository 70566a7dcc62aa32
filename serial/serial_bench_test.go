package serial

import (
	"testing"

	"github.com/hupe1980/bucketgo/binio"
)

func benchNote() *note {
	return &note{
		ID:    123456789,
		Title: "a reasonably sized benchmark title",
		Score: 0.12345,
	}
}

func benchmarkWrite(b *testing.B, s *Serializer) {
	b.Helper()
	b.ReportAllocs()

	n := benchNote()
	size, err := s.SizeOf(n)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(size))

	var sink int
	b.ResetTimer()
	for b.Loop() {
		out := binio.NewOutput(size)
		written, err := s.Write(out, n)
		if err != nil {
			b.Fatal(err)
		}
		sink = written
	}
	_ = sink
}

func benchmarkRead(b *testing.B, s *Serializer) {
	b.Helper()
	b.ReportAllocs()

	out := binio.NewOutput(0)
	if _, err := s.Write(out, benchNote()); err != nil {
		b.Fatal(err)
	}
	data := out.Bytes()
	b.SetBytes(int64(len(data)))

	b.ResetTimer()
	for b.Loop() {
		obj, err := s.Read(binio.NewInput(data))
		if err != nil {
			b.Fatal(err)
		}
		if obj == nil {
			b.Fatal("decoded nil object")
		}
	}
}

func BenchmarkSerializerWrite_DefaultTag(b *testing.B) {
	s, err := New(WithDefault(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkWrite(b, s)
}

func BenchmarkSerializerWrite_NamedTag(b *testing.B) {
	s, err := New(WithTypes(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkWrite(b, s)
}

func BenchmarkSerializerWrite_CachedTag(b *testing.B) {
	s, err := New(WithCached(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkWrite(b, s)
}

func BenchmarkSerializerRead_DefaultTag(b *testing.B) {
	s, err := New(WithDefault(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkRead(b, s)
}

func BenchmarkSerializerRead_NamedTag(b *testing.B) {
	s, err := New(WithTypes(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkRead(b, s)
}

func BenchmarkSerializerRead_CachedTag(b *testing.B) {
	s, err := New(WithCached(TypeOf("note", decodeNote)))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkRead(b, s)
}
