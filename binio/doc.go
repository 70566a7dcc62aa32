// Package binio provides buffered binary input and output windows over
// pluggable backings.
//
// # Overview
//
// An Input is a positioned read window: callers consume little-endian
// primitives, byte runs and typed slices, and the window transparently
// compacts and refills itself from its backing. An Output mirrors this
// for writes. Four backings are supported:
//
//   - in-memory byte slices (NewInput, NewOutput)
//   - streams (NewChannelInput over io.Reader, NewChannelOutput over io.Writer)
//   - file regions (NewFileInput over io.ReaderAt, NewFileOutput over
//     io.WriterAt) — every physical access carries its own absolute
//     offset, so independent windows can interleave freely on one shared
//     descriptor without touching a file position
//   - memory-mapped files (OpenMappedInput), for sequential whole-file scans
//
// # Usage
//
//	out := binio.NewOutput(64)
//	_ = out.WriteUint32(42)
//	_ = out.WriteFloat64(math.Pi)
//
//	in := binio.NewInput(out.Bytes())
//	v, _ := in.ReadUint32()
//
// All multi-byte values use little-endian byte order. Stream inputs treat
// a backing that ends mid-value as io.ErrUnexpectedEOF; a clean end of
// data before the first requested byte is io.EOF.
package binio
