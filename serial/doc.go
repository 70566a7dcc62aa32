// Package serial encodes and decodes registered Go types as
// size-prefixed, type-tagged binary records.
//
// # Overview
//
// Every record starts with a 4-byte signed length and a 1-byte tag
// naming the concrete type: a compact tag for the single default type,
// positional tags for a pre-registered cached list, or an explicit
// UTF-16 type name for self-describing records. A zero length encodes a
// null object. Decoding dispatches on the tag to the reconstructor
// registered for the type; there is no reflective fallback, so a type
// that was never registered fails fast on both the write and the read
// path.
//
// # Usage
//
//	type Point struct{ X, Y int32 }
//
//	func (p *Point) SerializedSize(*serial.Serializer) int { return 8 }
//
//	func (p *Point) Serialize(out *binio.Output, _ *serial.Serializer) (int, error) {
//		if err := out.WriteInt32(p.X); err != nil {
//			return 0, err
//		}
//		if err := out.WriteInt32(p.Y); err != nil {
//			return 4, err
//		}
//		return 8, nil
//	}
//
//	s, err := serial.New(
//		serial.WithDefault(serial.TypeOf("point", decodePoint)),
//	)
//
// The cached list is positional: its tags are written to disk, so the
// list may only grow at the end once data exists. Names registered with
// WithTypes travel inside each record and are safe to reorder.
package serial
