package serial

import (
	"fmt"
	"unicode/utf16"

	"github.com/hupe1980/bucketgo/binio"
)

// String format: [Units:4][CodeUnit:2]...
//
// Units is the UTF-16 code-unit count, not the byte count; runes outside
// the basic multilingual plane occupy two units.

// maxStringUnits bounds decoded strings so a corrupt length prefix
// cannot force an absurd allocation.
const maxStringUnits = 1 << 26

// StringSize returns the encoded size of s.
func StringSize(s string) int {
	return 4 + 2*len(utf16.Encode([]rune(s)))
}

// WriteString encodes s to out and returns the number of bytes written.
func WriteString(out *binio.Output, s string) (int, error) {
	units := utf16.Encode([]rune(s))
	if err := out.WriteInt32(int32(len(units))); err != nil {
		return 0, err
	}
	if err := out.WriteUint16s(units); err != nil {
		return 0, err
	}
	return 4 + 2*len(units), nil
}

// ReadString decodes one string from in.
func ReadString(in *binio.Input) (string, error) {
	n, err := in.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringUnits {
		return "", fmt.Errorf("serial: string length %d: %w", n, ErrBadLength)
	}
	if n == 0 {
		return "", nil
	}
	units := make([]uint16, n)
	if err := in.ReadUint16s(units); err != nil {
		return "", noEOF(err)
	}
	return string(utf16.Decode(units)), nil
}
