// Package wire converts binary payloads to and from the hexadecimal text
// forms embedded in AT command lines.
//
// Two sub-formats exist on the wire and they are deliberately not symmetric:
//
//	EncodeBytes  -> "01-02-AB"   (dash-joined pairs, used by beacon/data commands)
//	DecodeHex    <- "0102AB"     (unseparated pairs, used by read replies)
//
// Callers that want to round-trip must normalize with StripSeparators first.
package wire

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// ErrMalformedHex is matched by every *MalformedHexError.
var ErrMalformedHex = errors.New("malformed hex")

// MalformedHexError reports input that cannot be decoded as unseparated hex.
type MalformedHexError struct {
	Input  string
	Offset int // index of the offending pair, -1 for odd length
	Reason string
}

func (e *MalformedHexError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("malformed hex %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("malformed hex %q at offset %d: %s", e.Input, e.Offset, e.Reason)
}

func (e *MalformedHexError) Is(target error) bool {
	return target == ErrMalformedHex
}

// EncodeShort formats v as "0x" followed by four uppercase hex digits,
// most significant byte first.
func EncodeShort(v uint16) string {
	return "0x" + string([]byte{
		hexDigits[v>>12&0xF],
		hexDigits[v>>8&0xF],
		hexDigits[v>>4&0xF],
		hexDigits[v&0xF],
	})
}

// EncodeBytes formats b as uppercase byte pairs joined by '-'.
// An empty slice yields "".
func EncodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0xF])
	}
	return sb.String()
}

// EncodeBytesCompact formats b as uppercase byte pairs with no separator.
func EncodeBytesCompact(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexDigits[c>>4], hexDigits[c&0xF])
	}
	return string(out)
}

// StripSeparators removes the '-' separators emitted by EncodeBytes.
func StripSeparators(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// DecodeHex parses an unseparated hex string, two characters per byte.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, oddLength(s)
	}
	out := make([]byte, 0, len(s)/2)
	for b, err := range HexBytes(s) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// HexBytes lazily decodes s. The sequence can be ranged over any number of
// times and always produces the same bytes. On malformed input the error
// is yielded once and iteration stops.
func HexBytes(s string) iter.Seq2[byte, error] {
	return func(yield func(byte, error) bool) {
		if len(s)%2 != 0 {
			yield(0, oddLength(s))
			return
		}
		for i := 0; i < len(s); i += 2 {
			v, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				yield(0, &MalformedHexError{
					Input:  s,
					Offset: i,
					Reason: fmt.Sprintf("invalid pair %q", s[i:i+2]),
				})
				return
			}
			if !yield(byte(v), nil) {
				return
			}
		}
	}
}

func oddLength(s string) error {
	return &MalformedHexError{
		Input:  s,
		Offset: -1,
		Reason: fmt.Sprintf("odd length %d", len(s)),
	}
}
