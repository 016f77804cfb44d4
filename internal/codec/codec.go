// Package codec converts between text and the relay's wire bytes.
// Author: momentics <momentics@gmail.com>
//
// The wire is unframed UTF-8. Encode never fails: invalid input is replaced
// with U+FFFD. The Decoder is streaming so a multi-byte rune split across two
// reads is reassembled instead of corrupted.

package codec

import (
	"strings"
	"unicode/utf8"
)

const replacement = "�"

// Encode returns the UTF-8 bytes of text.
func Encode(text string) []byte {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, replacement)
	}
	return []byte(text)
}

// Decoder decodes a byte stream chunk by chunk. The zero value is ready to use.
type Decoder struct {
	carry [utf8.UTFMax]byte
	n     int
	buf   []byte
}

// Decode returns the text decodable from the carried bytes plus p. An
// incomplete trailing sequence is held back for the next call.
func (d *Decoder) Decode(p []byte) string {
	if d.n == 0 && utf8.Valid(p) {
		return string(p)
	}
	d.buf = append(d.buf[:0], d.carry[:d.n]...)
	d.buf = append(d.buf, p...)
	d.n = 0

	cut := len(d.buf) - incompleteTail(d.buf)
	d.n = copy(d.carry[:], d.buf[cut:])
	return strings.ToValidUTF8(string(d.buf[:cut]), replacement)
}

// Flush returns whatever is still carried, as replacement characters, and
// resets the decoder.
func (d *Decoder) Flush() string {
	if d.n == 0 {
		return ""
	}
	d.n = 0
	return replacement
}

// Pending reports how many bytes are held back.
func (d *Decoder) Pending() int {
	return d.n
}

// incompleteTail returns the length of a trailing rune prefix that could
// still be completed by more input, or 0.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return i
			}
			return 0
		}
	}
	return 0
}
