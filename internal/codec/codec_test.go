package codec

import (
	"strings"
	"testing"
)

func TestEncodeDecodeASCII(t *testing.T) {
	var d Decoder
	in := "hello, relay 123 !?"
	if got := d.Decode(Encode(in)); got != in {
		t.Errorf("round trip = %q, want %q", got, in)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d, want 0", d.Pending())
	}
}

func TestDecodeSplitRunes(t *testing.T) {
	in := "用户 héllo 🙂 end"
	b := Encode(in)
	for split := 0; split <= len(b); split++ {
		var d Decoder
		got := d.Decode(b[:split]) + d.Decode(b[split:])
		if got != in {
			t.Fatalf("split at %d: got %q, want %q", split, got, in)
		}
		if d.Pending() != 0 {
			t.Fatalf("split at %d: %d bytes left pending", split, d.Pending())
		}
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	in := "客户端[7777]: ✓"
	var d Decoder
	var sb strings.Builder
	for _, c := range Encode(in) {
		sb.WriteString(d.Decode([]byte{c}))
	}
	if sb.String() != in {
		t.Errorf("got %q, want %q", sb.String(), in)
	}
}

func TestDecodeMalformed(t *testing.T) {
	var d Decoder
	got := d.Decode([]byte{'a', 0xff, 'b'})
	if got != "a�b" {
		t.Errorf("got %q", got)
	}
}

func TestFlushIncomplete(t *testing.T) {
	var d Decoder
	b := Encode("é")
	if got := d.Decode(b[:1]); got != "" {
		t.Errorf("partial decode = %q, want empty", got)
	}
	if got := d.Flush(); got != "�" {
		t.Errorf("Flush = %q", got)
	}
	if d.Pending() != 0 || d.Flush() != "" {
		t.Error("Flush did not reset the decoder")
	}
}

func TestEncodeInvalidString(t *testing.T) {
	if got := string(Encode("x\xffy")); got != "x�y" {
		t.Errorf("Encode = %q", got)
	}
}
