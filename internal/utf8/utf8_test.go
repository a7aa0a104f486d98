package utf8

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"
)

func TestRoundTrip(t *testing.T) {
	var golden []uint64
	// Values around each sequence-length boundary, plus the extremes.
	for _, boundary := range []uint64{1 << 7, 1 << 11, 1 << 16, 1 << 21, 1 << 26, 1 << 31, 1 << 36} {
		golden = append(golden, boundary-2, boundary-1, boundary)
	}
	golden = append(golden, 0, 1, 0xABCDEF, 1<<36-1)
	for _, want := range golden {
		if want > 1<<36-1 {
			continue
		}
		buf := new(bytes.Buffer)
		bw := bitio.NewWriter(buf)
		if err := Encode(bw, want); err != nil {
			t.Fatalf("x=%d: error encoding UTF-8 coded number: %v", want, err)
		}
		if err := bw.Close(); err != nil {
			t.Fatalf("x=%d: error flushing bit writer: %v", want, err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("x=%d: error decoding UTF-8 coded number: %v", want, err)
		}
		if got != want {
			t.Errorf("UTF-8 coded number round-trip mismatch; expected %d, got %d", want, got)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	bw := bitio.NewWriter(buf)
	if err := Encode(bw, 1<<36); err == nil {
		t.Errorf("expected error when encoding a 37-bit value")
	}
}

func TestDecodeInvalid(t *testing.T) {
	golden := [][]byte{
		// Continuation byte as leading byte.
		{0x80},
		{0xBF},
		// Leading byte 0xFF is not a valid sequence start.
		{0xFF, 0x80},
		// Non-continuation byte where a continuation byte is expected.
		{0xC2, 0x00},
		{0xE0, 0x80, 0x7F},
	}
	for _, g := range golden {
		x, err := Decode(bytes.NewReader(g))
		if err != ErrInvalid {
			t.Errorf("data % X: expected ErrInvalid, got %v", g, err)
			continue
		}
		if x != Invalid {
			t.Errorf("data % X: expected sentinel value 0x%X, got 0x%X", g, uint64(Invalid), x)
		}
	}
}
