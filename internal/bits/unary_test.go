package bits_test

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"
	"github.com/mewkiz/flake/internal/bits"
)

func TestUnary(t *testing.T) {
	buf := new(bytes.Buffer)
	bw := bitio.NewWriter(buf)

	var want uint64
	for ; want < 1000; want++ {
		// Write unary.
		if err := bits.WriteUnary(bw, want); err != nil {
			t.Fatalf("error writing unary: %v", err)
		}
		// Flush buffer.
		if err := bw.Close(); err != nil {
			t.Fatalf("error closing the buffer: %v", err)
		}

		// Read written unary.
		br := bits.NewReader(buf)
		got, err := br.ReadUnary()
		if err != nil {
			t.Fatalf("error reading unary: %v", err)
		}
		if got != want {
			t.Fatalf("unary round-trip mismatch; expected %v, got %v", want, got)
		}

		buf.Reset()
		bw = bitio.NewWriter(buf)
	}
}
