package bits_test

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"
	"github.com/mewkiz/flake/internal/bits"
)

// writeRice encodes v as a Rice code with parameter k, the exact layout
// produced by the encoder; a unary coded quotient of the ZigZag folded value
// followed by its k least significant bits.
func writeRice(bw bitio.Writer, v int32, k uint) error {
	folded := bits.EncodeZigZag(v)
	if err := bits.WriteUnary(bw, uint64(folded)>>k); err != nil {
		return err
	}
	if k > 0 {
		return bw.WriteBits(uint64(folded)&(1<<k-1), byte(k))
	}
	return nil
}

func TestRiceRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 2, -2, 3, -3, 17, -17, 127, -128, 255, -256, 1023, -1024, 32767, -32768, 1 << 20, -(1 << 20)}
	for k := uint(0); k <= 30; k++ {
		buf := new(bytes.Buffer)
		bw := bitio.NewWriter(buf)
		for _, v := range values {
			if err := writeRice(bw, v, k); err != nil {
				t.Fatalf("k=%d: error writing Rice code: %v", k, err)
			}
		}
		if err := bw.Close(); err != nil {
			t.Fatalf("k=%d: error flushing bit writer: %v", k, err)
		}

		br := bits.NewReader(buf)
		for _, want := range values {
			got, err := br.ReadRice(k)
			if err != nil {
				t.Fatalf("k=%d: error reading Rice code: %v", k, err)
			}
			if got != want {
				t.Errorf("k=%d: Rice round-trip mismatch; expected %d, got %d", k, want, got)
			}
		}
	}
}

func TestReaderRead(t *testing.T) {
	// 0xDE 0xAD 0xBE 0xEF, read in uneven chunks.
	br := bits.NewReader(bytes.NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	golden := []struct {
		n    uint
		want uint64
	}{
		{n: 3, want: 0x6},  // 110
		{n: 5, want: 0x1E}, // 11110
		{n: 12, want: 0xADB},
		{n: 12, want: 0xEEF},
	}
	for _, g := range golden {
		got, err := br.Read(g.n)
		if err != nil {
			t.Fatalf("error reading %d bits: %v", g.n, err)
		}
		if got != g.want {
			t.Errorf("result mismatch of Read(%d); expected 0x%X, got 0x%X", g.n, g.want, got)
		}
	}
}
