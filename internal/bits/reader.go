// Package bits provides bit access operations and binary decoding algorithms.
package bits

import "io"

// A Reader handles bit reading operations. It buffers a single byte, so that
// no byte is consumed from the underlying io.Reader before any of its bits are
// needed. This matters to the callers which tap the byte stream with running
// checksums; the reader must never read ahead of the bit stream position.
type Reader struct {
	// Underlying io.Reader of the bit stream.
	r io.Reader
	// Pending bits, stored in the low n bits of x.
	x uint8
	// Number of pending bits.
	n uint
	// Scratch buffer for single byte reads.
	buf [1]byte
}

// NewReader returns a new Reader that reads bits from r, most significant bit
// first.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// readByte reads a single byte from the underlying io.Reader.
func (br *Reader) readByte() (byte, error) {
	if r, ok := br.r.(io.ByteReader); ok {
		return r.ReadByte()
	}
	if _, err := io.ReadFull(br.r, br.buf[:]); err != nil {
		return 0, err
	}
	return br.buf[0], nil
}

// Read reads and returns the next n bits, at most 64. The bits of the
// underlying byte stream are interpreted most significant bit first.
func (br *Reader) Read(n uint) (x uint64, err error) {
	for n > 0 {
		if br.n == 0 {
			b, err := br.readByte()
			if err != nil {
				return 0, err
			}
			br.x = b
			br.n = 8
		}
		take := n
		if take > br.n {
			take = br.n
		}
		br.n -= take
		x = x<<take | uint64(br.x>>br.n)
		br.x &= 1<<br.n - 1
		n -= take
	}
	return x, nil
}

// ReadInt reads and returns the next n bits as a signed two's complement
// integer.
func (br *Reader) ReadInt(n uint) (int64, error) {
	x, err := br.Read(n)
	if err != nil {
		return 0, err
	}
	return IntN(x, n), nil
}

// Align skips any pending bits of the current byte, so that the next read
// starts at a byte boundary. The skipped bits are returned.
func (br *Reader) Align() (skipped uint64) {
	skipped = uint64(br.x)
	br.x = 0
	br.n = 0
	return skipped
}

// Aligned reports whether the bit stream position is at a byte boundary.
func (br *Reader) Aligned() bool {
	return br.n == 0
}
