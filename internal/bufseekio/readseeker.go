// Package bufseekio implements buffered reading with seek support.
package bufseekio

import (
	"errors"
	"io"
)

const defaultBufSize = 4096

const minReadBufferSize = 16

// ReadSeeker implements buffering for an io.ReadSeeker object. It is a
// trimmed-down bufio.Reader which keeps track of the absolute position of its
// buffer, so that seeks within the buffered window are served without touching
// the underlying read-seeker.
type ReadSeeker struct {
	buf []byte
	// Absolute start position of buf within the stream.
	pos int64
	rd  io.ReadSeeker
	// Read and write positions within buf.
	r, w int
	err  error
}

// NewReadSeeker returns a new ReadSeeker whose buffer has the default size.
func NewReadSeeker(rd io.ReadSeeker) *ReadSeeker {
	return NewReadSeekerSize(rd, defaultBufSize)
}

// NewReadSeekerSize returns a new ReadSeeker whose buffer has at least the
// specified size. If rd is already a ReadSeeker with a large enough buffer, it
// is returned directly.
func NewReadSeekerSize(rd io.ReadSeeker, size int) *ReadSeeker {
	if b, ok := rd.(*ReadSeeker); ok && len(b.buf) >= size {
		return b
	}
	if size < minReadBufferSize {
		size = minReadBufferSize
	}
	return &ReadSeeker{buf: make([]byte, size), rd: rd}
}

var errNegativeRead = errors.New("bufseekio: reader returned negative count from Read")

// fill reads a new chunk into the buffer. Any unread bytes are discarded; the
// buffer is tracked by absolute position, so the discarded window can be
// re-read through Seek.
func (b *ReadSeeker) fill() {
	b.pos += int64(b.w)
	b.r = 0
	b.w = 0
	n, err := b.rd.Read(b.buf)
	if n < 0 {
		panic(errNegativeRead)
	}
	b.w += n
	if err != nil {
		b.err = err
	}
}

func (b *ReadSeeker) readErr() error {
	err := b.err
	b.err = nil
	return err
}

// Read reads data into p. The bytes are taken from at most one Read on the
// underlying reader, hence n may be less than len(p).
func (b *ReadSeeker) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		if b.r < b.w {
			return 0, nil
		}
		return 0, b.readErr()
	}
	if b.r == b.w {
		if b.err != nil {
			return 0, b.readErr()
		}
		b.fill()
		if b.r == b.w {
			return 0, b.readErr()
		}
	}
	n = copy(p, b.buf[b.r:b.w])
	b.r += n
	return n, nil
}

// ReadByte reads and returns a single byte.
func (b *ReadSeeker) ReadByte() (byte, error) {
	for b.r == b.w {
		if b.err != nil {
			return 0, b.readErr()
		}
		b.fill()
	}
	c := b.buf[b.r]
	b.r++
	return c, nil
}

// Seek implements the io.Seeker interface. Seeks within the buffered window
// only reposition the read pointer.
func (b *ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + int64(b.r) + offset
	case io.SeekEnd:
		end, err := b.rd.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		// Restore the underlying position to the end of the buffered window;
		// fill relies on it.
		if _, err := b.rd.Seek(b.pos+int64(b.w), io.SeekStart); err != nil {
			return 0, err
		}
		abs = end + offset
	default:
		return 0, errors.New("bufseekio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("bufseekio: negative position")
	}

	// Within the buffered window?
	if abs >= b.pos && abs <= b.pos+int64(b.w) {
		b.r = int(abs - b.pos)
		b.err = nil
		return abs, nil
	}

	// Outside the window; reposition the underlying reader and drop the
	// buffer.
	if _, err := b.rd.Seek(abs, io.SeekStart); err != nil {
		return 0, err
	}
	b.pos = abs
	b.r = 0
	b.w = 0
	b.err = nil
	return abs, nil
}
