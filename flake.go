// Package flake provides access to FLAC (Free Lossless Audio Codec) streams.
//
// The basic structure of a FLAC bitstream is:
//   - The four byte string signature "fLaC".
//   - The StreamInfo metadata block.
//   - Zero or more other metadata blocks.
//   - One or more audio frames.
//
// The decoder is driven through Stream; New reads the metadata blocks of a
// stream and ParseNext pulls one audio frame at a time. NewSeek additionally
// supports sample-accurate seeking, and Verify checks the decoded audio
// against the MD5 signature of the StreamInfo block. The encoder counterpart
// is Encoder; see NewEncoder.
//
// ref: https://www.xiph.org/flac/format.html
package flake

import (
	"bytes"
	"crypto/md5"
	"io"
	"os"

	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/internal/bufseekio"
	"github.com/mewkiz/flake/meta"
	"github.com/mewkiz/pkg/errutil"
)

// A Stream is a FLAC bitstream.
type Stream struct {
	// The StreamInfo metadata block of the stream.
	Info *meta.StreamInfo
	// Zero or more additional metadata blocks, in stream order.
	Blocks []*meta.Block

	// Seek table of the stream, if any.
	seekTable *meta.SeekTable
	// Underlying reader of the stream, with a pushback prefix for the frame
	// sync scan.
	sr *streamReader
	// Underlying io.ReadSeeker; non-nil for seekable streams.
	rs io.ReadSeeker
	// io.Closer of the underlying reader, if owned by the stream.
	c io.Closer
	// Byte offset of the first audio frame.
	dataStart int64
	// Number of inter-channel samples delivered so far.
	cur uint64
	// Specifies if a seek has occurred; seeking reorders the decoded sample
	// stream and disables MD5 verification.
	seeked bool
	// Frame pending delivery after a seek; its leading samples are trimmed to
	// the seek target.
	pending *frame.Frame
}

// New creates a new Stream for accessing the audio samples of r. It reads and
// parses the FLAC signature and all metadata blocks of the stream; a leading
// ID3v2 tag is skipped. Call Stream.ParseNext to parse one audio frame at a
// time.
func New(r io.Reader) (stream *Stream, err error) {
	stream = &Stream{sr: &streamReader{r: r}}
	if err := stream.parseStreamHeader(); err != nil {
		return nil, err
	}
	return stream, nil
}

// NewSeek creates a new Stream for accessing the audio samples of rs, with
// support for sample-accurate seeking through Stream.Seek.
func NewSeek(rs io.ReadSeeker) (stream *Stream, err error) {
	stream = &Stream{sr: &streamReader{r: rs}, rs: rs}
	if err := stream.parseStreamHeader(); err != nil {
		return nil, err
	}
	stream.dataStart, err = rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errutil.Err(err)
	}
	return stream, nil
}

// Open opens the given FLAC file for reading, with buffering and support for
// sample-accurate seeking. Callers should close the stream when done reading
// from it.
func Open(path string) (stream *Stream, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err = NewSeek(bufseekio.NewReadSeeker(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	stream.c = f
	return stream, nil
}

// Close closes the underlying reader of the stream, if owned by the stream.
func (stream *Stream) Close() error {
	if stream.c != nil {
		return stream.c.Close()
	}
	return nil
}

// id3Signature marks the beginning of an ID3v2 tag; a legacy container that
// some tools prepend to FLAC streams.
var id3Signature = []byte("ID3")

// parseStreamHeader verifies the FLAC signature of the stream, skipping a
// leading ID3v2 tag if present, and reads all metadata blocks.
func (stream *Stream) parseStreamHeader() error {
	var buf [4]byte
	if _, err := io.ReadFull(stream.sr, buf[:]); err != nil {
		return errutil.Err(err)
	}
	if bytes.Equal(buf[:3], id3Signature) {
		if err := stream.skipID3v2(); err != nil {
			return err
		}
		if _, err := io.ReadFull(stream.sr, buf[:]); err != nil {
			return errutil.Err(err)
		}
	}
	if !bytes.Equal(buf[:], flacSignature) {
		return errutil.Newf("flake.Stream.parseStreamHeader: invalid signature; expected %q, got %q", flacSignature, buf)
	}

	// Read metadata blocks; the first one must be StreamInfo.
	isFirst := true
	for {
		block, err := meta.New(stream.sr)
		if err != nil {
			return errutil.Err(err)
		}
		if isFirst {
			if block.Type != meta.TypeStreamInfo {
				return errutil.Newf("flake.Stream.parseStreamHeader: first block type is invalid; expected %d (stream info), got %d", meta.TypeStreamInfo, block.Type)
			}
			isFirst = false
		}
		if err := block.Parse(); err != nil {
			return errutil.Err(err)
		}
		switch body := block.Body.(type) {
		case *meta.StreamInfo:
			stream.Info = body
		case *meta.SeekTable:
			stream.seekTable = body
			stream.Blocks = append(stream.Blocks, block)
		default:
			stream.Blocks = append(stream.Blocks, block)
		}
		if block.IsLast {
			break
		}
	}
	return nil
}

// skipID3v2 skips a leading ID3v2 tag. The first 4 bytes of the tag have
// already been consumed by the signature check.
//
// ID3v2 header format (pseudo code):
//
//	type ID3V2_HEADER struct {
//	   signature [3]byte // "ID3"
//	   version   [2]byte
//	   flags     uint8
//	   // Tag size, stored as 4 bytes of 7 bits each.
//	   size      uint28
//	}
func (stream *Stream) skipID3v2() error {
	// 1 remaining version byte, 1 flag byte and 4 size bytes.
	var buf [6]byte
	if _, err := io.ReadFull(stream.sr, buf[:]); err != nil {
		return errutil.Err(err)
	}
	var size int64
	for _, b := range buf[2:] {
		size = size<<7 | int64(b&0x7F)
	}
	if _, err := io.CopyN(io.Discard, stream.sr, size); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// ParseNext parses and returns the next audio frame of the stream. It returns
// io.EOF upon reaching the end of the stream, without scanning data appended
// past the declared sample total.
//
// A frame whose CRC-16 footer fails validation yields frame.ErrCRCMismatch;
// the frame bytes have been consumed, so the caller may keep calling
// ParseNext to decode the remaining frames. Other frame errors likewise leave
// the stream positioned for resynchronization on the next frame sync code.
func (stream *Stream) ParseNext() (f *frame.Frame, err error) {
	if stream.pending != nil {
		f = stream.pending
		stream.pending = nil
		return f, nil
	}
	if stream.Info.NSamples > 0 && stream.cur >= stream.Info.NSamples {
		return nil, io.EOF
	}
	f, err = stream.readFrame()
	if err != nil {
		if err == frame.ErrCRCMismatch && f != nil {
			// The frame was consumed through its footer; account for its
			// samples so that the end of stream is still detected.
			stream.cur += uint64(f.BlockSize)
		}
		return nil, err
	}
	stream.cur += uint64(f.BlockSize)
	return f, nil
}

// readFrame scans to the next frame sync code and parses one audio frame,
// filling in stream-inherited defaults of the frame header.
func (stream *Stream) readFrame() (*frame.Frame, error) {
	if err := stream.skipToSync(); err != nil {
		return nil, err
	}
	f, err := frame.New(stream.sr)
	if err != nil {
		return f, err
	}
	if f.BitsPerSample == 0 {
		f.BitsPerSample = stream.Info.BitsPerSample
	}
	if f.SampleRate == 0 {
		f.SampleRate = stream.Info.SampleRate
	}
	if err := f.Parse(); err != nil {
		return f, err
	}
	return f, nil
}

// skipToSync scans the stream byte by byte for the frame sync pattern; the
// byte 0xFF followed by a byte whose top 6 bits are 111110. The matched bytes
// are pushed back, so that frame parsing starts at the sync code.
func (stream *Stream) skipToSync() error {
	b, err := stream.sr.ReadByte()
	if err != nil {
		return err
	}
	for {
		if b != 0xFF {
			b, err = stream.sr.ReadByte()
			if err != nil {
				return err
			}
			continue
		}
		next, err := stream.sr.ReadByte()
		if err != nil {
			return err
		}
		if next>>2 == 0x3E {
			stream.sr.unread([]byte{b, next})
			return nil
		}
		// The second byte may itself start a sync pattern.
		b = next
	}
}

// Verify decodes the audio frames of the stream and verifies the decoded
// audio samples against the MD5 signature of the StreamInfo block. It must be
// called on a freshly opened stream; verification is skipped when the
// signature is unset, and unavailable once frames have been parsed or a seek
// has reordered the sample stream.
func (stream *Stream) Verify() error {
	if stream.seeked {
		return errutil.Newf("flake.Stream.Verify: MD5 verification unavailable after seeking")
	}
	if stream.cur > 0 {
		return errutil.Newf("flake.Stream.Verify: MD5 verification requires a freshly opened stream")
	}
	md5sum := md5.New()
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		f.Hash(md5sum)
	}
	want := stream.Info.MD5sum[:]
	if bytes.Equal(want, make([]byte, 16)) {
		// MD5 signature unset.
		return nil
	}
	got := md5sum.Sum(nil)
	if !bytes.Equal(got, want) {
		return errutil.Newf("flake.Stream.Verify: MD5 checksum mismatch of decoded audio samples; expected %032x, got %032x", want, got)
	}
	return nil
}

// A streamReader reads from an underlying io.Reader behind a pushback prefix;
// the frame sync scan unreads the matched sync bytes through it.
type streamReader struct {
	r        io.Reader
	pushback []byte
}

func (sr *streamReader) Read(p []byte) (int, error) {
	if len(sr.pushback) > 0 {
		n := copy(p, sr.pushback)
		sr.pushback = sr.pushback[n:]
		return n, nil
	}
	return sr.r.Read(p)
}

func (sr *streamReader) ReadByte() (byte, error) {
	if len(sr.pushback) > 0 {
		b := sr.pushback[0]
		sr.pushback = sr.pushback[1:]
		return b, nil
	}
	if br, ok := sr.r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var buf [1]byte
	if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// unread pushes the given bytes back in front of the underlying reader.
func (sr *streamReader) unread(p []byte) {
	sr.pushback = append(p, sr.pushback...)
}

// reset drops the pushback prefix; used after repositioning the underlying
// reader.
func (sr *streamReader) reset() {
	sr.pushback = nil
}
