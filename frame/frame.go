// Package frame implements access to FLAC audio frames.
//
// A brief introduction of the FLAC audio format [1] follows. FLAC encoders
// divide the audio stream into blocks through a process called blocking. A
// block contains the unencoded audio samples from all channels during a short
// period of time. Each audio block is divided into subblocks, one per channel.
//
// There is often a correlation between the left and right channel of stereo
// audio. Using inter-channel decorrelation it is possible to store only one of
// the channels and the difference between them, or store the average of the
// channels and their difference. An encoder decorrelates audio samples as
// follows:
//
//	mid = (left + right)/2
//	side = left - right
//
// The blocks are encoded using a variety of prediction methods and stored in
// frames. Blocks and subblocks contain unencoded audio samples, while frames
// and subframes contain encoded audio samples. A FLAC stream contains one or
// more audio frames.
//
// [1]: https://www.xiph.org/flac/format.html
package frame

import (
	"hash"
	"io"

	"github.com/mewkiz/flake/internal/bits"
	"github.com/mewkiz/flake/internal/hashutil"
	"github.com/mewkiz/flake/internal/hashutil/crc16"
	"github.com/mewkiz/pkg/errutil"
)

// A Frame contains the header and subframes of an audio frame. It holds the
// encoded samples from a block (a part) of the audio stream. Each subframe
// holds the encoded samples from one of its channels.
//
// ref: https://www.xiph.org/flac/format.html#frame
type Frame struct {
	// Audio frame header.
	Header
	// One subframe per channel, containing encoded audio samples.
	Subframes []*Subframe
	// CRC-16 running hash of the frame bytes read so far.
	crc hashutil.Hash16
	// Underlying io.Reader; a tee of the stream through crc.
	hr io.Reader
	// Bit reader of the subframe section.
	br *bits.Reader
}

// New creates a new Frame for accessing the audio samples of r. It reads and
// parses an audio frame header. It returns ErrLostSync if the stream position
// is not aligned to the start of a frame.
//
// Call Frame.Parse to parse the audio samples of its subframes.
func New(r io.Reader) (frame *Frame, err error) {
	// Create a new CRC-16 hash, which adds the data from all read operations
	// of the frame to a running hash.
	crc := crc16.NewIBM()
	frame = &Frame{crc: crc, hr: io.TeeReader(r, crc)}
	if err := frame.parseHeader(); err != nil {
		return frame, err
	}
	return frame, nil
}

// Parse reads and parses the header, subframes and footer of an audio frame.
// Use New for additional granularity.
func Parse(r io.Reader) (frame *Frame, err error) {
	frame, err = New(r)
	if err != nil {
		return frame, err
	}
	if err := frame.Parse(); err != nil {
		return frame, err
	}
	return frame, nil
}

// Parse reads and parses the audio samples from each subframe of the frame,
// undoes inter-channel decorrelation, and validates the CRC-16 frame footer.
//
// ref: https://www.xiph.org/flac/format.html#interchannel
func (frame *Frame) Parse() error {
	frame.br = bits.NewReader(frame.hr)
	frame.Subframes = make([]*Subframe, frame.Channels.Count())
	for channel := range frame.Subframes {
		// The side channel of an inter-channel decorrelated subframe gains one
		// extra bit of sample resolution, as the difference of two n-bit
		// signals requires n+1 bits.
		bps := uint(frame.BitsPerSample)
		switch frame.Channels {
		case ChannelsLeftSide, ChannelsMidSide:
			// channel 1 is the side channel.
			if channel == 1 {
				bps++
			}
		case ChannelsSideRight:
			// channel 0 is the side channel.
			if channel == 0 {
				bps++
			}
		}
		subframe, err := frame.parseSubframe(bps)
		if err != nil {
			return err
		}
		frame.Subframes[channel] = subframe
	}

	// Zero-padding to byte alignment.
	if pad := frame.br.Align(); pad != 0 {
		return errutil.Newf("frame.Frame.Parse: non-zero padding bits before frame footer")
	}

	// 16 bits: CRC-16 of everything before the CRC, back to and including the
	// frame header sync code. The running hash is captured before the footer
	// bytes pass through the tee.
	want := frame.crc.Sum16()
	var buf [2]byte
	if _, err := io.ReadFull(frame.hr, buf[:]); err != nil {
		return unexpected(err)
	}
	got := uint16(buf[0])<<8 | uint16(buf[1])
	if got != want {
		return ErrCRCMismatch
	}

	frame.correlate()
	return nil
}

// correlate reverts the inter-channel decorrelation of the audio samples, so
// that each subframe holds the samples of its source channel.
func (frame *Frame) correlate() {
	switch frame.Channels {
	case ChannelsLeftSide:
		// channel 0: left, channel 1: side.
		left := frame.Subframes[0].Samples
		side := frame.Subframes[1].Samples
		for i := range side {
			// right = left - side
			side[i] = left[i] - side[i]
		}
	case ChannelsSideRight:
		// channel 0: side, channel 1: right.
		side := frame.Subframes[0].Samples
		right := frame.Subframes[1].Samples
		for i := range side {
			// left = right + side
			side[i] = right[i] + side[i]
		}
	case ChannelsMidSide:
		// channel 0: mid, channel 1: side.
		mid := frame.Subframes[0].Samples
		side := frame.Subframes[1].Samples
		for i := range side {
			// mid lost its least significant bit during encoding; it is
			// recoverable from the side channel, as their sum and difference
			// share parity.
			m := int64(mid[i])<<1 | int64(side[i])&1
			s := int64(side[i])
			mid[i] = int32((m + s) >> 1)  // left
			side[i] = int32((m - s) >> 1) // right
		}
	}
}

// Hash adds the decoded audio samples of the frame to a running hash. It is
// used to verify the audio stream against the MD5 signature of the StreamInfo
// block; the samples are added interleaved, in little-endian byte order, using
// the smallest number of bytes that hold the bits-per-sample of the stream.
func (frame *Frame) Hash(md5sum hash.Hash) {
	var buf [4]byte
	nbytes := (int(frame.BitsPerSample) + 7) / 8
	for i := 0; i < int(frame.BlockSize); i++ {
		for _, subframe := range frame.Subframes {
			sample := subframe.Samples[i]
			for b := 0; b < nbytes; b++ {
				buf[b] = byte(sample)
				sample >>= 8
			}
			md5sum.Write(buf[:nbytes])
		}
	}
}

// SampleNumber returns the stream sample number of the first sample of the
// frame. For fixed-blocksize streams the frame header carries a frame number,
// which is scaled by the nominal (maximum) block size of the stream.
func (frame *Frame) SampleNumber(nominalBlockSize uint16) uint64 {
	if frame.HasFixedBlockSize {
		return frame.Num * uint64(nominalBlockSize)
	}
	return frame.Num
}
