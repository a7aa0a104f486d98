package meta

import (
	"io"

	"github.com/eaburns/bit"
	"github.com/pkg/errors"
)

// StreamInfo contains the basic properties of a FLAC audio stream, such as its
// sample rate, channel count, bits-per-sample, total number of samples and an
// MD5 digest of the unencoded audio samples. It must be present as the first
// metadata block of a stream.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_streaminfo
type StreamInfo struct {
	// Minimum and maximum block size (in samples) used in the stream; between
	// 16 and 65535.
	BlockSizeMin uint16
	BlockSizeMax uint16
	// Minimum and maximum frame size in bytes; a 0 value implies unknown.
	FrameSizeMin uint32
	FrameSizeMax uint32
	// Sample rate in Hz; between 1 and 655350 Hz.
	SampleRate uint32
	// Number of channels; between 1 and 8.
	NChannels uint8
	// Sample size in bits-per-sample; between 4 and 32.
	BitsPerSample uint8
	// Total number of inter-channel samples in the stream. One inter-channel
	// sample is one sample for each channel. A 0 value implies unknown.
	NSamples uint64
	// MD5 checksum of the unencoded audio samples. All zero if unknown.
	MD5sum [16]byte
}

// parseStreamInfo reads and parses the body of a StreamInfo metadata block.
//
// StreamInfo block body format (pseudo code):
//
//	type METADATA_BLOCK_STREAMINFO struct {
//	   block_size_min  uint16
//	   block_size_max  uint16
//	   frame_size_min  uint24
//	   frame_size_max  uint24
//	   sample_rate     uint20
//	   nchannels       uint3 // (number of channels) - 1
//	   bits_per_sample uint5 // (bits-per-sample) - 1
//	   nsamples        uint36
//	   md5sum          [16]byte
//	}
func (block *Block) parseStreamInfo() error {
	br := bit.NewReader(block.lr)
	fields, err := br.ReadFields(16, 16, 24, 24, 20, 3, 5, 36)
	if err != nil {
		return errors.WithStack(err)
	}
	si := &StreamInfo{
		BlockSizeMin:  uint16(fields[0]),
		BlockSizeMax:  uint16(fields[1]),
		FrameSizeMin:  uint32(fields[2]),
		FrameSizeMax:  uint32(fields[3]),
		SampleRate:    uint32(fields[4]),
		NChannels:     uint8(fields[5]) + 1,
		BitsPerSample: uint8(fields[6]) + 1,
		NSamples:      fields[7],
	}
	block.Body = si
	if si.BlockSizeMin < 16 {
		return errors.Errorf("meta.Block.parseStreamInfo: invalid minimum block size (%d); expected >= 16", si.BlockSizeMin)
	}
	if si.BlockSizeMin > si.BlockSizeMax {
		return errors.Errorf("meta.Block.parseStreamInfo: minimum block size (%d) exceeds maximum block size (%d)", si.BlockSizeMin, si.BlockSizeMax)
	}
	if si.SampleRate == 0 {
		return errors.New("meta.Block.parseStreamInfo: invalid sample rate (0)")
	}
	if _, err := io.ReadFull(block.lr, si.MD5sum[:]); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
