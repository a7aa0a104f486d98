package frame

import (
	"errors"
	"io"

	"github.com/mewkiz/flake/internal/hashutil/crc8"
	"github.com/mewkiz/flake/internal/utf8"
	"github.com/mewkiz/pkg/errutil"
)

// A Header contains the basic properties of an audio frame, such as its block
// size, sample rate, channel assignment and an 8-bit CRC of the header bytes.
//
// ref: https://www.xiph.org/flac/format.html#frame_header
type Header struct {
	// Specifies if the block size is fixed or variable.
	HasFixedBlockSize bool
	// Block size in inter-channel samples, i.e. the number of audio samples in
	// each subframe.
	BlockSize uint16
	// Sample rate in Hz; a 0 value implies unknown, get sample rate from
	// StreamInfo.
	SampleRate uint32
	// Specifies the number of channels (subframes) that exist in the frame,
	// their order and possible inter-channel decorrelation.
	Channels Channels
	// Sample size in bits-per-sample; a 0 value implies unknown, get sample
	// size from StreamInfo.
	BitsPerSample uint8
	// Specifies the frame number if the block size is fixed, and the first
	// sample number in the frame otherwise.
	Num uint64
}

// Sync code of frame headers. Bit representation: 11111111111110.
const SyncCode = 0x3FFE

// Errors returned while parsing frame headers and frame footers.
var (
	// ErrLostSync is returned when the two bytes at the current stream
	// position do not start with the frame sync code.
	ErrLostSync = errors.New("frame.Frame.parseHeader: lost synchronization")
	// ErrCRCMismatch is returned when the CRC-16 of a parsed frame does not
	// match the frame footer. The frame bytes have been consumed; parsing may
	// continue with the next frame.
	ErrCRCMismatch = errors.New("frame.Frame.Parse: CRC-16 checksum mismatch")
)

// parseHeader reads and parses the header of an audio frame.
//
// Frame header format (pseudo code):
//
//	type FRAME_HEADER struct {
//	   sync_code        uint14 // 11111111111110
//	   _                uint1  // reserved; must be 0
//	   has_variable_block_size bool
//	   block_size_spec  uint4
//	   sample_rate_spec uint4
//	   channels_spec    uint4
//	   sample_size_spec uint3
//	   _                uint1  // reserved; must be 0
//	   // UTF-8 coded frame number (fixed block size) or sample number.
//	   num              uint36
//	   // 8 or 16 bit block size tail; block_size_spec 0110 or 0111.
//	   // 8 or 16 bit sample rate tail; sample_rate_spec 1100, 1101 or 1110.
//	   crc8             uint8
//	}
func (frame *Frame) parseHeader() error {
	// Create a new CRC-8 hash, which adds the data from all read operations of
	// the frame header to a running hash.
	h := crc8.NewATM()
	hr := io.TeeReader(frame.hr, h)

	// 14 bits: sync code, 1 bit: reserved, 1 bit: blocking strategy.
	var buf [2]byte
	if _, err := io.ReadFull(hr, buf[:]); err != nil {
		return err
	}
	sync := uint16(buf[0])<<6 | uint16(buf[1])>>2
	if sync != SyncCode {
		return ErrLostSync
	}
	if buf[1]&0x02 != 0 {
		return errutil.Newf("frame.Frame.parseHeader: non-zero reserved bit after sync code")
	}
	// Blocking strategy:
	//    0: fixed-blocksize stream; frame header encodes the frame number.
	//    1: variable-blocksize stream; frame header encodes the sample number.
	frame.HasFixedBlockSize = buf[1]&0x01 == 0

	// 4 bits: block size spec, 4 bits: sample rate spec.
	if _, err := io.ReadFull(hr, buf[:1]); err != nil {
		return unexpected(err)
	}
	blockSizeSpec := buf[0] >> 4
	sampleRateSpec := buf[0] & 0x0F

	// 4 bits: channel assignment, 3 bits: sample size spec, 1 bit: reserved.
	if _, err := io.ReadFull(hr, buf[:1]); err != nil {
		return unexpected(err)
	}
	if buf[0]&0x01 != 0 {
		return errutil.Newf("frame.Frame.parseHeader: non-zero reserved bit at end of header codes")
	}

	// Channel assignment.
	//    0000-0111: (number of independent channels)-1.
	//    1000: left/side stereo:  left, side (difference)
	//    1001: side/right stereo: side (difference), right
	//    1010: mid/side stereo:   mid (average), side (difference)
	//    1011-1111: reserved
	n := buf[0] >> 4
	if n > uint8(ChannelsMidSide) {
		return errutil.Newf("frame.Frame.parseHeader: reserved channel assignment bit pattern (%04b)", n)
	}
	frame.Channels = Channels(n)

	// Sample size in bits.
	//    000: get from STREAMINFO metadata block.
	//    001: 8 bits per sample.
	//    010: 12 bits per sample.
	//    011: reserved.
	//    100: 16 bits per sample.
	//    101: 20 bits per sample.
	//    110: 24 bits per sample.
	//    111: reserved.
	switch n = buf[0] >> 1 & 0x07; n {
	case 0x0:
		frame.BitsPerSample = 0
	case 0x1:
		frame.BitsPerSample = 8
	case 0x2:
		frame.BitsPerSample = 12
	case 0x4:
		frame.BitsPerSample = 16
	case 0x5:
		frame.BitsPerSample = 20
	case 0x6:
		frame.BitsPerSample = 24
	default:
		return errutil.Newf("frame.Frame.parseHeader: reserved sample size bit pattern (%03b)", n)
	}

	// UTF-8 coded frame number (fixed block size) or sample number.
	num, err := utf8.Decode(hr)
	if err != nil {
		return unexpected(err)
	}
	if frame.HasFixedBlockSize && num > 1<<31-1 {
		return errutil.Newf("frame.Frame.parseHeader: frame number (%d) exceeds 31 bits", num)
	}
	frame.Num = num

	// Block size in inter-channel samples.
	//    0000: reserved.
	//    0001: 192 samples.
	//    0010-0101: 576 * 2^(n-2) samples, i.e. 576/1152/2304/4608.
	//    0110: get 8 bit (block size)-1 from end of header.
	//    0111: get 16 bit (block size)-1 from end of header.
	//    1000-1111: 256 * 2^(n-8) samples, i.e. 256/512/1024/.../32768.
	switch {
	case blockSizeSpec == 0x0:
		return errutil.Newf("frame.Frame.parseHeader: reserved block size bit pattern (%04b)", blockSizeSpec)
	case blockSizeSpec == 0x1:
		frame.BlockSize = 192
	case blockSizeSpec <= 0x5:
		frame.BlockSize = 576 << (blockSizeSpec - 0x2)
	case blockSizeSpec == 0x6:
		if _, err := io.ReadFull(hr, buf[:1]); err != nil {
			return unexpected(err)
		}
		frame.BlockSize = uint16(buf[0]) + 1
	case blockSizeSpec == 0x7:
		if _, err := io.ReadFull(hr, buf[:2]); err != nil {
			return unexpected(err)
		}
		frame.BlockSize = uint16(buf[0])<<8 | uint16(buf[1]) + 1
	default:
		frame.BlockSize = 256 << (blockSizeSpec - 0x8)
	}

	// Sample rate.
	//    0000: get from STREAMINFO metadata block.
	//    0001-1011: enumerated rates.
	//    1100: get 8 bit sample rate (in kHz) from end of header.
	//    1101: get 16 bit sample rate (in Hz) from end of header.
	//    1110: get 16 bit sample rate (in tens of Hz) from end of header.
	//    1111: invalid, to prevent sync-fooling string of 1s.
	switch sampleRateSpec {
	case 0x0:
		frame.SampleRate = 0
	case 0x1:
		frame.SampleRate = 88200
	case 0x2:
		frame.SampleRate = 176400
	case 0x3:
		frame.SampleRate = 192000
	case 0x4:
		frame.SampleRate = 8000
	case 0x5:
		frame.SampleRate = 16000
	case 0x6:
		frame.SampleRate = 22050
	case 0x7:
		frame.SampleRate = 24000
	case 0x8:
		frame.SampleRate = 32000
	case 0x9:
		frame.SampleRate = 44100
	case 0xA:
		frame.SampleRate = 48000
	case 0xB:
		frame.SampleRate = 96000
	case 0xC:
		if _, err := io.ReadFull(hr, buf[:1]); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(buf[0]) * 1000
	case 0xD:
		if _, err := io.ReadFull(hr, buf[:2]); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(buf[0])<<8 | uint32(buf[1])
	case 0xE:
		if _, err := io.ReadFull(hr, buf[:2]); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = (uint32(buf[0])<<8 | uint32(buf[1])) * 10
	default:
		return errutil.Newf("frame.Frame.parseHeader: invalid sample rate bit pattern (%04b)", sampleRateSpec)
	}

	// 8 bits: CRC-8 of everything before the CRC, including the sync code.
	//
	// The expected checksum is read from frame.hr directly, so that it is
	// excluded from the running CRC-8 (but still included in the frame-wide
	// CRC-16).
	want := h.Sum8()
	if _, err := io.ReadFull(frame.hr, buf[:1]); err != nil {
		return unexpected(err)
	}
	if got := buf[0]; got != want {
		return errutil.Newf("frame.Frame.parseHeader: CRC-8 checksum mismatch; expected 0x%02X, got 0x%02X", want, got)
	}
	return nil
}

// unexpected maps io.EOF to io.ErrUnexpectedEOF; an EOF in the middle of a
// frame marks a truncated stream.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Channels specifies the number of channels (subframes) that exist in a frame,
// their order and possible inter-channel decorrelation.
type Channels uint8

// Channel assignments. The following abbreviations are used:
//
//	C:   center (directly in front)
//	R:   right (standard stereo)
//	Sr:  side right (directly to the right)
//	Rs:  right surround (back right)
//	Cs:  center surround (rear center)
//	L:   left (standard stereo)
//	Sl:  side left (directly to the left)
//	Ls:  left surround (back left)
//	Lfe: low-frequency effect (placed according to room acoustics)
//
// The first 8 channel constants follow the SMPTE/ITU-R channel order:
//
//	L R C Lfe Ls Rs Sl Sr
const (
	ChannelsMono           Channels = iota // 1 channel: mono.
	ChannelsLR                             // 2 channels: left, right.
	ChannelsLRC                            // 3 channels: left, right, center.
	ChannelsLRLsRs                         // 4 channels: left, right, left surround, right surround.
	ChannelsLRCLsRs                        // 5 channels: left, right, center, left surround, right surround.
	ChannelsLRCLfeLsRs                     // 6 channels: left, right, center, LFE, left surround, right surround.
	ChannelsLRCLfeCsSlSr                   // 7 channels: left, right, center, LFE, center surround, side left, side right.
	ChannelsLRCLfeLsRsSlSr                 // 8 channels: left, right, center, LFE, left surround, right surround, side left, side right.
	ChannelsLeftSide                       // 2 channels: left, side; using inter-channel decorrelation.
	ChannelsSideRight                      // 2 channels: side, right; using inter-channel decorrelation.
	ChannelsMidSide                        // 2 channels: mid, side; using inter-channel decorrelation.
)

// nchannels maps from a channel assignment to its number of channels.
var nchannels = map[Channels]int{
	ChannelsMono:           1,
	ChannelsLR:             2,
	ChannelsLRC:            3,
	ChannelsLRLsRs:         4,
	ChannelsLRCLsRs:        5,
	ChannelsLRCLfeLsRs:     6,
	ChannelsLRCLfeCsSlSr:   7,
	ChannelsLRCLfeLsRsSlSr: 8,
	ChannelsLeftSide:       2,
	ChannelsSideRight:      2,
	ChannelsMidSide:        2,
}

// Count returns the number of channels (subframes) used by the provided
// channel assignment.
func (channels Channels) Count() int {
	return nchannels[channels]
}
