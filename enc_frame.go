package flake

import (
	"io"
	"math/bits"

	"github.com/icza/bitio"
	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/internal/hashutil/crc16"
	"github.com/mewkiz/flake/internal/hashutil/crc8"
	"github.com/mewkiz/flake/internal/utf8"
	"github.com/mewkiz/pkg/errutil"
)

// encodeFrame runs the model search on the buffered block and emits one audio
// frame holding its n inter-channel samples.
func (enc *Encoder) encodeFrame(block [][]int32, n int) error {
	// Accumulate the MD5 running hash of the raw audio signal; interleaved,
	// in little-endian byte order.
	enc.hashBlock(block, n)
	frameStart := enc.nsamples
	enc.nsamples += uint64(n)

	// Model search; one subframe plan per channel, in the order dictated by
	// the channel assignment.
	channels, plans := enc.analyzeBlock(block, n)

	// Emit the frame.
	hdr := frame.Header{
		HasFixedBlockSize: true,
		BlockSize:         uint16(n),
		SampleRate:        enc.Info.SampleRate,
		Channels:          channels,
		BitsPerSample:     enc.Info.BitsPerSample,
		Num:               enc.curFrame,
	}
	frameOff := enc.w.n
	out := io.Writer(enc.w)
	if enc.verify {
		enc.verifyBuf.Reset()
		out = io.MultiWriter(enc.w, enc.verifyBuf)
	}
	// The frame-wide CRC-16 covers everything from the sync code up to and
	// including the zero padding before the frame footer.
	h := crc16.NewIBM()
	fw := io.MultiWriter(h, out)

	if err := writeFrameHeader(fw, hdr); err != nil {
		return err
	}
	bw := bitio.NewWriter(fw)
	for _, plan := range plans {
		if err := writeSubframe(bw, plan); err != nil {
			return err
		}
	}
	// Zero-pad to byte alignment and flush pending writes.
	if err := bw.Close(); err != nil {
		return errutil.Err(err)
	}

	// 16 bits: CRC-16 of the frame.
	crc := h.Sum16()
	if _, err := out.Write([]byte{byte(crc >> 8), byte(crc)}); err != nil {
		return errutil.Err(err)
	}

	// Frame size statistics and seek table resolution.
	size := uint32(enc.w.n - frameOff)
	if size < enc.minFrameSize {
		enc.minFrameSize = size
	}
	if size > enc.maxFrameSize {
		enc.maxFrameSize = size
	}
	enc.fillSeekPoints(frameStart, n, frameOff)
	enc.curFrame++

	if enc.verify {
		if err := enc.verifyFrame(block, n, frameStart); err != nil {
			return err
		}
	}
	return nil
}

// hashBlock adds the raw samples of the block to the MD5 running hash,
// interleaved in little-endian byte order, matching frame.Frame.Hash on the
// decode side.
func (enc *Encoder) hashBlock(block [][]int32, n int) {
	var buf [4]byte
	nbytes := (int(enc.Info.BitsPerSample) + 7) / 8
	for i := 0; i < n; i++ {
		for ch := range block {
			sample := block[ch][i]
			for b := 0; b < nbytes; b++ {
				buf[b] = byte(sample)
				sample >>= 8
			}
			enc.md5sum.Write(buf[:nbytes])
		}
	}
}

// analyzeBlock selects the channel assignment of the frame and runs the model
// search for each of its subframes. For mid-side capable stereo streams the
// assignment minimizing the summed subframe bits wins.
func (enc *Encoder) analyzeBlock(block [][]int32, n int) (frame.Channels, []*subframePlan) {
	bps := uint(enc.Info.BitsPerSample)
	nchannels := len(block)
	if nchannels != 2 || !enc.midSide || bps >= 32 {
		channels := frame.Channels(nchannels - 1)
		plans := make([]*subframePlan, nchannels)
		for ch := range block {
			plans[ch] = enc.analyzeChannel(block[ch][:n], bps)
		}
		return channels, plans
	}

	// Mid-side decorrelation of the stereo signal. The side channel carries
	// the difference of two bps-bit signals and needs one extra bit.
	left, right := block[0][:n], block[1][:n]
	mid := make([]int32, n)
	side := make([]int32, n)
	for i := range left {
		l, r := int64(left[i]), int64(right[i])
		mid[i] = int32((l + r) >> 1)
		side[i] = int32(l - r)
	}

	// In loose mid-side mode the winning assignment stays committed for
	// roughly 0.4 seconds worth of frames.
	if enc.looseMidSide && enc.looseLeft > 0 {
		enc.looseLeft--
		return enc.looseChannels, enc.plansFor(enc.looseChannels, left, right, mid, side, bps)
	}

	planLeft := enc.analyzeChannel(left, bps)
	planRight := enc.analyzeChannel(right, bps)
	planMid := enc.analyzeChannel(mid, bps)
	planSide := enc.analyzeChannel(side, bps+1)

	costs := [4]int{
		planLeft.bits + planRight.bits, // independent
		planLeft.bits + planSide.bits,  // left/side
		planRight.bits + planSide.bits, // right/side
		planMid.bits + planSide.bits,   // mid/side
	}
	bestAssign := 0
	for i := 1; i < len(costs); i++ {
		if costs[i] < costs[bestAssign] {
			bestAssign = i
		}
	}

	var channels frame.Channels
	var plans []*subframePlan
	switch bestAssign {
	case 0:
		channels = frame.ChannelsLR
		plans = []*subframePlan{planLeft, planRight}
	case 1:
		channels = frame.ChannelsLeftSide
		plans = []*subframePlan{planLeft, planSide}
	case 2:
		channels = frame.ChannelsSideRight
		plans = []*subframePlan{planSide, planRight}
	case 3:
		channels = frame.ChannelsMidSide
		plans = []*subframePlan{planMid, planSide}
	}
	if enc.looseMidSide {
		enc.looseChannels = channels
		enc.looseLeft = looseMidSideFrames(enc.Info.SampleRate, enc.blockSize)
	}
	return channels, plans
}

// plansFor runs the model search for the subframes of a committed channel
// assignment only.
func (enc *Encoder) plansFor(channels frame.Channels, left, right, mid, side []int32, bps uint) []*subframePlan {
	switch channels {
	case frame.ChannelsLeftSide:
		return []*subframePlan{enc.analyzeChannel(left, bps), enc.analyzeChannel(side, bps+1)}
	case frame.ChannelsSideRight:
		return []*subframePlan{enc.analyzeChannel(side, bps+1), enc.analyzeChannel(right, bps)}
	case frame.ChannelsMidSide:
		return []*subframePlan{enc.analyzeChannel(mid, bps), enc.analyzeChannel(side, bps+1)}
	}
	return []*subframePlan{enc.analyzeChannel(left, bps), enc.analyzeChannel(right, bps)}
}

// looseMidSideFrames returns the number of frames a loose mid-side channel
// assignment stays committed for; roughly 0.4 seconds worth.
func looseMidSideFrames(sampleRate uint32, blockSize uint16) int {
	n := int(float64(sampleRate)*0.4/float64(blockSize) + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// writeFrameHeader writes the header of an audio frame, followed by its CRC-8
// checksum.
func writeFrameHeader(w io.Writer, hdr frame.Header) error {
	// The CRC-8 covers the serialized header bytes, excluding the checksum
	// byte itself.
	h := crc8.NewATM()
	hw := io.MultiWriter(h, w)
	bw := bitio.NewWriter(hw)

	// 14 bits: sync code: 11111111111110.
	if err := bw.WriteBits(0x3FFE, 14); err != nil {
		return errutil.Err(err)
	}

	// 1 bit: reserved.
	if err := bw.WriteBits(0x0, 1); err != nil {
		return errutil.Err(err)
	}

	// 1 bit: blocking strategy.
	//    0: fixed-blocksize stream; frame header encodes the frame number.
	//    1: variable-blocksize stream; frame header encodes the sample number.
	if err := bw.WriteBool(!hdr.HasFixedBlockSize); err != nil {
		return errutil.Err(err)
	}

	// 4 bits: block size in inter-channel samples.
	//    0000: reserved
	//    0001: 192 samples
	//    0010-0101: 576 * 2^(n-2) samples, i.e. 576/1152/2304/4608
	//    0110: get 8 bit (blocksize-1) from end of header
	//    0111: get 16 bit (blocksize-1) from end of header
	//    1000-1111: 256 * 2^(n-8) samples, i.e. 256/512/1024/.../32768
	var (
		blockSizeCode uint64
		// Number of bits of the block size tail stored after the coded number.
		nblockSizeTailBits byte
	)
	switch {
	case hdr.BlockSize == 192:
		blockSizeCode = 0x1
	case hdr.BlockSize == 576 || hdr.BlockSize == 1152 || hdr.BlockSize == 2304 || hdr.BlockSize == 4608:
		blockSizeCode = 0x2 + uint64(bits.TrailingZeros16(hdr.BlockSize/576))
	case hdr.BlockSize&(hdr.BlockSize-1) == 0 && hdr.BlockSize >= 256:
		// Power of two between 256 and 32768.
		blockSizeCode = 0x8 + uint64(bits.TrailingZeros16(hdr.BlockSize/256))
	case hdr.BlockSize <= 256:
		blockSizeCode = 0x6
		nblockSizeTailBits = 8
	default:
		blockSizeCode = 0x7
		nblockSizeTailBits = 16
	}
	if err := bw.WriteBits(blockSizeCode, 4); err != nil {
		return errutil.Err(err)
	}

	// 4 bits: sample rate.
	//    0000: get from STREAMINFO metadata block
	//    0001-1011: enumerated rates
	//    1100: get 8 bit sample rate (in kHz) from end of header
	//    1101: get 16 bit sample rate (in Hz) from end of header
	//    1110: get 16 bit sample rate (in tens of Hz) from end of header
	//    1111: invalid, to prevent sync-fooling string of 1s
	var (
		sampleRateCode uint64
		// Sample rate tail stored after the coded number, if any.
		sampleRateTail      uint64
		nsampleRateTailBits byte
	)
	switch hdr.SampleRate {
	case 0:
		sampleRateCode = 0x0
	case 88200:
		sampleRateCode = 0x1
	case 176400:
		sampleRateCode = 0x2
	case 192000:
		sampleRateCode = 0x3
	case 8000:
		sampleRateCode = 0x4
	case 16000:
		sampleRateCode = 0x5
	case 22050:
		sampleRateCode = 0x6
	case 24000:
		sampleRateCode = 0x7
	case 32000:
		sampleRateCode = 0x8
	case 44100:
		sampleRateCode = 0x9
	case 48000:
		sampleRateCode = 0xA
	case 96000:
		sampleRateCode = 0xB
	default:
		switch {
		case hdr.SampleRate <= 255000 && hdr.SampleRate%1000 == 0:
			sampleRateCode = 0xC
			sampleRateTail = uint64(hdr.SampleRate / 1000)
			nsampleRateTailBits = 8
		case hdr.SampleRate <= 65535:
			sampleRateCode = 0xD
			sampleRateTail = uint64(hdr.SampleRate)
			nsampleRateTailBits = 16
		case hdr.SampleRate <= 655350 && hdr.SampleRate%10 == 0:
			sampleRateCode = 0xE
			sampleRateTail = uint64(hdr.SampleRate / 10)
			nsampleRateTailBits = 16
		default:
			return errutil.Newf("flake.writeFrameHeader: unable to encode sample rate %d", hdr.SampleRate)
		}
	}
	if err := bw.WriteBits(sampleRateCode, 4); err != nil {
		return errutil.Err(err)
	}

	// 4 bits: channel assignment.
	//    0000-0111: (number of independent channels)-1
	//    1000: left/side stereo
	//    1001: side/right stereo
	//    1010: mid/side stereo
	//    1011-1111: reserved
	var channelsCode uint64
	switch hdr.Channels {
	case frame.ChannelsLeftSide:
		channelsCode = 0x8
	case frame.ChannelsSideRight:
		channelsCode = 0x9
	case frame.ChannelsMidSide:
		channelsCode = 0xA
	default:
		channelsCode = uint64(hdr.Channels.Count() - 1)
	}
	if err := bw.WriteBits(channelsCode, 4); err != nil {
		return errutil.Err(err)
	}

	// 3 bits: sample size in bits.
	//    000: get from STREAMINFO metadata block
	//    001: 8 bits per sample
	//    010: 12 bits per sample
	//    100: 16 bits per sample
	//    101: 20 bits per sample
	//    110: 24 bits per sample
	//    011, 111: reserved
	var bpsCode uint64
	switch hdr.BitsPerSample {
	case 8:
		bpsCode = 0x1
	case 12:
		bpsCode = 0x2
	case 16:
		bpsCode = 0x4
	case 20:
		bpsCode = 0x5
	case 24:
		bpsCode = 0x6
	default:
		// Inherit the sample size from the StreamInfo metadata block.
		bpsCode = 0x0
	}
	if err := bw.WriteBits(bpsCode, 3); err != nil {
		return errutil.Err(err)
	}

	// 1 bit: reserved.
	if err := bw.WriteBits(0x0, 1); err != nil {
		return errutil.Err(err)
	}

	// 8-56 bits: UTF-8 coded frame number (fixed block size) or sample number.
	if err := utf8.Encode(bw, hdr.Num); err != nil {
		return errutil.Err(err)
	}

	// Block size tail; used for uncommon block sizes.
	if nblockSizeTailBits > 0 {
		if err := bw.WriteBits(uint64(hdr.BlockSize-1), nblockSizeTailBits); err != nil {
			return errutil.Err(err)
		}
	}

	// Sample rate tail; used for uncommon sample rates.
	if nsampleRateTailBits > 0 {
		if err := bw.WriteBits(sampleRateTail, nsampleRateTailBits); err != nil {
			return errutil.Err(err)
		}
	}

	// Flush pending writes; the frame header is byte aligned.
	if err := bw.Close(); err != nil {
		return errutil.Err(err)
	}

	// 8 bits: CRC-8 (polynomial: x^8 + x^2 + x^1 + x^0, initialized with 0)
	// of everything before the CRC, including the sync code.
	crc := h.Sum8()
	if _, err := w.Write([]byte{crc}); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// verifyFrame decodes the just emitted frame and compares the decoded audio
// samples against the pre-encode input.
func (enc *Encoder) verifyFrame(block [][]int32, n int, frameStart uint64) error {
	f, err := frame.New(enc.verifyBuf)
	if err != nil {
		return errutil.Err(err)
	}
	if f.BitsPerSample == 0 {
		f.BitsPerSample = enc.Info.BitsPerSample
	}
	if f.SampleRate == 0 {
		f.SampleRate = enc.Info.SampleRate
	}
	if err := f.Parse(); err != nil {
		return errutil.Err(err)
	}
	for ch := range block {
		want := block[ch][:n]
		got := f.Subframes[ch].Samples
		for i := range want {
			if got[i] != want[i] {
				return errutil.Newf("flake.Encoder.verifyFrame: verification mismatch at sample %d (frame %d, channel %d, subsample %d); expected %d, got %d",
					frameStart+uint64(i), enc.curFrame-1, ch, i, want[i], got[i])
			}
		}
	}
	return nil
}
