package flake

import (
	"bytes"
	"crypto/md5"
	"hash"
	"io"

	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/meta"
	"github.com/mewkiz/pkg/errutil"
)

// Quantized linear predictor coefficient precision bounds; the precision is
// stored as a 4-bit (precision)-1 field, where 0b1111 is invalid.
const (
	minCoeffPrec = 5
	maxCoeffPrec = 15
)

// An Encoder represents a FLAC stream encoder. It buffers up to one block of
// audio samples per channel, and emits one audio frame at a time; the model
// search runs when a block fills up or at stream end.
type Encoder struct {
	// StreamInfo metadata block of the encoded stream; its MD5 checksum,
	// sample count and frame size statistics are backfilled by Close when the
	// output supports seeking.
	Info *meta.StreamInfo
	// Optional metadata blocks, stored in declared order after StreamInfo.
	Blocks []*meta.Block

	// Underlying io.Writer to the output stream, counting bytes written.
	w *countWriter
	// io.Closer of the output stream, if any.
	c io.Closer

	// Configuration.
	blockSize      uint16
	maxLPCOrder    int
	coeffPrec      uint
	precSearch     bool
	exhaustive     bool
	minPartOrder   int
	maxPartOrder   int
	riceSearchDist uint
	midSide        bool
	looseMidSide   bool
	subset         bool
	verify         bool
	npoints        int
	padding        int

	// Per-channel sample buffers of the block being collected.
	block [][]int32
	// Number of buffered inter-channel samples.
	n int

	// Current frame number.
	curFrame uint64
	// Total number of inter-channel samples encoded.
	nsamples uint64
	// MD5 running hash of the unencoded audio samples.
	md5sum hash.Hash
	// Frame size statistics in bytes.
	minFrameSize uint32
	maxFrameSize uint32

	// Seek table template and its resolution state.
	seekTable   *meta.SeekTable
	seekTargets []uint64
	seekFilled  []bool
	// Byte offsets of the seek table block and of the first audio frame.
	seekTableOff  int64
	firstFrameOff int64
	// Last-block flags as written by writeMetadata; patchMetadata reproduces
	// them.
	infoIsLast      bool
	seekTableIsLast bool

	// Committed channel assignment of loose mid-side stereo mode, and the
	// number of frames it remains committed for.
	looseChannels frame.Channels
	looseLeft     int

	// Scratch buffer holding the bytes of the frame being emitted, fed to the
	// verification decoder.
	verifyBuf *bytes.Buffer

	// Sticky error; the encoder cannot back up, so every failure is fatal.
	err error
}

// An Option configures an Encoder.
type Option func(enc *Encoder) error

// WithBlockSize sets the block size in inter-channel samples of each emitted
// frame.
func WithBlockSize(blockSize uint16) Option {
	return func(enc *Encoder) error {
		if blockSize < 16 {
			return errutil.Newf("flake.WithBlockSize: invalid block size (%d); expected >= 16", blockSize)
		}
		enc.blockSize = blockSize
		return nil
	}
}

// WithMaxLPCOrder sets the maximum FIR linear prediction order of the model
// search; an order of 0 disables linear prediction.
func WithMaxLPCOrder(order int) Option {
	return func(enc *Encoder) error {
		if order < 0 || order > maxLPCOrder {
			return errutil.Newf("flake.WithMaxLPCOrder: invalid order (%d); expected 0 through %d", order, maxLPCOrder)
		}
		enc.maxLPCOrder = order
		return nil
	}
}

// WithCoeffPrec sets the quantized linear predictor coefficient precision in
// bits. When search is enabled the model search tries every precision up to
// the configured one.
func WithCoeffPrec(prec uint, search bool) Option {
	return func(enc *Encoder) error {
		if prec < minCoeffPrec || prec > maxCoeffPrec {
			return errutil.Newf("flake.WithCoeffPrec: invalid precision (%d); expected %d through %d", prec, minCoeffPrec, maxCoeffPrec)
		}
		enc.coeffPrec = prec
		enc.precSearch = search
		return nil
	}
}

// WithExhaustiveModelSearch makes the model search try every fixed predictor
// order and every LPC order, instead of the orders picked by the estimators.
func WithExhaustiveModelSearch() Option {
	return func(enc *Encoder) error {
		enc.exhaustive = true
		return nil
	}
}

// WithPartitionOrders sets the range of Rice partition orders searched when
// entropy coding residuals.
func WithPartitionOrders(min, max int) Option {
	return func(enc *Encoder) error {
		if min < 0 || max > 15 || min > max {
			return errutil.Newf("flake.WithPartitionOrders: invalid partition order range [%d, %d]", min, max)
		}
		enc.minPartOrder = min
		enc.maxPartOrder = max
		return nil
	}
}

// WithRiceParameterSearchDist makes the residual partitioner search the given
// number of Rice parameters up and down from the estimated one.
func WithRiceParameterSearchDist(dist uint) Option {
	return func(enc *Encoder) error {
		enc.riceSearchDist = dist
		return nil
	}
}

// WithStereoDecorrelation enables mid-side stereo decorrelation of two
// channel streams. In loose mode the encoder commits to the winning channel
// assignment for roughly 0.4 seconds worth of frames before re-evaluating.
func WithStereoDecorrelation(loose bool) Option {
	return func(enc *Encoder) error {
		enc.midSide = true
		enc.looseMidSide = loose
		return nil
	}
}

// WithVerify makes the encoder feed every emitted frame through an internal
// decoder and compare the decoded samples against the original input. Any
// mismatch fails the stream.
func WithVerify() Option {
	return func(enc *Encoder) error {
		enc.verify = true
		return nil
	}
}

// WithSeekPoints reserves a seek table of n points, evenly spaced across the
// stream. Points are resolved to frame offsets during encoding and backfilled
// by Close when the output supports seeking; unresolved points are kept as
// placeholders.
func WithSeekPoints(n int) Option {
	return func(enc *Encoder) error {
		if n < 1 {
			return errutil.Newf("flake.WithSeekPoints: invalid number of seek points (%d)", n)
		}
		enc.npoints = n
		return nil
	}
}

// WithPadding appends a Padding metadata block of n bytes after the other
// metadata blocks.
func WithPadding(n int) Option {
	return func(enc *Encoder) error {
		if n < 0 {
			return errutil.Newf("flake.WithPadding: invalid padding size (%d)", n)
		}
		enc.padding = n
		return nil
	}
}

// WithBlocks appends the given metadata blocks after the StreamInfo block,
// preserving their declared order.
func WithBlocks(blocks ...*meta.Block) Option {
	return func(enc *Encoder) error {
		enc.Blocks = append(enc.Blocks, blocks...)
		return nil
	}
}

// WithStreamableSubset restricts the encoder to the streamable subset of the
// format, so that any decoder may pick up mid-stream from a frame sync code
// alone. Sample rate, bits-per-sample and block size must then come from the
// enumerations of the frame header codes.
func WithStreamableSubset() Option {
	return func(enc *Encoder) error {
		enc.subset = true
		return nil
	}
}

// NewEncoder returns a new FLAC stream encoder for the given StreamInfo
// metadata block and options. The stream signature, the StreamInfo block and
// all other metadata blocks are written to w before NewEncoder returns; audio
// frames are emitted by Write and WriteChannels, and the stream is finalized
// by Close.
//
// The StreamInfo fields SampleRate, NChannels and BitsPerSample describe the
// raw audio input. NSamples may be 0 when unknown; it is backfilled by Close
// when w supports seeking, as are the MD5 checksum and the frame and block
// size statistics.
func NewEncoder(w io.Writer, info *meta.StreamInfo, opts ...Option) (*Encoder, error) {
	enc := &Encoder{
		Info:         info,
		w:            &countWriter{w: w},
		blockSize:    4096,
		maxLPCOrder:  8,
		coeffPrec:    15,
		minPartOrder: 0,
		maxPartOrder: 8,
		md5sum:       md5.New(),
	}
	if c, ok := w.(io.Closer); ok {
		enc.c = c
	}
	if info.BlockSizeMax != 0 {
		enc.blockSize = info.BlockSizeMax
	}
	for _, opt := range opts {
		if err := opt(enc); err != nil {
			return nil, err
		}
	}
	if err := enc.validateConfig(); err != nil {
		return nil, err
	}

	// The encoder emits fixed-blocksize streams.
	info.BlockSizeMin = enc.blockSize
	info.BlockSizeMax = enc.blockSize
	info.FrameSizeMin = 0
	info.FrameSizeMax = 0
	enc.minFrameSize = ^uint32(0)

	enc.block = make([][]int32, info.NChannels)
	for i := range enc.block {
		enc.block[i] = make([]int32, 0, enc.blockSize)
	}
	if enc.verify {
		enc.verifyBuf = new(bytes.Buffer)
	}
	enc.initSeekTable()

	if err := enc.writeMetadata(); err != nil {
		return nil, err
	}
	enc.firstFrameOff = enc.w.n
	return enc, nil
}

// validateConfig reports the first invalid configuration value of the
// encoder, if any. Configuration errors are fatal before the first frame.
func (enc *Encoder) validateConfig() error {
	info := enc.Info
	if info.NChannels < 1 || info.NChannels > 8 {
		return errutil.Newf("flake.Encoder.validateConfig: invalid number of channels (%d); expected 1 through 8", info.NChannels)
	}
	if info.BitsPerSample < 4 || info.BitsPerSample > 32 {
		return errutil.Newf("flake.Encoder.validateConfig: invalid bits-per-sample (%d); expected 4 through 32", info.BitsPerSample)
	}
	if info.SampleRate == 0 || info.SampleRate > 655350 {
		return errutil.Newf("flake.Encoder.validateConfig: invalid sample rate (%d); expected 1 through 655350 Hz", info.SampleRate)
	}
	if enc.blockSize < 16 {
		return errutil.Newf("flake.Encoder.validateConfig: invalid block size (%d); expected >= 16", enc.blockSize)
	}
	if int(enc.blockSize) <= enc.maxLPCOrder {
		return errutil.Newf("flake.Encoder.validateConfig: block size (%d) too small for maximum LPC order (%d)", enc.blockSize, enc.maxLPCOrder)
	}
	if enc.midSide && info.NChannels != 2 {
		return errutil.Newf("flake.Encoder.validateConfig: mid-side stereo requires 2 channels; got %d", info.NChannels)
	}
	if enc.subset {
		if !subsetBlockSize(enc.blockSize) {
			return errutil.Newf("flake.Encoder.validateConfig: block size (%d) not allowed by the streamable subset", enc.blockSize)
		}
		if info.SampleRate <= 48000 && enc.blockSize > 4608 {
			return errutil.Newf("flake.Encoder.validateConfig: block size (%d) exceeds 4608 for a sample rate of at most 48 kHz; not allowed by the streamable subset", enc.blockSize)
		}
		if !subsetSampleRate(info.SampleRate) {
			return errutil.Newf("flake.Encoder.validateConfig: sample rate (%d) not allowed by the streamable subset", info.SampleRate)
		}
		if !subsetBitsPerSample(info.BitsPerSample) {
			return errutil.Newf("flake.Encoder.validateConfig: bits-per-sample (%d) not allowed by the streamable subset", info.BitsPerSample)
		}
	}
	return nil
}

// subsetBlockSize reports whether the block size has a dedicated frame header
// code within the streamable subset bounds.
func subsetBlockSize(blockSize uint16) bool {
	switch blockSize {
	case 192, 576, 1152, 2304, 4608, 256, 512, 1024, 2048, 4096, 8192, 16384:
		return true
	}
	return false
}

// subsetSampleRate reports whether the sample rate has a dedicated frame
// header code.
func subsetSampleRate(sampleRate uint32) bool {
	switch sampleRate {
	case 8000, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000, 176400, 192000:
		return true
	}
	return false
}

// subsetBitsPerSample reports whether the sample size has a dedicated frame
// header code.
func subsetBitsPerSample(bps uint8) bool {
	switch bps {
	case 8, 12, 16, 20, 24:
		return true
	}
	return false
}

// initSeekTable creates the seek table template; placeholder points spaced
// evenly across the declared sample total.
func (enc *Encoder) initSeekTable() {
	if enc.npoints == 0 {
		return
	}
	enc.seekTable = &meta.SeekTable{Points: make([]meta.SeekPoint, enc.npoints)}
	enc.seekTargets = make([]uint64, enc.npoints)
	enc.seekFilled = make([]bool, enc.npoints)
	for i := range enc.seekTable.Points {
		enc.seekTable.Points[i] = meta.SeekPoint{SampleNum: meta.PlaceholderPoint}
		enc.seekTargets[i] = meta.PlaceholderPoint
		if enc.Info.NSamples > 0 {
			// Evenly spaced target samples; the points resolve to the frames
			// containing them during encoding.
			enc.seekTargets[i] = uint64(i) * enc.Info.NSamples / uint64(enc.npoints)
		}
	}
}

// fillSeekPoints resolves every unfilled seek table point whose target sample
// falls within the emitted frame.
func (enc *Encoder) fillSeekPoints(frameStart uint64, nsamples int, frameOff int64) {
	if enc.seekTable == nil {
		return
	}
	frameEnd := frameStart + uint64(nsamples)
	var prev *meta.SeekPoint
	for i := range enc.seekTable.Points {
		point := &enc.seekTable.Points[i]
		if enc.seekFilled[i] {
			prev = point
			continue
		}
		target := enc.seekTargets[i]
		if target == meta.PlaceholderPoint || target < frameStart || target >= frameEnd {
			continue
		}
		// Seek points refer to frame starts; two targets resolving to the
		// same frame would break the ascending-order invariant, so the
		// duplicate stays a placeholder.
		if prev != nil && prev.SampleNum == frameStart {
			enc.seekTargets[i] = meta.PlaceholderPoint
			continue
		}
		point.SampleNum = frameStart
		point.Offset = uint64(frameOff - enc.firstFrameOff)
		point.NSamples = uint16(nsamples)
		enc.seekFilled[i] = true
		prev = point
	}
}

// Write buffers the given interleaved audio samples, encoding and emitting
// audio frames as blocks fill up. Samples are sign extended to 32 bits, with
// channels interleaved sample by sample:
//
//	sample 0: channel 0, channel 1, ...
//	sample 1: channel 0, channel 1, ...
func (enc *Encoder) Write(samples []int32) error {
	if enc.err != nil {
		return enc.err
	}
	nchannels := int(enc.Info.NChannels)
	if len(samples)%nchannels != 0 {
		return errutil.Newf("flake.Encoder.Write: number of samples (%d) not evenly divisible by number of channels (%d)", len(samples), nchannels)
	}
	for i := 0; i < len(samples); i += nchannels {
		for ch := 0; ch < nchannels; ch++ {
			enc.block[ch] = append(enc.block[ch], samples[i+ch])
		}
		enc.n++
		if enc.n == int(enc.blockSize) {
			if err := enc.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteChannels buffers the given audio samples, one slice per channel,
// encoding and emitting audio frames as blocks fill up. All channel slices
// must have equal length.
func (enc *Encoder) WriteChannels(channels [][]int32) error {
	if enc.err != nil {
		return enc.err
	}
	nchannels := int(enc.Info.NChannels)
	if len(channels) != nchannels {
		return errutil.Newf("flake.Encoder.WriteChannels: number of channels mismatch; expected %d, got %d", nchannels, len(channels))
	}
	for _, channel := range channels[1:] {
		if len(channel) != len(channels[0]) {
			return errutil.Newf("flake.Encoder.WriteChannels: channel length mismatch; expected %d, got %d", len(channels[0]), len(channel))
		}
	}
	for i := range channels[0] {
		for ch := 0; ch < nchannels; ch++ {
			enc.block[ch] = append(enc.block[ch], channels[ch][i])
		}
		enc.n++
		if enc.n == int(enc.blockSize) {
			if err := enc.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushBlock encodes and emits the buffered block as one audio frame, and
// clears the buffer.
func (enc *Encoder) flushBlock() error {
	if err := enc.encodeFrame(enc.block, enc.n); err != nil {
		enc.err = err
		return err
	}
	for ch := range enc.block {
		enc.block[ch] = enc.block[ch][:0]
	}
	enc.n = 0
	return nil
}

// Close encodes any buffered samples as a final (possibly short) frame,
// backfills the StreamInfo statistics and resolves the seek table when the
// output supports seeking, and closes the output stream.
func (enc *Encoder) Close() error {
	if enc.err != nil {
		return enc.err
	}
	if enc.n > 0 {
		if err := enc.flushBlock(); err != nil {
			return err
		}
	}

	// Backfill StreamInfo and the seek table.
	info := enc.Info
	info.NSamples = enc.nsamples
	sum := enc.md5sum.Sum(nil)
	copy(info.MD5sum[:], sum)
	if enc.minFrameSize != ^uint32(0) {
		info.FrameSizeMin = enc.minFrameSize
		info.FrameSizeMax = enc.maxFrameSize
	}
	if ws, ok := enc.w.w.(io.WriteSeeker); ok {
		if err := enc.patchMetadata(ws); err != nil {
			enc.err = err
			return err
		}
	}
	if enc.c != nil {
		return enc.c.Close()
	}
	return nil
}

// countWriter wraps an io.Writer, counting the total number of bytes written.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
