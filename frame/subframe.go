package frame

import (
	"github.com/mewkiz/pkg/errutil"
)

// A Subframe contains the encoded audio samples from one channel of an audio
// frame.
//
// ref: https://www.xiph.org/flac/format.html#subframe
type Subframe struct {
	// Subframe header.
	SubHeader
	// Audio samples of the subframe. A constant subframe is unrolled, a
	// predicted subframe is restored; Samples always holds NSamples decoded
	// samples once parsing is done.
	Samples []int32
	// Number of audio samples in the subframe.
	NSamples int
	// Residual coding method used by the entropy coded residual section.
	ResidualCodingMethod ResidualCodingMethod
	// Rice partition layout of the residual section; populated by predictor
	// based subframes.
	RiceSubframe *RiceSubframe
}

// A SubHeader contains the prediction method and order of a subframe, and the
// number of wasted bits-per-sample of its source subblock.
//
// ref: https://www.xiph.org/flac/format.html#subframe_header
type SubHeader struct {
	// Specifies the prediction method used to encode the audio samples of the
	// subframe.
	Pred Pred
	// Prediction order used by fixed and FIR linear prediction decoding.
	Order int
	// Wasted bits-per-sample; a count of trailing zero bits shifted out of
	// every sample of the source subblock, restored after prediction.
	Wasted uint
	// Quantized linear predictor coefficient precision in bits; FIR linear
	// prediction only.
	CoeffPrec uint
	// Quantization level; the right shift applied to the predictor sum. FIR
	// linear prediction only.
	Shift int32
	// Quantized linear predictor coefficients; FIR linear prediction only.
	Coeffs []int32
}

// Pred specifies the prediction method used to encode the audio samples of a
// subframe.
type Pred uint8

// Prediction methods.
const (
	// PredConstant specifies that the subframe contains a constant sound. The
	// audio samples are encoded using run-length encoding.
	PredConstant Pred = iota
	// PredVerbatim specifies that the subframe contains unencoded audio
	// samples.
	PredVerbatim
	// PredFixed specifies that the subframe encodes residuals against one of
	// five fixed (predefined) polynomial predictors.
	PredFixed
	// PredFIR specifies that the subframe encodes residuals against a custom
	// FIR linear predictor.
	PredFIR
)

// ResidualCodingMethod specifies a residual coding method.
type ResidualCodingMethod uint8

// Residual coding methods.
const (
	// Rice coding with a 4-bit Rice parameter.
	ResidualCodingMethodRice1 ResidualCodingMethod = 0
	// Rice coding with a 5-bit Rice parameter.
	ResidualCodingMethodRice2 ResidualCodingMethod = 1
)

// A RiceSubframe holds the partition order and partitions of the entropy coded
// residual section of a subframe.
type RiceSubframe struct {
	// Partition order; the residual is split into 2^PartOrder partitions.
	PartOrder int
	// Rice partitions, one per partition.
	Partitions []RicePartition
}

// A RicePartition holds the Rice parameter of one residual partition, or the
// bit width of its unencoded (escaped) samples.
type RicePartition struct {
	// Rice parameter.
	Param uint
	// Bit width of unencoded binary samples; used by escaped partitions only.
	EscapedBitWidth uint
}

// FixedCoeffs maps from prediction order to the polynomial coefficients of the
// fixed predictors, corresponding to repeated forward differences:
//
//	x_0[n] = 0
//	x_1[n] = x[n-1]
//	x_2[n] = 2*x[n-1] - x[n-2]
//	x_3[n] = 3*x[n-1] - 3*x[n-2] + x[n-3]
//	x_4[n] = 4*x[n-1] - 6*x[n-2] + 4*x[n-3] - x[n-4]
var FixedCoeffs = [5][]int32{
	{},
	{1},
	{2, -1},
	{3, -3, 1},
	{4, -6, 4, -1},
}

// parseSubframe reads and parses the header and encoded audio samples of a
// subframe, decoding bps bits-per-sample.
func (frame *Frame) parseSubframe(bps uint) (subframe *Subframe, err error) {
	subframe = &Subframe{NSamples: int(frame.BlockSize)}
	if err := subframe.parseHeader(frame); err != nil {
		return subframe, err
	}
	// Wasted bits-per-sample have been shifted out of every sample before
	// encoding; decode at the reduced resolution and restore the shift after
	// prediction.
	if subframe.Wasted >= bps {
		return subframe, errutil.Newf("frame.Frame.parseSubframe: wasted bits-per-sample (%d) exceeds sample resolution (%d)", subframe.Wasted, bps)
	}
	bps -= subframe.Wasted

	switch subframe.Pred {
	case PredConstant:
		err = subframe.decodeConstant(frame, bps)
	case PredVerbatim:
		err = subframe.decodeVerbatim(frame, bps)
	case PredFixed:
		err = subframe.decodeFixed(frame, bps)
	case PredFIR:
		err = subframe.decodeFIR(frame, bps)
	}
	if err != nil {
		return subframe, err
	}

	if subframe.Wasted > 0 {
		for i, sample := range subframe.Samples {
			subframe.Samples[i] = sample << subframe.Wasted
		}
	}
	return subframe, nil
}

// parseHeader reads and parses the header of a subframe.
//
// Subframe header format (pseudo code):
//
//	type SUBFRAME_HEADER struct {
//	   _           uint1 // zero-padding, to prevent sync-fooling.
//	   type        uint6
//	   // 0: no wasted bits-per-sample in source subblock, k = 0.
//	   // 1: k wasted bits-per-sample in source subblock, k-1 follows, unary
//	   // coded; e.g. k=3 => 001 follows, k=7 => 0000001 follows.
//	   wasted_flag uint1
//	}
func (subframe *Subframe) parseHeader(frame *Frame) error {
	// 1 bit: zero-padding.
	x, err := frame.br.Read(1)
	if err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errutil.Newf("frame.Subframe.parseHeader: non-zero padding bit")
	}

	// 6 bits: subframe type.
	//    000000: SUBFRAME_CONSTANT
	//    000001: SUBFRAME_VERBATIM
	//    00001x: reserved
	//    0001xx: reserved
	//    001xxx: if(xxx <= 4) SUBFRAME_FIXED, xxx=order; else reserved
	//    01xxxx: reserved
	//    1xxxxx: SUBFRAME_LPC, xxxxx=order-1
	x, err = frame.br.Read(6)
	if err != nil {
		return unexpected(err)
	}
	switch {
	case x == 0x00:
		subframe.Pred = PredConstant
	case x == 0x01:
		subframe.Pred = PredVerbatim
	case 0x08 <= x && x <= 0x0C:
		subframe.Pred = PredFixed
		subframe.Order = int(x & 0x07)
	case 0x20 <= x:
		subframe.Pred = PredFIR
		subframe.Order = int(x&0x1F) + 1
	default:
		return errutil.Newf("frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
	}

	// 1 bit: wasted bits-per-sample flag.
	x, err = frame.br.Read(1)
	if err != nil {
		return unexpected(err)
	}
	if x != 0 {
		// k-1 follows, unary coded.
		k, err := frame.br.ReadUnary()
		if err != nil {
			return unexpected(err)
		}
		subframe.Wasted = uint(k) + 1
	}
	return nil
}

// decodeConstant reads the constant value of the subframe and unrolls it to
// all samples.
//
// ref: https://www.xiph.org/flac/format.html#subframe_constant
func (subframe *Subframe) decodeConstant(frame *Frame, bps uint) error {
	// (bits-per-sample) bits: constant value of the unencoded subblock.
	x, err := frame.br.ReadInt(bps)
	if err != nil {
		return unexpected(err)
	}
	sample := int32(x)
	subframe.Samples = make([]int32, subframe.NSamples)
	for i := range subframe.Samples {
		subframe.Samples[i] = sample
	}
	return nil
}

// decodeVerbatim reads the unencoded audio samples of the subframe.
//
// ref: https://www.xiph.org/flac/format.html#subframe_verbatim
func (subframe *Subframe) decodeVerbatim(frame *Frame, bps uint) error {
	// (bits-per-sample)*(block size) bits: unencoded subblock.
	subframe.Samples = make([]int32, subframe.NSamples)
	for i := range subframe.Samples {
		x, err := frame.br.ReadInt(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples[i] = int32(x)
	}
	return nil
}

// decodeFixed reads the warm-up samples and encoded residuals of the subframe
// and restores the original audio samples using a fixed polynomial predictor.
//
// ref: https://www.xiph.org/flac/format.html#subframe_fixed
func (subframe *Subframe) decodeFixed(frame *Frame, bps uint) error {
	if subframe.Order > subframe.NSamples {
		return errutil.Newf("frame.Subframe.decodeFixed: prediction order (%d) exceeds block size (%d)", subframe.Order, subframe.NSamples)
	}

	// (bits-per-sample)*(prediction order) bits: unencoded warm-up samples.
	subframe.Samples = make([]int32, subframe.NSamples)
	for i := 0; i < subframe.Order; i++ {
		x, err := frame.br.ReadInt(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples[i] = int32(x)
	}

	// Entropy coded residual of length (block size)-(prediction order).
	if err := subframe.decodeResidual(frame); err != nil {
		return err
	}

	// Restore the original samples; the residuals decoded into the tail of
	// Samples serve as scratch, each being consumed right before its slot is
	// overwritten.
	coeffs := FixedCoeffs[subframe.Order]
	samples := subframe.Samples
	for i := subframe.Order; i < len(samples); i++ {
		var pred int64
		for j, c := range coeffs {
			pred += int64(c) * int64(samples[i-j-1])
		}
		samples[i] = int32(int64(samples[i]) + pred)
	}
	return nil
}

// decodeFIR reads the warm-up samples, quantized coefficients and encoded
// residuals of the subframe and restores the original audio samples using FIR
// linear prediction.
//
// ref: https://www.xiph.org/flac/format.html#subframe_lpc
func (subframe *Subframe) decodeFIR(frame *Frame, bps uint) error {
	if subframe.Order > subframe.NSamples {
		return errutil.Newf("frame.Subframe.decodeFIR: prediction order (%d) exceeds block size (%d)", subframe.Order, subframe.NSamples)
	}

	// (bits-per-sample)*(prediction order) bits: unencoded warm-up samples.
	subframe.Samples = make([]int32, subframe.NSamples)
	for i := 0; i < subframe.Order; i++ {
		x, err := frame.br.ReadInt(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples[i] = int32(x)
	}

	// 4 bits: (quantized linear predictor coefficient precision)-1.
	x, err := frame.br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	if x == 0xF {
		return errutil.Newf("frame.Subframe.decodeFIR: invalid quantized linear predictor coefficient precision bit pattern (%04b)", x)
	}
	subframe.CoeffPrec = uint(x) + 1

	// 5 bits: quantized linear predictor coefficient shift needed in bits.
	shift, err := frame.br.ReadInt(5)
	if err != nil {
		return unexpected(err)
	}
	subframe.Shift = int32(shift)

	// (precision)*(order) bits: unencoded quantized predictor coefficients.
	subframe.Coeffs = make([]int32, subframe.Order)
	for i := range subframe.Coeffs {
		x, err := frame.br.ReadInt(subframe.CoeffPrec)
		if err != nil {
			return unexpected(err)
		}
		subframe.Coeffs[i] = int32(x)
	}

	// Entropy coded residual of length (block size)-(prediction order).
	if err := subframe.decodeResidual(frame); err != nil {
		return err
	}

	// Restore the original samples. A 32-bit accumulator suffices when both
	// the sample resolution and the coefficient precision fit within 16 bits;
	// wider subframes predict through a 64-bit accumulator.
	if bps <= 16 && subframe.CoeffPrec <= 16 {
		subframe.restoreFIR32()
	} else {
		subframe.restoreFIR64()
	}
	return nil
}

// restoreFIR32 restores the audio samples of a FIR predicted subframe using
// 32-bit arithmetic; the fast path for streams of at most 16 bits-per-sample
// and 16 bit coefficient precision.
func (subframe *Subframe) restoreFIR32() {
	samples := subframe.Samples
	coeffs := subframe.Coeffs
	shift := subframe.Shift
	for i := subframe.Order; i < len(samples); i++ {
		var pred int32
		for j, c := range coeffs {
			pred += c * samples[i-j-1]
		}
		if shift >= 0 {
			samples[i] += pred >> uint(shift)
		} else {
			samples[i] += pred << uint(-shift)
		}
	}
}

// restoreFIR64 restores the audio samples of a FIR predicted subframe using a
// 64-bit accumulator.
func (subframe *Subframe) restoreFIR64() {
	samples := subframe.Samples
	coeffs := subframe.Coeffs
	shift := subframe.Shift
	for i := subframe.Order; i < len(samples); i++ {
		var pred int64
		for j, c := range coeffs {
			pred += int64(c) * int64(samples[i-j-1])
		}
		if shift >= 0 {
			samples[i] = int32(int64(samples[i]) + pred>>uint(shift))
		} else {
			samples[i] = int32(int64(samples[i]) + pred<<uint(-shift))
		}
	}
}

// decodeResidual reads and decodes the encoded residuals (prediction method
// error signals) of the subframe.
//
// ref: https://www.xiph.org/flac/format.html#residual
func (subframe *Subframe) decodeResidual(frame *Frame) error {
	// 2 bits: residual coding method.
	x, err := frame.br.Read(2)
	if err != nil {
		return unexpected(err)
	}
	//    00: Rice coding with a 4-bit Rice parameter.
	//    01: Rice coding with a 5-bit Rice parameter.
	//    10-11: reserved.
	switch x {
	case 0x0:
		subframe.ResidualCodingMethod = ResidualCodingMethodRice1
		return subframe.decodeRicePart(frame, 4)
	case 0x1:
		subframe.ResidualCodingMethod = ResidualCodingMethodRice2
		return subframe.decodeRicePart(frame, 5)
	default:
		return errutil.Newf("frame.Subframe.decodeResidual: reserved residual coding method bit pattern (%02b)", x)
	}
}

// decodeRicePart decodes the Rice partitions of residuals of the subframe,
// using a Rice parameter of the specified size in bits.
//
// ref: https://www.xiph.org/flac/format.html#partitioned_rice
// ref: https://www.xiph.org/flac/format.html#partitioned_rice2
func (subframe *Subframe) decodeRicePart(frame *Frame, paramSize uint) error {
	// 4 bits: partition order.
	x, err := frame.br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	partOrder := int(x)
	riceSubframe := &RiceSubframe{
		PartOrder:  partOrder,
		Partitions: make([]RicePartition, 1<<uint(partOrder)),
	}
	subframe.RiceSubframe = riceSubframe

	// Parse Rice partitions; in total 2^partOrder partitions.
	nparts := 1 << uint(partOrder)
	if subframe.NSamples%nparts != 0 {
		return errutil.Newf("frame.Subframe.decodeRicePart: block size (%d) is not evenly divisible by the number of partitions (%d)", subframe.NSamples, nparts)
	}
	escape := uint64(1)<<paramSize - 1
	cur := subframe.Order
	for i := range riceSubframe.Partitions {
		partition := &riceSubframe.Partitions[i]
		// (4 or 5) bits: Rice parameter.
		x, err := frame.br.Read(paramSize)
		if err != nil {
			return unexpected(err)
		}

		// Determine the number of samples in the partition; the first
		// partition is shortened by the prediction order.
		nsamples := subframe.NSamples / nparts
		if i == 0 {
			nsamples -= subframe.Order
		}
		if nsamples < 0 || cur+nsamples > subframe.NSamples {
			return errutil.Newf("frame.Subframe.decodeRicePart: prediction order (%d) exceeds size of first partition", subframe.Order)
		}

		if x == escape {
			// Escape code; the partition samples are stored unencoded with a
			// given bit width.
			n, err := frame.br.Read(5)
			if err != nil {
				return unexpected(err)
			}
			partition.Param = uint(escape)
			partition.EscapedBitWidth = uint(n)
			for j := 0; j < nsamples; j++ {
				var residual int64
				if n > 0 {
					residual, err = frame.br.ReadInt(uint(n))
					if err != nil {
						return unexpected(err)
					}
				}
				subframe.Samples[cur] = int32(residual)
				cur++
			}
			continue
		}

		partition.Param = uint(x)
		for j := 0; j < nsamples; j++ {
			residual, err := frame.br.ReadRice(uint(x))
			if err != nil {
				return unexpected(err)
			}
			subframe.Samples[cur] = residual
			cur++
		}
	}
	return nil
}
