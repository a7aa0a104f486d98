package flake

import (
	"github.com/icza/bitio"
	"github.com/mewkiz/flake/frame"
	iobits "github.com/mewkiz/flake/internal/bits"
	"github.com/mewkiz/pkg/errutil"
)

// writeSubframe encodes the subframe described by the given plan, writing to
// bw.
func writeSubframe(bw bitio.Writer, plan *subframePlan) error {
	if err := writeSubframeHeader(bw, plan); err != nil {
		return err
	}
	switch plan.pred {
	case frame.PredConstant:
		// Unencoded constant value of the subblock.
		if err := writeInt(bw, int64(plan.samples[0]), plan.bps); err != nil {
			return errutil.Err(err)
		}
	case frame.PredVerbatim:
		// Unencoded subblock.
		for _, sample := range plan.samples {
			if err := writeInt(bw, int64(sample), plan.bps); err != nil {
				return errutil.Err(err)
			}
		}
	case frame.PredFixed:
		// Unencoded warm-up samples.
		for _, sample := range plan.samples[:plan.order] {
			if err := writeInt(bw, int64(sample), plan.bps); err != nil {
				return errutil.Err(err)
			}
		}
		if err := writeResidual(bw, plan); err != nil {
			return err
		}
	case frame.PredFIR:
		// Unencoded warm-up samples.
		for _, sample := range plan.samples[:plan.order] {
			if err := writeInt(bw, int64(sample), plan.bps); err != nil {
				return errutil.Err(err)
			}
		}

		// 4 bits: (quantized linear predictor coefficient precision)-1.
		if err := bw.WriteBits(uint64(plan.prec-1), 4); err != nil {
			return errutil.Err(err)
		}

		// 5 bits: quantization level; signed.
		if err := writeInt(bw, int64(plan.shift), 5); err != nil {
			return errutil.Err(err)
		}

		// (precision)*(order) bits: quantized predictor coefficients.
		for _, coeff := range plan.coeffs {
			if err := writeInt(bw, int64(coeff), plan.prec); err != nil {
				return errutil.Err(err)
			}
		}
		if err := writeResidual(bw, plan); err != nil {
			return err
		}
	}
	return nil
}

// writeSubframeHeader encodes the header of the subframe, writing to bw.
//
// Subframe header format (pseudo code):
//
//	type SUBFRAME_HEADER struct {
//	   _           uint1 // zero-padding, to prevent sync-fooling.
//	   type        uint6
//	   wasted_flag uint1
//	   // if wasted_flag is set, k-1 follows, unary coded.
//	}
func writeSubframeHeader(bw bitio.Writer, plan *subframePlan) error {
	// 1 bit: zero-padding.
	if err := bw.WriteBits(0x0, 1); err != nil {
		return errutil.Err(err)
	}

	// 6 bits: subframe type.
	//    000000: SUBFRAME_CONSTANT
	//    000001: SUBFRAME_VERBATIM
	//    001xxx: SUBFRAME_FIXED, xxx=order
	//    1xxxxx: SUBFRAME_LPC, xxxxx=order-1
	var typeBits uint64
	switch plan.pred {
	case frame.PredConstant:
		typeBits = 0x00
	case frame.PredVerbatim:
		typeBits = 0x01
	case frame.PredFixed:
		typeBits = 0x08 | uint64(plan.order)
	case frame.PredFIR:
		typeBits = 0x20 | uint64(plan.order-1)
	}
	if err := bw.WriteBits(typeBits, 6); err != nil {
		return errutil.Err(err)
	}

	// 1 bit: wasted bits-per-sample flag.
	//    0: no wasted bits-per-sample in source subblock, k=0.
	//    1: k wasted bits-per-sample in source subblock, k-1 follows, unary
	//       coded; e.g. k=3 => 001 follows, k=7 => 0000001 follows.
	hasWastedBits := plan.wasted > 0
	if err := bw.WriteBool(hasWastedBits); err != nil {
		return errutil.Err(err)
	}
	if hasWastedBits {
		if err := iobits.WriteUnary(bw, uint64(plan.wasted-1)); err != nil {
			return errutil.Err(err)
		}
	}
	return nil
}

// writeResidual encodes the residual (prediction method error signal) of the
// subframe, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#residual
func writeResidual(bw bitio.Writer, plan *subframePlan) error {
	// 2 bits: residual coding method.
	//    00: Rice coding with a 4-bit Rice parameter.
	//    01: Rice coding with a 5-bit Rice parameter.
	if err := bw.WriteBits(uint64(plan.rice.method), 2); err != nil {
		return errutil.Err(err)
	}
	paramSize := byte(4)
	if plan.rice.method == frame.ResidualCodingMethodRice2 {
		paramSize = 5
	}

	// 4 bits: partition order.
	porder := plan.rice.porder
	if err := bw.WriteBits(uint64(porder), 4); err != nil {
		return errutil.Err(err)
	}

	// 2^porder partitions, each headed by its Rice parameter. The first
	// partition is shortened by the prediction order.
	blockSize := len(plan.samples)
	cur := 0
	for p, param := range plan.rice.params {
		if err := bw.WriteBits(uint64(param), paramSize); err != nil {
			return errutil.Err(err)
		}
		nsamples := blockSize >> uint(porder)
		if p == 0 {
			nsamples -= plan.order
		}
		for _, residual := range plan.residual[cur : cur+nsamples] {
			if err := writeRice(bw, residual, param); err != nil {
				return err
			}
		}
		cur += nsamples
	}
	return nil
}

// writeRice encodes a single residual as a Rice code with parameter k; the
// ZigZag folded value is split into a unary coded quotient and k remainder
// bits.
func writeRice(bw bitio.Writer, residual int32, k uint) error {
	folded := iobits.EncodeZigZag(residual)
	high := uint64(folded) >> k
	low := uint64(folded) & (1<<k - 1)
	if err := iobits.WriteUnary(bw, high); err != nil {
		return errutil.Err(err)
	}
	if k > 0 {
		if err := bw.WriteBits(low, byte(k)); err != nil {
			return errutil.Err(err)
		}
	}
	return nil
}

// writeInt writes the n least significant bits of the two's complement
// representation of x.
func writeInt(bw bitio.Writer, x int64, n uint) error {
	return bw.WriteBits(uint64(x)&(1<<n-1), byte(n))
}
