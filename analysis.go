package flake

import (
	"math/bits"

	"github.com/mewkiz/flake/frame"
)

// subframeHeaderBits is the size of a subframe header without the wasted
// bits-per-sample count; the zero-pad bit, the 6-bit type code and the wasted
// flag.
const subframeHeaderBits = 1 + 6 + 1

// A subframePlan holds the outcome of the model search for one channel of a
// frame; the chosen prediction method with its parameters, the residual
// signal, and the exact size in bits of the encoded subframe.
type subframePlan struct {
	pred   frame.Pred
	order  int
	wasted uint
	// Effective bits-per-sample after the wasted-bit shift.
	bps uint
	// Samples with the wasted bits shifted out.
	samples  []int32
	residual []int32
	// FIR linear prediction parameters.
	prec   uint
	shift  int32
	coeffs []int32
	rice   ricePlan
	bits   int
}

// headerBits returns the subframe header size of the plan, including the
// unary coded wasted bits-per-sample count.
func (plan *subframePlan) headerBits() int {
	n := subframeHeaderBits
	if plan.wasted > 0 {
		n += int(plan.wasted)
	}
	return n
}

// analyzeChannel runs the model search across the enabled subframe types for
// the samples of one channel candidate, and returns the plan with the
// smallest encoded size in bits.
func (enc *Encoder) analyzeChannel(samples []int32, bps uint) *subframePlan {
	n := len(samples)

	// Shift out wasted bits; trailing zero bits common to every sample of the
	// subblock.
	wasted := wastedBits(samples)
	if wasted > 0 {
		shifted := make([]int32, n)
		for i, sample := range samples {
			shifted[i] = sample >> wasted
		}
		samples = shifted
		bps -= wasted
	}

	// Verbatim subframe is the baseline against which the compressed
	// subframes are measured.
	best := &subframePlan{
		pred:    frame.PredVerbatim,
		wasted:  wasted,
		bps:     bps,
		samples: samples,
	}
	best.bits = best.headerBits() + n*int(bps)

	if n <= 4 {
		// Too small a block for the predictors to warm up.
		return best
	}

	// Constant subframe.
	if constant(samples) {
		plan := &subframePlan{
			pred:    frame.PredConstant,
			wasted:  wasted,
			bps:     bps,
			samples: samples,
		}
		plan.bits = plan.headerBits() + int(bps)
		if plan.bits < best.bits {
			best = plan
		}
		// No predictor improves on a run-length encoded constant.
		return best
	}

	// Fixed predictors.
	guessOrder, fixedResBits := fixedBestOrder(samples)
	minFixed, maxFixed := guessOrder, guessOrder
	if enc.exhaustive {
		minFixed, maxFixed = 0, 4
	}
	residual := make([]int32, n)
	for order := minFixed; order <= maxFixed; order++ {
		if fixedResBits[order] >= float64(bps) {
			// The residual estimate is no smaller than the raw samples.
			continue
		}
		if !computeFixedResidual(samples, order, residual[:n-order]) {
			continue
		}
		plan := &subframePlan{
			pred:     frame.PredFixed,
			order:    order,
			wasted:   wasted,
			bps:      bps,
			samples:  samples,
			residual: append([]int32(nil), residual[:n-order]...),
		}
		plan.rice = bestRicePartition(plan.residual, order, n, enc.minPartOrder, enc.maxPartOrder, enc.riceSearchDist)
		plan.bits = plan.headerBits() + order*int(bps) + plan.rice.bits
		if plan.bits < best.bits {
			best = plan
		}
	}

	// FIR linear prediction.
	maxOrder := enc.maxLPCOrder
	if maxOrder >= n {
		maxOrder = n - 1
	}
	if maxOrder > 0 {
		real := make([]float64, n)
		for i, sample := range samples {
			real[i] = float64(sample)
		}
		autoc := make([]float64, maxOrder+1)
		computeAutocorrelation(real, maxOrder, autoc)
		// A zero lag-0 autocorrelation marks a constant zero signal, handled
		// by the constant subframe above.
		if autoc[0] != 0 {
			lpCoeffs := make([][]float64, maxOrder)
			for i := range lpCoeffs {
				lpCoeffs[i] = make([]float64, maxOrder)
			}
			lpcError := make([]float64, maxOrder)
			computeLPCoefficients(autoc, maxOrder, lpCoeffs, lpcError)

			minOrder, maxSearchOrder := 1, maxOrder
			if !enc.exhaustive {
				guess := bestLPCOrder(lpcError, maxOrder, n, bps, enc.coeffPrec)
				minOrder, maxSearchOrder = guess, guess
			}
			minPrec, maxPrec := enc.coeffPrec, enc.coeffPrec
			if enc.precSearch {
				minPrec, maxPrec = minCoeffPrec, enc.coeffPrec
				if limit := 32 - int(bps) - 1; limit < int(maxPrec) {
					if limit < int(minPrec) {
						// No precision headroom at this sample resolution;
						// fall back to the configured precision.
						minPrec, maxPrec = enc.coeffPrec, enc.coeffPrec
					} else {
						maxPrec = uint(limit)
					}
				}
			}
			for order := minOrder; order <= maxSearchOrder; order++ {
				if expectedBitsPerResidualSample(lpcError[order-1], n-order) >= float64(bps) {
					continue
				}
				for prec := minPrec; prec <= maxPrec; prec++ {
					qlpCoeffs, shift, ok := quantizeLPCoefficients(lpCoeffs[order-1][:order], prec)
					if !ok {
						continue
					}
					if !computeLPCResidual(samples, qlpCoeffs, shift, bps, prec, residual[:n-order]) {
						continue
					}
					plan := &subframePlan{
						pred:     frame.PredFIR,
						order:    order,
						wasted:   wasted,
						bps:      bps,
						samples:  samples,
						residual: append([]int32(nil), residual[:n-order]...),
						prec:     prec,
						shift:    shift,
						coeffs:   qlpCoeffs,
					}
					plan.rice = bestRicePartition(plan.residual, order, n, enc.minPartOrder, enc.maxPartOrder, enc.riceSearchDist)
					// 4 bits: precision-1, 5 bits: quantization level.
					plan.bits = plan.headerBits() + 4 + 5 + order*int(bps+prec) + plan.rice.bits
					if plan.bits < best.bits {
						best = plan
					}
				}
			}
		}
	}
	return best
}

// wastedBits returns the greatest k such that every sample is divisible by
// 2^k; the number of trailing zero bits shared by all samples. An all-zero
// subblock has no wasted bits; it run-length encodes as a constant.
func wastedBits(samples []int32) uint {
	var or int32
	for _, sample := range samples {
		or |= sample
	}
	if or == 0 {
		return 0
	}
	return uint(bits.TrailingZeros32(uint32(or)))
}

// constant reports whether all samples share a single value.
func constant(samples []int32) bool {
	for _, sample := range samples[1:] {
		if sample != samples[0] {
			return false
		}
	}
	return true
}
