package flake

import (
	"math"
)

// maxLPCOrder is the maximum FIR linear prediction order supported by the
// format.
const maxLPCOrder = 32

// computeAutocorrelation computes the autocorrelation of the signal at lags
// 0 through maxLag.
func computeAutocorrelation(signal []float64, maxLag int, autoc []float64) {
	for lag := 0; lag <= maxLag; lag++ {
		var sum float64
		for i := lag; i < len(signal); i++ {
			sum += signal[i] * signal[i-lag]
		}
		autoc[lag] = sum
	}
}

// computeLPCoefficients computes the linear predictor coefficients for each
// order from 1 through maxOrder using the Levinson-Durbin recursion.
//
// lpCoeffs[order-1] holds the coefficients of the given order, and
// lpcError[order-1] the remaining prediction error; the error terms drive the
// order selection heuristic.
func computeLPCoefficients(autoc []float64, maxOrder int, lpCoeffs [][]float64, lpcError []float64) {
	err := autoc[0]
	coeffs := make([]float64, maxOrder)
	for i := 0; i < maxOrder; i++ {
		// Sum up this iteration's reflection coefficient.
		r := -autoc[i+1]
		for j := 0; j < i; j++ {
			r -= coeffs[j] * autoc[i-j]
		}
		r /= err

		// Update LPC coefficients and total error.
		coeffs[i] = r
		for j := 0; j < i/2; j++ {
			tmp := coeffs[j]
			coeffs[j] += r * coeffs[i-1-j]
			coeffs[i-1-j] += r * tmp
		}
		if i&1 != 0 {
			coeffs[i/2] += coeffs[i/2] * r
		}
		err *= 1.0 - r*r

		// Save this order.
		for j := 0; j <= i; j++ {
			// Negate FIR filter coeff to get predictor coeff.
			lpCoeffs[i][j] = -coeffs[j]
		}
		lpcError[i] = err
	}
}

// expectedBitsPerResidualSample estimates the number of bits per residual
// sample of an LPC predictor with the given remaining prediction error, using
// the Shannon-like estimator 1/2 log2 of the error variance.
func expectedBitsPerResidualSample(lpcError float64, nsamples int) float64 {
	if lpcError > 0 {
		bps := 0.5 * math.Log2(lpcError/float64(nsamples))
		if bps >= 0 {
			return bps
		}
	}
	return 0
}

// bestLPCOrder estimates the best LPC order by minimizing the expected total
// subframe bits; the residual estimate plus the warm-up and coefficient
// overhead of the order.
func bestLPCOrder(lpcError []float64, maxOrder, nsamples int, bps, prec uint) int {
	best := 1
	bestBits := math.Inf(1)
	for order := 1; order <= maxOrder; order++ {
		headerBits := float64(order) * float64(bps+prec)
		bits := expectedBitsPerResidualSample(lpcError[order-1], nsamples)*float64(nsamples-order) + headerBits
		if bits < bestBits {
			bestBits = bits
			best = order
		}
	}
	return best
}

// quantizeLPCoefficients quantizes the linear predictor coefficients to
// integers of the given precision, sharing a single shift (the quantization
// level). The ok result is false when no shift within the 5-bit signed field
// can represent the coefficients; the caller skips LPC at this order.
func quantizeLPCoefficients(lpCoeff []float64, prec uint) (qlpCoeffs []int32, shift int32, ok bool) {
	const (
		maxShift = 1<<4 - 1  // 15
		minShift = -(1 << 4) // -16
	)

	// Determine the magnitude of the largest coefficient.
	var cmax float64
	for _, c := range lpCoeff {
		if ac := math.Abs(c); ac > cmax {
			cmax = ac
		}
	}
	if cmax <= 0 {
		// Coefficients are all zero; LPC is of no use here.
		return nil, 0, false
	}

	// Shift the coefficients such that the largest one occupies prec-1 bits
	// (leaving one bit for the sign).
	_, exp := math.Frexp(cmax)
	s := int(prec) - exp - 1
	switch {
	case s > maxShift:
		s = maxShift
	case s < minShift:
		return nil, 0, false
	}
	shift = int32(s)

	qmax := int64(1)<<(prec-1) - 1
	qmin := -(int64(1) << (prec - 1))
	qlpCoeffs = make([]int32, len(lpCoeff))
	// Carry the rounding error of each coefficient over to the next, reducing
	// the accumulated quantization noise of the filter.
	var qerr float64
	for i, c := range lpCoeff {
		v := c*math.Pow(2, float64(shift)) + qerr
		q := int64(math.Round(v))
		if q > qmax {
			q = qmax
		} else if q < qmin {
			q = qmin
		}
		qerr = v - float64(q)
		qlpCoeffs[i] = int32(q)
	}
	return qlpCoeffs, shift, true
}

// computeLPCResidual computes the residual signal of the samples against an
// FIR linear predictor with the given quantized coefficients and quantization
// level. The arithmetic width mirrors the decoder exactly: subframes of at
// most 16 bits-per-sample and 16 bit coefficient precision accumulate in 32
// bits, wider ones in 64 bits. The ok result is false when a residual of the
// 64-bit path overflows 32 bits.
func computeLPCResidual(samples []int32, qlpCoeffs []int32, shift int32, bps, prec uint, residual []int32) (ok bool) {
	order := len(qlpCoeffs)
	if bps <= 16 && prec <= 16 {
		for i := order; i < len(samples); i++ {
			var pred int32
			for j, c := range qlpCoeffs {
				pred += c * samples[i-j-1]
			}
			if shift >= 0 {
				residual[i-order] = samples[i] - pred>>uint(shift)
			} else {
				residual[i-order] = samples[i] - pred<<uint(-shift)
			}
		}
		return true
	}
	for i := order; i < len(samples); i++ {
		var pred int64
		for j, c := range qlpCoeffs {
			pred += int64(c) * int64(samples[i-j-1])
		}
		var r int64
		if shift >= 0 {
			r = int64(samples[i]) - pred>>uint(shift)
		} else {
			r = int64(samples[i]) - pred<<uint(-shift)
		}
		if r < math.MinInt32 || r > math.MaxInt32 {
			return false
		}
		residual[i-order] = int32(r)
	}
	return true
}

// computeFixedResidual computes the residual signal of the samples against the
// fixed polynomial predictor of the given order. The ok result is false when a
// residual overflows 32 bits.
func computeFixedResidual(samples []int32, order int, residual []int32) (ok bool) {
	for i := order; i < len(samples); i++ {
		var r int64
		switch order {
		case 0:
			r = int64(samples[i])
		case 1:
			r = int64(samples[i]) - int64(samples[i-1])
		case 2:
			r = int64(samples[i]) - 2*int64(samples[i-1]) + int64(samples[i-2])
		case 3:
			r = int64(samples[i]) - 3*int64(samples[i-1]) + 3*int64(samples[i-2]) - int64(samples[i-3])
		case 4:
			r = int64(samples[i]) - 4*int64(samples[i-1]) + 6*int64(samples[i-2]) - 4*int64(samples[i-3]) + int64(samples[i-4])
		}
		if r < math.MinInt32 || r > math.MaxInt32 {
			return false
		}
		residual[i-order] = int32(r)
	}
	return true
}

// fixedBestOrder computes the sum of absolute residuals of the signal at each
// fixed predictor order, and returns the order which minimizes it together
// with the expected bits-per-residual-sample at every order.
func fixedBestOrder(samples []int32) (order int, resBits [5]float64) {
	var totalErr [5]uint64
	n := len(samples)
	for i := 4; i < n; i++ {
		e := int64(samples[i])
		totalErr[0] += absInt64(e)
		e = int64(samples[i]) - int64(samples[i-1])
		totalErr[1] += absInt64(e)
		e = int64(samples[i]) - 2*int64(samples[i-1]) + int64(samples[i-2])
		totalErr[2] += absInt64(e)
		e = int64(samples[i]) - 3*int64(samples[i-1]) + 3*int64(samples[i-2]) - int64(samples[i-3])
		totalErr[3] += absInt64(e)
		e = int64(samples[i]) - 4*int64(samples[i-1]) + 6*int64(samples[i-2]) - 4*int64(samples[i-3]) + int64(samples[i-4])
		totalErr[4] += absInt64(e)
	}
	order = 0
	for o := 1; o < 5; o++ {
		if totalErr[o] < totalErr[order] {
			order = o
		}
	}
	for o := range resBits {
		if totalErr[o] > 0 && n > 4 {
			// Shannon-like estimate of the mean absolute residual.
			resBits[o] = math.Log2(float64(totalErr[o]) / float64(n-4))
			if resBits[o] < 0 {
				resBits[o] = 0
			}
		}
	}
	return order, resBits
}

func absInt64(x int64) uint64 {
	if x < 0 {
		return uint64(-x)
	}
	return uint64(x)
}
