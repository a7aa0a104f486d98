package flake

import (
	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/internal/bits"
)

// Rice parameters at and above the escape code of their residual coding
// method are reserved to mark unencoded partitions.
const (
	maxRiceParam1 = 14 // 4-bit Rice parameter; escape code 15.
	maxRiceParam2 = 30 // 5-bit Rice parameter; escape code 31.
)

// A ricePlan describes the residual partition layout chosen for a subframe;
// the partition order, the Rice parameter of each partition, and the exact
// number of bits of the encoded residual section.
type ricePlan struct {
	method frame.ResidualCodingMethod
	porder int
	params []uint
	bits   int
}

// bestRicePartition chooses the partition order and per-partition Rice
// parameters minimizing the encoded size of the residual, searching partition
// orders from minPartOrder through maxPartOrder. Ties are broken in favor of
// the larger order. The Rice parameter of each partition is estimated from the
// mean absolute residual, optionally refined by searching searchDist
// parameters up and down from the estimate.
func bestRicePartition(residual []int32, predOrder, blockSize, minPartOrder, maxPartOrder int, searchDist uint) ricePlan {
	// Clamp the partition order range: the block size must divide evenly into
	// the partitions and the first partition must have room for at least one
	// residual after the warm-up samples.
	for maxPartOrder > 0 && (blockSize&(1<<uint(maxPartOrder)-1) != 0 || blockSize>>uint(maxPartOrder) <= predOrder) {
		maxPartOrder--
	}
	if minPartOrder > maxPartOrder {
		minPartOrder = maxPartOrder
	}

	// ZigZag fold the residuals; the encoded size of a residual with Rice
	// parameter k is folded>>k + 1 stop bit + k remainder bits. Prefix sums of
	// the absolute residuals give each partition's absolute sum for the
	// parameter estimate.
	folded := make([]uint64, len(residual))
	prefix := make([]uint64, len(residual)+1)
	for i, r := range residual {
		folded[i] = uint64(bits.EncodeZigZag(r))
		prefix[i+1] = prefix[i] + uint64(absInt64(int64(r)))
	}

	var best ricePlan
	for porder := maxPartOrder; porder >= minPartOrder; porder-- {
		nparts := 1 << uint(porder)
		params := make([]uint, nparts)
		residualBits := 0
		maxParam := uint(0)
		start := 0
		for p := 0; p < nparts; p++ {
			nsamples := blockSize >> uint(porder)
			if p == 0 {
				nsamples -= predOrder
			}
			end := start + nsamples

			// Estimate the Rice parameter as floor(log2(mean))+1, accounting
			// for the signed to unsigned fold.
			sum := prefix[end] - prefix[start]
			mean := (sum + uint64(nsamples)/2) / uint64(nsamples)
			est := uint(0)
			for m := mean; m > 0; m >>= 1 {
				est++
			}
			if est > maxRiceParam2 {
				est = maxRiceParam2
			}

			lo, hi := est, est
			if searchDist > 0 {
				if est >= searchDist {
					lo = est - searchDist
				} else {
					lo = 0
				}
				hi = est + searchDist
				if hi > maxRiceParam2 {
					hi = maxRiceParam2
				}
			}
			bestParam, bestBits := est, -1
			for k := lo; k <= hi; k++ {
				cost := riceCost(folded[start:end], k)
				if bestBits < 0 || cost < bestBits {
					bestParam, bestBits = k, cost
				}
			}
			params[p] = bestParam
			if bestParam > maxParam {
				maxParam = bestParam
			}
			residualBits += bestBits
			start = end
		}

		// A partition needing a parameter beyond 14 forces the 5-bit
		// parameter coding method on the whole residual.
		method := frame.ResidualCodingMethodRice1
		paramSize := 4
		if maxParam > maxRiceParam1 {
			method = frame.ResidualCodingMethodRice2
			paramSize = 5
		}
		// 2 bits: residual coding method, 4 bits: partition order.
		total := 2 + 4 + nparts*paramSize + residualBits
		if best.params == nil || total < best.bits {
			best = ricePlan{method: method, porder: porder, params: params, bits: total}
		}
	}
	return best
}

// riceCost returns the exact number of bits needed to Rice encode the folded
// residuals with parameter k, excluding the parameter field itself.
func riceCost(folded []uint64, k uint) int {
	bits := (int(k) + 1) * len(folded)
	for _, f := range folded {
		bits += int(f >> k)
	}
	return bits
}
