package flake

import (
	"io"

	"github.com/mewkiz/flake/meta"
	"github.com/mewkiz/pkg/errutil"
)

// seekGuard is subtracted from the stream length when deriving the upper
// probe bound; room for a trailing ID3v1 tag plus indexing differences.
const seekGuard = 130

// maxSeekProbes bounds the number of frame probes of a single seek; a probe
// loop that fails to converge within it marks a defective stream.
const maxSeekProbes = 64

// Seek positions the stream such that the next call to ParseNext delivers
// audio samples starting at the exact target sample; the leading samples of
// the frame containing the target are trimmed. It returns the target sample
// number.
//
// The stream must have been created with NewSeek or Open. Seeking disables
// MD5 verification for the remainder of the stream.
func (stream *Stream) Seek(sampleNum uint64) (uint64, error) {
	if stream.rs == nil {
		return 0, errutil.Newf("flake.Stream.Seek: stream is not seekable")
	}
	if stream.Info.NSamples > 0 && sampleNum >= stream.Info.NSamples {
		return 0, errutil.Newf("flake.Stream.Seek: target sample %d exceeds total number of samples %d", sampleNum, stream.Info.NSamples)
	}
	stream.pending = nil
	stream.seeked = true

	length, err := stream.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errutil.Err(err)
	}

	// A guess at the byte size of a frame; we want to guess high, not low.
	info := stream.Info
	approx := int64(info.FrameSizeMax)
	if approx == 0 {
		approx = int64(info.BlockSizeMax)*int64(info.NChannels)*int64(info.BitsPerSample)/8 + 64
	}

	// Upper and lower bounds on where in the stream to probe; our best guess
	// at the start of the first and last frames.
	lowerBound := stream.dataStart
	upperBound := length - approx - seekGuard
	if upperBound <= lowerBound {
		upperBound = lowerBound + 1
	}

	// Narrow the bounds using the seek table, when present. Seek point
	// offsets are relative to the first frame; placeholder points never
	// match.
	var lowerPoint, upperPoint *meta.SeekPoint
	if stream.seekTable != nil {
		points := stream.seekTable.Points
		// Closest seek point at or before the target sample.
		for i := len(points) - 1; i >= 0; i-- {
			if points[i].SampleNum != meta.PlaceholderPoint && points[i].SampleNum <= sampleNum {
				lowerPoint = &points[i]
				lowerBound = stream.dataStart + int64(points[i].Offset)
				break
			}
		}
		// Closest seek point past the target sample.
		for i := range points {
			if points[i].SampleNum != meta.PlaceholderPoint && points[i].SampleNum > sampleNum {
				upperPoint = &points[i]
				upperBound = stream.dataStart + int64(points[i].Offset)
				break
			}
		}
	}

	// First probe position; linear interpolation on the bracketing seek
	// points, or against the stream totals.
	pos := int64(-1)
	if lowerPoint != nil {
		if sampleNum < lowerPoint.SampleNum+uint64(lowerPoint.NSamples)*4 {
			// Within a few frames of the lower seek point.
			pos = lowerBound
		} else if upperPoint != nil {
			targetOff := sampleNum - lowerPoint.SampleNum
			rangeSamples := upperPoint.SampleNum - lowerPoint.SampleNum
			rangeBytes := upperBound - lowerBound
			pos = lowerBound + int64(float64(targetOff)/float64(rangeSamples)*float64(rangeBytes-1)) - approx
		}
	}
	if pos < 0 {
		if info.NSamples > 0 {
			pos = stream.dataStart + int64(float64(sampleNum)/float64(info.NSamples)*float64(length-stream.dataStart-1)) - approx
		} else {
			pos = stream.dataStart
		}
	}
	if pos >= upperBound {
		pos = upperBound - 1
	}
	if pos < lowerBound {
		pos = lowerBound
	}

	var (
		lastPos         int64
		lastFrameSample uint64
		// Sample number of the first probe has nothing to compare against.
		first     = true
		needsSeek = true
	)
	for probe := 0; probe < maxSeekProbes; probe++ {
		if needsSeek {
			if _, err := stream.rs.Seek(pos, io.SeekStart); err != nil {
				return 0, errutil.Err(err)
			}
			stream.sr.reset()
		}
		f, err := stream.readFrame()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Probed past the last frame; back up.
				pos -= approx
				if pos < lowerBound {
					pos = lowerBound
				}
				needsSeek = true
				continue
			}
			// A probe may land within residual data whose bit patterns mimic
			// a sync code; scan on from the next sync code.
			needsSeek = false
			continue
		}
		thisFrameSample := f.SampleNumber(info.BlockSizeMax)
		if thisFrameSample <= sampleNum && sampleNum < thisFrameSample+uint64(f.BlockSize) {
			// Target frame found; trim the leading samples and hold the frame
			// for the next ParseNext.
			trim := int(sampleNum - thisFrameSample)
			for _, subframe := range f.Subframes {
				subframe.Samples = subframe.Samples[trim:]
			}
			f.BlockSize -= uint16(trim)
			stream.cur = thisFrameSample + uint64(f.BlockSize) + uint64(trim)
			stream.pending = f
			return sampleNum, nil
		}

		switch {
		case !first && thisFrameSample == lastFrameSample:
			// The last move backwards was not big enough; double it.
			pos -= lastPos - pos
			needsSeek = true
		case sampleNum < thisFrameSample:
			lastPos = pos
			approx = int64(f.BlockSize)*int64(info.NChannels)*int64(info.BitsPerSample)/8 + 64
			pos -= approx
			needsSeek = true
		default:
			// The target lies past this frame; read on from here.
			lastPos = pos
			tell, err := stream.rs.Seek(0, io.SeekCurrent)
			if err != nil {
				return 0, errutil.Err(err)
			}
			pos = tell
			needsSeek = false
		}
		if pos < lowerBound {
			pos = lowerBound
		}
		lastFrameSample = thisFrameSample
		first = false
	}
	return 0, errutil.Newf("flake.Stream.Seek: unable to locate sample %d within %d probes", sampleNum, maxSeekProbes)
}
