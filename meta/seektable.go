package meta

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PlaceholderPoint is the sample number of a placeholder seek point; a
// reserved slot that does not refer to a frame.
const PlaceholderPoint = 0xFFFFFFFFFFFFFFFF

// SeekTable contains one or more pre-calculated audio frame seek points.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_seektable
type SeekTable struct {
	// One or more seek points.
	Points []SeekPoint
}

// A SeekPoint specifies the byte offset and initial sample number of a given
// target frame.
//
// ref: https://www.xiph.org/flac/format.html#seekpoint
type SeekPoint struct {
	// Sample number of the first sample in the target frame, or
	// PlaceholderPoint for a placeholder point.
	SampleNum uint64
	// Offset in bytes from the first byte of the first frame header to the
	// first byte of the target frame's header.
	Offset uint64
	// Number of samples in the target frame.
	NSamples uint16
}

// parseSeekTable reads and parses the body of a SeekTable metadata block.
//
// The number of seek points is derived from the header length; each seek point
// occupies 18 bytes.
func (block *Block) parseSeekTable() error {
	n := block.Length / 18
	if n < 1 || block.Length%18 != 0 {
		return errors.Errorf("meta.Block.parseSeekTable: invalid block length (%d); expected a non-zero multiple of 18", block.Length)
	}
	table := &SeekTable{Points: make([]SeekPoint, n)}
	block.Body = table
	var prev uint64
	for i := range table.Points {
		point := &table.Points[i]
		if err := binary.Read(block.lr, binary.BigEndian, point); err != nil {
			return errors.WithStack(err)
		}
		// Seek points must be sorted by ascending sample number; placeholder
		// points sort last and may repeat.
		if i > 0 && point.SampleNum != PlaceholderPoint && point.SampleNum <= prev {
			return errors.Errorf("meta.Block.parseSeekTable: seek point %d not in ascending order; sample number %d follows %d", i, point.SampleNum, prev)
		}
		if prev == PlaceholderPoint && point.SampleNum != PlaceholderPoint {
			return errors.Errorf("meta.Block.parseSeekTable: seek point %d follows a placeholder point", i)
		}
		prev = point.SampleNum
	}
	return nil
}
