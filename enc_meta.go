package flake

import (
	"encoding/binary"
	"io"
	"log"

	"github.com/icza/bitio"
	"github.com/mewkiz/flake/meta"
	"github.com/mewkiz/pkg/errutil"
)

// flacSignature marks the beginning of a FLAC stream.
var flacSignature = []byte("fLaC")

// writeMetadata writes the stream signature, the StreamInfo metadata block,
// the seek table template and the remaining metadata blocks to the output
// stream.
func (enc *Encoder) writeMetadata() error {
	if _, err := enc.w.Write(flacSignature); err != nil {
		return errutil.Err(err)
	}

	// Blocks whose body type the encoder cannot serialize are dropped
	// upfront, so that the last-block flags come out right.
	var blocks []*meta.Block
	for _, block := range enc.Blocks {
		switch block.Body.(type) {
		case *meta.Application, *meta.SeekTable, *meta.VorbisComment, *meta.CueSheet, *meta.Picture, []byte:
			blocks = append(blocks, block)
		default:
			if block.Type == meta.TypePadding {
				blocks = append(blocks, block)
				continue
			}
			log.Printf("ignoring metadata block of unknown block type %d", block.Type)
		}
	}
	nblocks := len(blocks)
	if enc.seekTable != nil {
		nblocks++
	}
	if enc.padding > 0 {
		nblocks++
	}

	// Store the StreamInfo metadata block.
	bw := bitio.NewWriter(enc.w)
	enc.infoIsLast = nblocks == 0
	infoHdr := meta.Header{
		IsLast: enc.infoIsLast,
		Type:   meta.TypeStreamInfo,
	}
	if err := writeStreamInfo(bw, infoHdr, enc.Info); err != nil {
		return errutil.Err(err)
	}
	// Flush pending writes, so that the byte count of the output stream
	// covers the StreamInfo block.
	if err := bw.Close(); err != nil {
		return errutil.Err(err)
	}

	// Store the seek table template; its points are patched in place on
	// Close.
	if enc.seekTable != nil {
		enc.seekTableOff = enc.w.n
		enc.seekTableIsLast = len(blocks) == 0 && enc.padding == 0
		hdr := meta.Header{
			IsLast: enc.seekTableIsLast,
			Type:   meta.TypeSeekTable,
		}
		if err := writeSeekTable(bw, hdr, enc.seekTable); err != nil {
			return errutil.Err(err)
		}
	}

	// Store the remaining metadata blocks.
	for i, block := range blocks {
		hdr := block.Header
		hdr.IsLast = i == len(blocks)-1 && enc.padding == 0
		var err error
		switch body := block.Body.(type) {
		case *meta.Application:
			err = writeApplication(bw, hdr, body)
		case *meta.SeekTable:
			err = writeSeekTable(bw, hdr, body)
		case *meta.VorbisComment:
			err = writeVorbisComment(bw, hdr, body)
		case *meta.CueSheet:
			err = writeCueSheet(bw, hdr, body)
		case *meta.Picture:
			err = writePicture(bw, hdr, body)
		case []byte:
			// Preserved verbatim; a block type not known to the meta package.
			err = writeRawBlock(bw, hdr, body)
		default:
			hdr.Type = meta.TypePadding
			err = writePadding(bw, hdr, int(block.Length))
		}
		if err != nil {
			return errutil.Err(err)
		}
	}

	if enc.padding > 0 {
		hdr := meta.Header{
			IsLast: true,
			Type:   meta.TypePadding,
		}
		if err := writePadding(bw, hdr, enc.padding); err != nil {
			return errutil.Err(err)
		}
	}

	// Flush pending writes.
	if err := bw.Close(); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// patchMetadata rewrites the StreamInfo metadata block and the seek table of
// the output stream in place, backfilling the statistics and seek points
// gathered during encoding.
func (enc *Encoder) patchMetadata(ws io.WriteSeeker) error {
	if _, err := ws.Seek(int64(len(flacSignature)), io.SeekStart); err != nil {
		return errutil.Err(err)
	}
	bw := bitio.NewWriter(ws)
	infoHdr := meta.Header{
		IsLast: enc.infoIsLast,
		Type:   meta.TypeStreamInfo,
	}
	if err := writeStreamInfo(bw, infoHdr, enc.Info); err != nil {
		return errutil.Err(err)
	}
	// Flush pending writes before repositioning the output stream.
	if err := bw.Close(); err != nil {
		return errutil.Err(err)
	}

	if enc.seekTable != nil {
		// Placeholder points must sort last; a point resolving to the same
		// frame as its predecessor was turned into a placeholder during
		// encoding and may sit mid-table.
		points := make([]meta.SeekPoint, 0, len(enc.seekTable.Points))
		for _, point := range enc.seekTable.Points {
			if point.SampleNum != meta.PlaceholderPoint {
				points = append(points, point)
			}
		}
		for len(points) < len(enc.seekTable.Points) {
			points = append(points, meta.SeekPoint{SampleNum: meta.PlaceholderPoint})
		}
		enc.seekTable.Points = points

		if _, err := ws.Seek(enc.seekTableOff, io.SeekStart); err != nil {
			return errutil.Err(err)
		}
		bw = bitio.NewWriter(ws)
		hdr := meta.Header{
			IsLast: enc.seekTableIsLast,
			Type:   meta.TypeSeekTable,
		}
		if err := writeSeekTable(bw, hdr, enc.seekTable); err != nil {
			return errutil.Err(err)
		}
		if err := bw.Close(); err != nil {
			return errutil.Err(err)
		}
	}

	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// writeBlockHeader writes the header of a metadata block.
func writeBlockHeader(bw bitio.Writer, hdr meta.Header) error {
	// 1 bit: IsLast.
	if err := bw.WriteBool(hdr.IsLast); err != nil {
		return errutil.Err(err)
	}

	// 7 bits: Type.
	if err := bw.WriteBits(uint64(hdr.Type), 7); err != nil {
		return errutil.Err(err)
	}

	// 24 bits: Length.
	if err := bw.WriteBits(uint64(hdr.Length), 24); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// writeStreamInfo writes the body of a StreamInfo metadata block.
func writeStreamInfo(bw bitio.Writer, hdr meta.Header, si *meta.StreamInfo) error {
	// Store metadata block header.
	const (
		BlockSizeMinBits  = 16
		BlockSizeMaxBits  = 16
		FrameSizeMinBits  = 24
		FrameSizeMaxBits  = 24
		SampleRateBits    = 20
		NChannelsBits     = 3
		BitsPerSampleBits = 5
		NSamplesBits      = 36
		MD5sumBits        = 8 * 16
	)
	nbits := int64(BlockSizeMinBits + BlockSizeMaxBits + FrameSizeMinBits +
		FrameSizeMaxBits + SampleRateBits + NChannelsBits + BitsPerSampleBits +
		NSamplesBits + MD5sumBits)
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	// 16 bits: BlockSizeMin.
	if err := bw.WriteBits(uint64(si.BlockSizeMin), 16); err != nil {
		return errutil.Err(err)
	}

	// 16 bits: BlockSizeMax.
	if err := bw.WriteBits(uint64(si.BlockSizeMax), 16); err != nil {
		return errutil.Err(err)
	}

	// 24 bits: FrameSizeMin.
	if err := bw.WriteBits(uint64(si.FrameSizeMin), 24); err != nil {
		return errutil.Err(err)
	}

	// 24 bits: FrameSizeMax.
	if err := bw.WriteBits(uint64(si.FrameSizeMax), 24); err != nil {
		return errutil.Err(err)
	}

	// 20 bits: SampleRate.
	if err := bw.WriteBits(uint64(si.SampleRate), 20); err != nil {
		return errutil.Err(err)
	}

	// 3 bits: NChannels; stored as (number of channels) - 1.
	if err := bw.WriteBits(uint64(si.NChannels-1), 3); err != nil {
		return errutil.Err(err)
	}

	// 5 bits: BitsPerSample; stored as (bits-per-sample) - 1.
	if err := bw.WriteBits(uint64(si.BitsPerSample-1), 5); err != nil {
		return errutil.Err(err)
	}

	// 36 bits: NSamples.
	if err := bw.WriteBits(si.NSamples, 36); err != nil {
		return errutil.Err(err)
	}

	// 16 bytes: MD5sum.
	if _, err := bw.Write(si.MD5sum[:]); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// writeSeekTable writes the body of a SeekTable metadata block.
func writeSeekTable(bw bitio.Writer, hdr meta.Header, table *meta.SeekTable) error {
	// Store metadata block header.
	const (
		SampleNumBits = 64
		OffsetBits    = 64
		NSamplesBits  = 16
		PointBits     = SampleNumBits + OffsetBits + NSamplesBits
	)
	nbits := int64(PointBits * len(table.Points))
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	for _, point := range table.Points {
		if err := binary.Write(bw, binary.BigEndian, point); err != nil {
			return errutil.Err(err)
		}
	}
	return nil
}

// writePadding writes the header and body of a Padding metadata block.
func writePadding(bw bitio.Writer, hdr meta.Header, n int) error {
	hdr.Length = int64(n)
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}
	for i := 0; i < n; i++ {
		if err := bw.WriteByte(0); err != nil {
			return errutil.Err(err)
		}
	}
	return nil
}

// writeRawBlock writes a metadata block whose body is preserved verbatim.
func writeRawBlock(bw bitio.Writer, hdr meta.Header, body []byte) error {
	hdr.Length = int64(len(body))
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write(body); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// writeApplication writes the body of an Application metadata block.
func writeApplication(bw bitio.Writer, hdr meta.Header, app *meta.Application) error {
	// Store metadata block header.
	const IDBits = 32
	nbits := int64(IDBits + 8*len(app.Data))
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	// 32 bits: ID.
	if err := bw.WriteBits(uint64(app.ID), 32); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write(app.Data); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// writeVorbisComment writes the body of a VorbisComment metadata block.
func writeVorbisComment(bw bitio.Writer, hdr meta.Header, comment *meta.VorbisComment) error {
	// Store metadata block header.
	const (
		VendorLenBits = 32
		NTagsBits     = 32
	)
	nbits := int64(VendorLenBits + 8*len(comment.Vendor) + NTagsBits)
	for _, tag := range comment.Tags {
		const (
			VectorLenBits = 32
			EqualBits     = 8 * 1
		)
		nbits += int64(VectorLenBits + 8*len(tag[0]) + EqualBits + 8*len(tag[1]))
	}
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	// 32 bits: vendor length.
	x := uint32(len(comment.Vendor))
	if err := binary.Write(bw, binary.LittleEndian, x); err != nil {
		return errutil.Err(err)
	}

	// (vendor length) bytes: Vendor.
	if _, err := bw.Write([]byte(comment.Vendor)); err != nil {
		return errutil.Err(err)
	}

	// 32 bits: number of tags.
	x = uint32(len(comment.Tags))
	if err := binary.Write(bw, binary.LittleEndian, x); err != nil {
		return errutil.Err(err)
	}
	for _, tag := range comment.Tags {
		// Each tag has the following format:
		//    NAME=VALUE
		buf := []byte(tag[0] + "=" + tag[1])

		// 32 bits: vector length.
		x = uint32(len(buf))
		if err := binary.Write(bw, binary.LittleEndian, x); err != nil {
			return errutil.Err(err)
		}

		// (vector length) bytes: vector.
		if _, err := bw.Write(buf); err != nil {
			return errutil.Err(err)
		}
	}
	return nil
}

// writeCueSheet writes the body of a CueSheet metadata block.
func writeCueSheet(bw bitio.Writer, hdr meta.Header, cs *meta.CueSheet) error {
	// Store metadata block header.
	const (
		MCNBits            = 8 * 128
		NLeadInSamplesBits = 64
		IsCompactDiscBits  = 1
		Reserved1Bits      = 7 + 8*258
		NTracksBits        = 8
	)
	nbits := int64(MCNBits + NLeadInSamplesBits + IsCompactDiscBits +
		Reserved1Bits + NTracksBits)
	for _, track := range cs.Tracks {
		const (
			OffsetBits         = 64
			NumBits            = 8
			ISRCBits           = 8 * 12
			IsAudioBits        = 1
			HasPreEmphasisBits = 1
			Reserved2Bits      = 6 + 8*13
			NIndiciesBits      = 8
		)
		nbits += OffsetBits + NumBits + ISRCBits + IsAudioBits + HasPreEmphasisBits + Reserved2Bits + NIndiciesBits
		for range track.Indicies {
			const (
				OffsetBits    = 64
				NumBits       = 8
				Reserved3Bits = 8 * 3
			)
			nbits += OffsetBits + NumBits + Reserved3Bits
		}
	}
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	// 128 bytes: MCN.
	mcn := make([]byte, 128)
	copy(mcn, cs.MCN)
	if _, err := bw.Write(mcn); err != nil {
		return errutil.Err(err)
	}

	// 64 bits: NLeadInSamples.
	if err := bw.WriteBits(cs.NLeadInSamples, 64); err != nil {
		return errutil.Err(err)
	}

	// 1 bit: IsCompactDisc.
	if err := bw.WriteBool(cs.IsCompactDisc); err != nil {
		return errutil.Err(err)
	}

	// 7 bits and 258 bytes: reserved.
	if err := bw.WriteBits(0, 7); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write(make([]byte, 258)); err != nil {
		return errutil.Err(err)
	}

	// 8 bits: (number of tracks).
	if err := bw.WriteBits(uint64(len(cs.Tracks)), 8); err != nil {
		return errutil.Err(err)
	}
	for _, track := range cs.Tracks {
		// 64 bits: Offset.
		if err := bw.WriteBits(track.Offset, 64); err != nil {
			return errutil.Err(err)
		}

		// 8 bits: Num.
		if err := bw.WriteBits(uint64(track.Num), 8); err != nil {
			return errutil.Err(err)
		}

		// 12 bytes: ISRC.
		isrc := make([]byte, 12)
		copy(isrc, track.ISRC)
		if _, err := bw.Write(isrc); err != nil {
			return errutil.Err(err)
		}

		// 1 bit: IsAudio; the stored bit is 0 for audio tracks.
		if err := bw.WriteBool(!track.IsAudio); err != nil {
			return errutil.Err(err)
		}

		// 1 bit: HasPreEmphasis.
		if err := bw.WriteBool(track.HasPreEmphasis); err != nil {
			return errutil.Err(err)
		}

		// 6 bits and 13 bytes: reserved.
		if err := bw.WriteBits(0, 6); err != nil {
			return errutil.Err(err)
		}
		if _, err := bw.Write(make([]byte, 13)); err != nil {
			return errutil.Err(err)
		}

		// 8 bits: (number of indicies).
		if err := bw.WriteBits(uint64(len(track.Indicies)), 8); err != nil {
			return errutil.Err(err)
		}
		for _, index := range track.Indicies {
			// 64 bits: Offset.
			if err := bw.WriteBits(index.Offset, 64); err != nil {
				return errutil.Err(err)
			}

			// 8 bits: Num.
			if err := bw.WriteBits(uint64(index.Num), 8); err != nil {
				return errutil.Err(err)
			}

			// 3 bytes: reserved.
			if _, err := bw.Write(make([]byte, 3)); err != nil {
				return errutil.Err(err)
			}
		}
	}
	return nil
}

// writePicture writes the body of a Picture metadata block.
func writePicture(bw bitio.Writer, hdr meta.Header, pic *meta.Picture) error {
	// Store metadata block header.
	const (
		TypeBits       = 32
		MIMELenBits    = 32
		DescLenBits    = 32
		WidthBits      = 32
		HeightBits     = 32
		DepthBits      = 32
		NPalColorsBits = 32
		DataLenBits    = 32
	)
	nbits := int64(TypeBits + MIMELenBits + 8*len(pic.MIME) + DescLenBits +
		8*len(pic.Desc) + WidthBits + HeightBits + DepthBits + NPalColorsBits +
		DataLenBits + 8*len(pic.Data))
	hdr.Length = nbits / 8
	if err := writeBlockHeader(bw, hdr); err != nil {
		return errutil.Err(err)
	}

	// Store metadata block body.
	// 32 bits: Type.
	if err := bw.WriteBits(uint64(pic.Type), 32); err != nil {
		return errutil.Err(err)
	}

	// 32 bits: (MIME type length), and (MIME type length) bytes: MIME.
	if err := bw.WriteBits(uint64(len(pic.MIME)), 32); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write([]byte(pic.MIME)); err != nil {
		return errutil.Err(err)
	}

	// 32 bits: (description length), and (description length) bytes: Desc.
	if err := bw.WriteBits(uint64(len(pic.Desc)), 32); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write([]byte(pic.Desc)); err != nil {
		return errutil.Err(err)
	}

	// 32 bits each: Width, Height, Depth, NPalColors.
	for _, field := range []uint32{pic.Width, pic.Height, pic.Depth, pic.NPalColors} {
		if err := bw.WriteBits(uint64(field), 32); err != nil {
			return errutil.Err(err)
		}
	}

	// 32 bits: (data length), and (data length) bytes: Data.
	if err := bw.WriteBits(uint64(len(pic.Data)), 32); err != nil {
		return errutil.Err(err)
	}
	if _, err := bw.Write(pic.Data); err != nil {
		return errutil.Err(err)
	}
	return nil
}
